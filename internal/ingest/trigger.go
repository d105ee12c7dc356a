// Package ingest reacts to new raw documents by recording them in the ledger and starting extraction.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/ledger"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/watcher"
)

// Starter starts extraction for a ledger document.
type Starter interface {
	Start(ctx context.Context, documentID string) error
}

// Trigger handles object-created events for the raw bucket.
type Trigger struct {
	bucket         string
	suffixes       []string
	policyPrefixes []string
	ledger         *ledger.Ledger
	starter        Starter
	logger         *zap.Logger
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trigger) { t.logger = l }
}

// WithPolicyPrefixes marks keys under these prefixes as internal policies.
func WithPolicyPrefixes(prefixes ...string) Option {
	return func(t *Trigger) { t.policyPrefixes = prefixes }
}

// NewTrigger creates a trigger for bucket accepting keys that end with one of suffixes.
func NewTrigger(bucket string, suffixes []string, l *ledger.Ledger, starter Starter, opts ...Option) *Trigger {
	t := &Trigger{
		bucket:   bucket,
		suffixes: suffixes,
		ledger:   l,
		starter:  starter,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SourceURL is the stable source identifier of an object.
func SourceURL(bucket, key string) string {
	return "object://" + bucket + "/" + key
}

// DocumentType classifies a key as policy or regulation.
func (t *Trigger) DocumentType(key string) models.DocumentType {
	for _, p := range t.policyPrefixes {
		if p != "" && strings.HasPrefix(key, p) {
			return models.DocumentTypePolicy
		}
	}
	return models.DocumentTypeRegulation
}

// Handle records the object and starts extraction. Events for other buckets or unsupported
// suffixes are ignored. Ledger errors are returned so the event can be redelivered.
func (t *Trigger) Handle(ctx context.Context, ev models.ObjectCreated) error {
	if ev.Bucket != t.bucket {
		return nil
	}
	if !watcher.MatchSuffix(ev.ObjectKey, t.suffixes) {
		t.logger.Debug("ignoring object with unsupported suffix", zap.String("key", ev.ObjectKey))
		return nil
	}

	url := SourceURL(ev.Bucket, ev.ObjectKey)
	rec, created, err := t.ledger.UpsertDiscovered(ctx, url, ev.Ref(), t.DocumentType(ev.ObjectKey))
	if err != nil {
		return err
	}
	switch {
	case created, rec.Status == models.StatusDiscovered:
	case rec.Status == models.StatusFailed:
		t.logger.Info("re-triggering failed document", zap.String("document_id", rec.ID))
	default:
		t.logger.Debug("document already in progress",
			zap.String("document_id", rec.ID), zap.String("status", string(rec.Status)))
		return nil
	}

	if err := t.starter.Start(ctx, rec.ID); err != nil {
		if fault.IsInvalidTransition(err) {
			// Another delivery claimed it first.
			return nil
		}
		return fmt.Errorf("failed to start extraction for %s: %w", rec.ID, err)
	}
	return nil
}
