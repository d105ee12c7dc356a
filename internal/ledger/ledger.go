// Package ledger tracks every ingested document and enforces its status transitions.
package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/ids"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/storage"
)

// maxCASAttempts bounds how often Advance re-reads after losing a compare-and-swap.
const maxCASAttempts = 5

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to models.DocumentStatus) bool {
	switch {
	case to == models.StatusFailed:
		return from != models.StatusFailed && from.Valid()
	case from == models.StatusFailed:
		return to == models.StatusExtracting
	case from == models.StatusVectorized && to == models.StatusVectorized:
		return true
	default:
		return from.Rank() >= 0 && to.Rank() == from.Rank()+1
	}
}

// Ledger is the document ledger.
type Ledger struct {
	store    storage.DocumentStore
	logger   *zap.Logger
	observer func(*models.DocumentRecord)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Ledger) { ld.logger = l }
}

// WithObserver registers a callback invoked after every committed transition.
func WithObserver(fn func(*models.DocumentRecord)) Option {
	return func(ld *Ledger) { ld.observer = fn }
}

// New creates a ledger over store.
func New(store storage.DocumentStore, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// UpsertDiscovered records sourceURL as Discovered unless it is already known.
// It returns the stored record and whether this call created it.
func (l *Ledger) UpsertDiscovered(ctx context.Context, sourceURL string, ref models.ObjectRef, docType models.DocumentType) (*models.DocumentRecord, bool, error) {
	rec := &models.DocumentRecord{
		ID:        ids.DocumentID(sourceURL),
		SourceURL: sourceURL,
		Bucket:    ref.Bucket,
		ObjectKey: ref.Key,
		Type:      docType,
		Status:    models.StatusDiscovered,
	}
	created, err := l.store.InsertDocumentIfAbsent(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record discovered document: %w", err)
	}
	stored, err := l.store.GetDocumentByURL(ctx, sourceURL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read back document: %w", err)
	}
	if created {
		l.logger.Debug("document discovered", zap.String("document_id", stored.ID), zap.String("source_url", sourceURL))
		l.notify(stored)
	}
	return stored, created, nil
}

type advanceOptions struct {
	from   []models.DocumentStatus
	fields storage.DocumentFields
}

// AdvanceOption adjusts a single Advance call.
type AdvanceOption func(*advanceOptions)

// From requires the record to currently hold one of statuses.
func From(statuses ...models.DocumentStatus) AdvanceOption {
	return func(o *advanceOptions) { o.from = statuses }
}

// WithError stores an error code and message, used with Failed.
func WithError(code, message string) AdvanceOption {
	return func(o *advanceOptions) {
		o.fields.ErrorCode = code
		o.fields.ErrorMessage = message
	}
}

// WithTitle stores the document title.
func WithTitle(title string) AdvanceOption {
	return func(o *advanceOptions) { o.fields.Title = title }
}

// RecordJob stores the extraction job that is working on an Extracting document.
// Any other status returns a fault.KindInvalidTransition error.
func (l *Ledger) RecordJob(ctx context.Context, documentID, jobID string) error {
	rec, err := l.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusExtracting {
		return fault.InvalidTransition("record job", "document %s is %s, not %s", documentID, rec.Status, models.StatusExtracting)
	}
	if err := l.store.SetOCRJobID(ctx, documentID, jobID); err != nil {
		return fmt.Errorf("failed to record job for %s: %w", documentID, err)
	}
	return nil
}

// Advance moves a record to status to. The update is a compare-and-swap on the current status;
// when a concurrent writer wins, the record is re-read and the edge re-validated.
// A disallowed edge returns a fault.KindInvalidTransition error.
func (l *Ledger) Advance(ctx context.Context, documentID string, to models.DocumentStatus, opts ...AdvanceOption) (*models.DocumentRecord, error) {
	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := l.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if len(o.from) > 0 && !contains(o.from, cur.Status) {
			return nil, fault.InvalidTransition("ledger advance", "document %s is %s, expected one of %v", documentID, cur.Status, o.from)
		}
		if !CanTransition(cur.Status, to) {
			return nil, fault.InvalidTransition("ledger advance", "document %s cannot move from %s to %s", documentID, cur.Status, to)
		}
		ok, err := l.store.CompareAndSetStatus(ctx, documentID, cur.Status, to, o.fields)
		if err != nil {
			return nil, fmt.Errorf("failed to advance document: %w", err)
		}
		if !ok {
			l.logger.Debug("ledger compare-and-swap lost, retrying",
				zap.String("document_id", documentID), zap.String("from", string(cur.Status)), zap.String("to", string(to)))
			continue
		}
		updated, err := l.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		l.logger.Info("document status changed",
			zap.String("document_id", documentID), zap.String("from", string(cur.Status)), zap.String("to", string(to)))
		l.notify(updated)
		return updated, nil
	}
	return nil, fault.InvalidTransition("ledger advance", "document %s: too much contention moving to %s", documentID, to)
}

// Get returns a record by id.
func (l *Ledger) Get(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	return l.store.GetDocument(ctx, documentID)
}

// LookupByURL returns the record for sourceURL or a fault.KindNotFound error.
func (l *Ledger) LookupByURL(ctx context.Context, sourceURL string) (*models.DocumentRecord, error) {
	return l.store.GetDocumentByURL(ctx, sourceURL)
}

// List returns records, optionally filtered by status.
func (l *Ledger) List(ctx context.Context, status models.DocumentStatus, offset, limit int) ([]*models.DocumentRecord, error) {
	return l.store.ListDocuments(ctx, status, offset, limit)
}

// History returns the statuses a record has held, oldest first.
func (l *Ledger) History(ctx context.Context, documentID string) ([]models.DocumentStatus, error) {
	return l.store.DocumentHistory(ctx, documentID)
}

// Counts returns record counts per status.
func (l *Ledger) Counts(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	return l.store.CountDocuments(ctx)
}

func (l *Ledger) notify(rec *models.DocumentRecord) {
	if l.observer != nil {
		l.observer(rec)
	}
}

func contains(list []models.DocumentStatus, s models.DocumentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
