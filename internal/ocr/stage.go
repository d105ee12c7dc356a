package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/extract"
	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/ledger"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/objectstore"
	"github.com/hyperjump/compliagent/internal/retry"
	"github.com/hyperjump/compliagent/internal/storage"
)

// ObjectWriter stores extracted content. Writing emits the object-created event that
// drives vectorization.
type ObjectWriter interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// Store is the persistence the stage needs.
type Store interface {
	storage.JobStore
	storage.ContentStore
}

// Stage starts extraction jobs and correlates their completions.
type Stage struct {
	ledger  *ledger.Ledger
	store   Store
	service Service
	objects ObjectWriter
	policy  retry.Policy
	logger  *zap.Logger
}

// StageOption configures a Stage.
type StageOption func(*Stage)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) StageOption {
	return func(s *Stage) { s.logger = l }
}

// WithRetryPolicy bounds retries of calls to the extraction service.
func WithRetryPolicy(p retry.Policy) StageOption {
	return func(s *Stage) { s.policy = p }
}

// NewStage creates the OCR stage.
func NewStage(l *ledger.Ledger, store Store, service Service, objects ObjectWriter, opts ...StageOption) *Stage {
	s := &Stage{
		ledger:  l,
		store:   store,
		service: service,
		objects: objects,
		policy:  retry.DefaultPolicy(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start claims a Discovered or Failed document and submits it for extraction. It does not
// wait for the job. A document already claimed by another caller yields an
// InvalidTransition error.
func (s *Stage) Start(ctx context.Context, documentID string) error {
	doc, err := s.ledger.Advance(ctx, documentID, models.StatusExtracting,
		ledger.From(models.StatusDiscovered, models.StatusFailed))
	if err != nil {
		return err
	}

	var jobID string
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		id, err := s.service.StartJob(ctx, models.ObjectRef{Bucket: doc.Bucket, Key: doc.ObjectKey})
		if err != nil {
			return err
		}
		jobID = id
		return nil
	}, s.retryLog("start ocr job", documentID))
	if err != nil {
		s.logger.Error("failed to start ocr job", zap.String("document_id", documentID), zap.Error(err))
		s.fail(ctx, documentID, CodeStartFailed, err.Error())
		return fmt.Errorf("failed to start ocr job: %w", err)
	}

	// The job id lands on the ledger before the join exists, so a completion can never
	// overtake it.
	if err := s.ledger.RecordJob(ctx, documentID, jobID); err != nil {
		s.fail(ctx, documentID, CodeStartFailed, err.Error())
		return err
	}
	if err := s.store.CreateOCRJob(ctx, jobID, documentID); err != nil {
		s.fail(ctx, documentID, CodeStartFailed, err.Error())
		return err
	}
	s.logger.Info("ocr job started", zap.String("document_id", documentID), zap.String("job_id", jobID))
	return nil
}

// HandleCompletion correlates a completion back to its document. Unknown or already
// finished jobs, and documents no longer waiting on the job, are ignored so that
// redelivered notifications are harmless.
func (s *Stage) HandleCompletion(ctx context.Context, c Completion) error {
	if err := c.Validate(); err != nil {
		return fault.Unclassified("ocr completion", err)
	}
	job, err := s.store.GetOCRJob(ctx, c.JobID)
	if err != nil {
		if fault.IsNotFound(err) {
			s.logger.Debug("completion for unknown job ignored", zap.String("job_id", c.JobID))
			return nil
		}
		return err
	}
	if job.Status != storage.JobPending {
		s.logger.Debug("completion for finished job ignored", zap.String("job_id", c.JobID), zap.String("status", job.Status))
		return nil
	}
	doc, err := s.ledger.Get(ctx, job.DocumentID)
	if err != nil {
		return err
	}

	if c.Status == JobFailed {
		return s.handleFailed(ctx, doc, c)
	}

	var content *models.ExtractedContent
	switch doc.Status {
	case models.StatusExtracting:
		result, err := s.fetchResult(ctx, c.JobID)
		if err != nil {
			s.logger.Error("ocr result unavailable", zap.String("job_id", c.JobID), zap.Error(err))
			s.fail(ctx, doc.ID, CodeResultUnavailable, err.Error())
			_, ferr := s.store.FinishOCRJob(ctx, c.JobID, storage.JobFailed)
			return ferr
		}
		content = s.content(doc, c.JobID, result.Engine, result.Segments)
		if _, err := s.store.SaveSegments(ctx, content); err != nil {
			return fmt.Errorf("failed to save segments: %w", err)
		}
		doc, err = s.ledger.Advance(ctx, doc.ID, models.StatusExtracted,
			ledger.From(models.StatusExtracting), ledger.WithTitle(content.Title))
		if err != nil {
			if fault.IsInvalidTransition(err) {
				s.logger.Debug("completion lost race", zap.String("job_id", c.JobID))
				return nil
			}
			return err
		}
	case models.StatusExtracted:
		// Advanced by an earlier delivery that did not get to publish the content.
		segments, err := s.store.GetSegments(ctx, doc.ID)
		if err != nil {
			return err
		}
		content = s.content(doc, c.JobID, "", segments)
	default:
		s.logger.Debug("completion ignored, document not extracting",
			zap.String("document_id", doc.ID), zap.String("status", string(doc.Status)))
		return nil
	}

	if err := s.publishContent(ctx, content); err != nil {
		return err
	}
	if _, err := s.store.FinishOCRJob(ctx, c.JobID, storage.JobCompleted); err != nil {
		return err
	}
	s.logger.Info("document extracted", zap.String("document_id", doc.ID), zap.Int("segments", len(content.Segments)))
	return nil
}

func (s *Stage) handleFailed(ctx context.Context, doc *models.DocumentRecord, c Completion) error {
	code := c.ErrorCode
	if code == "" {
		code = CodeJobFailed
	}
	_, err := s.ledger.Advance(ctx, doc.ID, models.StatusFailed,
		ledger.From(models.StatusExtracting), ledger.WithError(code, c.Message))
	if err != nil && !fault.IsInvalidTransition(err) {
		return err
	}
	if _, err := s.store.FinishOCRJob(ctx, c.JobID, storage.JobFailed); err != nil {
		return err
	}
	s.logger.Warn("ocr job failed", zap.String("document_id", doc.ID), zap.String("job_id", c.JobID), zap.String("code", code))
	return nil
}

func (s *Stage) fetchResult(ctx context.Context, jobID string) (*Result, error) {
	var result *Result
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		r, err := s.service.GetResult(ctx, jobID)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, s.retryLog("get ocr result", jobID))
	return result, err
}

func (s *Stage) content(doc *models.DocumentRecord, jobID, engine string, segments []models.Segment) *models.ExtractedContent {
	title := doc.Title
	if title == "" {
		title = extract.Title(segments)
	}
	return &models.ExtractedContent{
		DocumentID:  doc.ID,
		SourceURL:   doc.SourceURL,
		Title:       title,
		Type:        doc.Type,
		JobID:       jobID,
		Engine:      engine,
		Segments:    segments,
		ExtractedAt: time.Now().UTC(),
	}
}

func (s *Stage) publishContent(ctx context.Context, content *models.ExtractedContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted content: %w", err)
	}
	if err := s.objects.Put(ctx, objectstore.BucketProcessed, ContentKey(content.DocumentID), data); err != nil {
		return fmt.Errorf("failed to write extracted content: %w", err)
	}
	return nil
}

func (s *Stage) fail(ctx context.Context, documentID, code, message string) {
	if _, err := s.ledger.Advance(ctx, documentID, models.StatusFailed, ledger.WithError(code, message)); err != nil {
		s.logger.Error("failed to mark document failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

func (s *Stage) retryLog(op, id string) retry.Notify {
	return func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("retrying "+op, zap.String("id", id), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
}
