// Package storage defines the durable stores shared by the pipeline stages and the workflows.
// Every write that coordinates concurrent handlers is conditional: unique keys, insert-if-absent,
// or compare-and-swap on the current status.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

// DocumentFields are the optional attributes written alongside a status change.
type DocumentFields struct {
	ErrorCode    string
	ErrorMessage string
	Title        string
}

// DocumentStore is the persistence behind the document ledger.
type DocumentStore interface {
	// InsertDocumentIfAbsent creates rec unless a record with the same source URL exists.
	// It reports whether this call created the record.
	InsertDocumentIfAbsent(ctx context.Context, rec *models.DocumentRecord) (bool, error)
	GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error)
	GetDocumentByURL(ctx context.Context, sourceURL string) (*models.DocumentRecord, error)
	// CompareAndSetStatus moves the record from one status to another only if it is still in from.
	CompareAndSetStatus(ctx context.Context, id string, from, to models.DocumentStatus, fields DocumentFields) (bool, error)
	// SetOCRJobID records the extraction job on a document without changing its status.
	SetOCRJobID(ctx context.Context, id, jobID string) error
	ListDocuments(ctx context.Context, status models.DocumentStatus, offset, limit int) ([]*models.DocumentRecord, error)
	// DocumentHistory returns the status sequence the record went through, oldest first.
	DocumentHistory(ctx context.Context, id string) ([]models.DocumentStatus, error)
	CountDocuments(ctx context.Context) (map[models.DocumentStatus]int64, error)
}

// OCRJob joins an asynchronous extraction job back to its document.
type OCRJob struct {
	JobID       string
	DocumentID  string
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// OCR job states.
const (
	JobPending   = "pending"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStore holds the durable job-to-document join.
type JobStore interface {
	CreateOCRJob(ctx context.Context, jobID, documentID string) error
	GetOCRJob(ctx context.Context, jobID string) (*OCRJob, error)
	// FinishOCRJob moves a pending job to status. It reports false if the job was already finished.
	FinishOCRJob(ctx context.Context, jobID, status string) (bool, error)
}

// ContentStore holds extracted segments.
type ContentStore interface {
	// SaveSegments inserts segments that do not exist yet and returns how many were new.
	SaveSegments(ctx context.Context, content *models.ExtractedContent) (int, error)
	GetSegments(ctx context.Context, documentID string) ([]models.Segment, error)
}

// VectorStore holds embedded chunks keyed by document and chunk index.
type VectorStore interface {
	// UpsertVectors overwrites the chunks of documentID and drops stale chunks past the new count.
	UpsertVectors(ctx context.Context, documentID string, records []*models.VectorRecord) error
	GetVector(ctx context.Context, documentID string, chunkIndex int) (*models.VectorRecord, error)
	ListVectors(ctx context.Context, offset, limit int) ([]*models.VectorRecord, error)
	CountVectors(ctx context.Context) (int64, error)
}

// GapStore holds gap records.
type GapStore interface {
	// InsertGapIfAbsent reports whether the gap was new.
	InsertGapIfAbsent(ctx context.Context, gap *models.GapRecord) (bool, error)
	GetGap(ctx context.Context, id string) (*models.GapRecord, error)
	ListGaps(ctx context.Context, f models.GapFilter) ([]*models.GapRecord, error)
	// AdvanceGapStatus moves a gap from one status to the next, stamping who did it.
	AdvanceGapStatus(ctx context.Context, id string, from, to models.GapStatus, by, notes string) (bool, error)
}

// AmendmentStore holds amendment records.
type AmendmentStore interface {
	InsertAmendmentIfAbsent(ctx context.Context, a *models.AmendmentRecord) (bool, error)
	GetAmendment(ctx context.Context, id string) (*models.AmendmentRecord, error)
	ListAmendments(ctx context.Context, f models.AmendmentFilter) ([]*models.AmendmentRecord, error)
	AdvanceAmendmentStatus(ctx context.Context, id string, from, to models.AmendmentStatus, by, notes string) (bool, error)
	// CountAmendmentsForGap counts the drafting attempts already persisted for gapID.
	CountAmendmentsForGap(ctx context.Context, gapID string) (int, error)
}

// ExecutionStore holds workflow executions and their step logs.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListExecutions(ctx context.Context, kind models.WorkflowKind, status models.ExecutionStatus, limit int) ([]*models.WorkflowExecution, error)
	// SetExecutionState records the current state of a running execution.
	SetExecutionState(ctx context.Context, id, state string) error
	AppendStep(ctx context.Context, id string, step models.StepEntry) error
	// FinishExecution sets a terminal status once. It reports false if the execution was already terminal.
	FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, output []byte, execErr *models.ExecutionError) (bool, error)
}

// Storage is the full set of stores backed by one database.
type Storage interface {
	DocumentStore
	JobStore
	ContentStore
	VectorStore
	GapStore
	AmendmentStore
	ExecutionStore
	Close() error
}
