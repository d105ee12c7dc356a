// Package ocr runs asynchronous text extraction for ledger documents.
//
// Start hands a document to the extraction service and records the job id.
// The service later reports a Completion, which HandleCompletion correlates back
// to the document through the durable job join.
package ocr

import (
	"context"
	"fmt"

	"github.com/hyperjump/compliagent/internal/models"
)

// JobStatus is the terminal status reported by the extraction service.
type JobStatus string

const (
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// Error codes stored on failed ledger records.
const (
	CodeStartFailed       = "START_FAILED"
	CodeJobFailed         = "OCR_FAILED"
	CodeResultUnavailable = "RESULT_UNAVAILABLE"
)

// Completion is the job-completion notification.
type Completion struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Validate checks a completion received from outside the process.
func (c Completion) Validate() error {
	if c.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if c.Status != JobSucceeded && c.Status != JobFailed {
		return fmt.Errorf("status must be %s or %s", JobSucceeded, JobFailed)
	}
	return nil
}

// Result is the output of a finished job.
type Result struct {
	Engine   string
	Segments []models.Segment
}

// Service is an asynchronous extraction service.
type Service interface {
	// StartJob submits the object for extraction and returns immediately with a job id.
	StartJob(ctx context.Context, loc models.ObjectRef) (string, error)
	// GetResult returns the output of a succeeded job.
	GetResult(ctx context.Context, jobID string) (*Result, error)
}

// ContentKey is the processed-bucket key of a document's extracted content.
func ContentKey(documentID string) string {
	return "extracted/" + documentID + ".json"
}
