// Package models defines the records that flow through the ingestion pipeline and the analysis workflows.
package models

import "time"

// DocumentStatus is the processing status of a ledger entry.
type DocumentStatus string

const (
	StatusDiscovered DocumentStatus = "Discovered"
	StatusExtracting DocumentStatus = "Extracting"
	StatusExtracted  DocumentStatus = "Extracted"
	StatusVectorized DocumentStatus = "Vectorized"
	StatusFailed     DocumentStatus = "Failed"
)

// Rank orders the forward statuses. Failed sits outside the order and returns -1.
func (s DocumentStatus) Rank() int {
	switch s {
	case StatusDiscovered:
		return 0
	case StatusExtracting:
		return 1
	case StatusExtracted:
		return 2
	case StatusVectorized:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	return s == StatusFailed || s.Rank() >= 0
}

// DocumentType separates regulatory sources from internal policies.
type DocumentType string

const (
	DocumentTypeRegulation DocumentType = "regulation"
	DocumentTypePolicy     DocumentType = "policy"
)

// DocumentRecord is the ledger entry for one ingested source.
type DocumentRecord struct {
	ID           string         `json:"documentId"`
	SourceURL    string         `json:"sourceUrl"`
	Bucket       string         `json:"bucket"`
	ObjectKey    string         `json:"objectKey"`
	Title        string         `json:"title,omitempty"`
	Type         DocumentType   `json:"documentType"`
	Status       DocumentStatus `json:"status"`
	OCRJobID     string         `json:"ocrJobId,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastUpdated  time.Time      `json:"lastUpdated"`
}

// ObjectRef locates an object inside a bucket.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"objectKey"`
}

// ObjectCreated is the event emitted when an object lands in a bucket.
type ObjectCreated struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"objectKey"`
}

// Ref returns the object location carried by the event.
func (e ObjectCreated) Ref() ObjectRef {
	return ObjectRef{Bucket: e.Bucket, Key: e.ObjectKey}
}
