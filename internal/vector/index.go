// Package vector provides the in-process similarity index over embedded chunks.
package vector

import (
	"context"

	"github.com/hyperjump/compliagent/internal/models"
)

// Entry is one embedded chunk together with the metadata searches can filter on.
type Entry struct {
	ID           string
	DocumentID   string
	RegulationID string
	Type         models.DocumentType
	Vector       []float32
}

// EntryFromRecord builds the index entry for a stored chunk.
func EntryFromRecord(r *models.VectorRecord) Entry {
	return Entry{
		ID:           r.Key(),
		DocumentID:   r.DocumentID,
		RegulationID: r.RegulationID,
		Type:         r.Type,
		Vector:       r.Embedding,
	}
}

// Filter narrows a search. Zero fields match everything.
type Filter struct {
	RegulationID string
	DocumentType models.DocumentType
}

func (f Filter) match(e *Entry) bool {
	if f.RegulationID != "" && e.RegulationID != f.RegulationID {
		return false
	}
	if f.DocumentType != "" && e.Type != f.DocumentType {
		return false
	}
	return true
}

// VectorIndex stores vectors by key with last-write-wins upserts.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []Entry) error
	// ReplaceDocument swaps every entry of documentID for entries in one step.
	ReplaceDocument(ctx context.Context, documentID string, entries []Entry) error
	Search(ctx context.Context, query []float32, k int, f Filter) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	// Reset drops every entry.
	Reset()
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single search hit. ID is the chunk key.
type VectorResult struct {
	ID         string
	DocumentID string
	Score      float64 // inner product; cosine similarity for normalized vectors
}
