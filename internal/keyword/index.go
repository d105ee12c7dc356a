// Package keyword provides full-text search over document chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/compliagent/internal/models"
)

// SearchOptions narrows and tunes a keyword search. Nil means defaults.
type SearchOptions struct {
	// Fuzziness is the maximum edit distance a query term may be from an indexed term (0 disables).
	Fuzziness int
	// TitleBoost multiplies matches in the title field. Values <= 1 leave them unboosted.
	TitleBoost   float64
	RegulationID string
	DocumentType models.DocumentType
}

// KeywordIndex indexes chunk text and runs text queries over it.
type KeywordIndex interface {
	// ReplaceDocument swaps every indexed chunk of documentID for records.
	ReplaceDocument(ctx context.Context, documentID string, records []*models.VectorRecord) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is the chunk key.
type KeywordResult struct {
	ID    string
	Score float64
}
