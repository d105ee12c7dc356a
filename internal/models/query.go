package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SearchType selects how the vector index is queried.
type SearchType string

const (
	SearchVector SearchType = "vector"
	SearchText   SearchType = "text"
	SearchHybrid SearchType = "hybrid"
)

// ChunkKey is the index key for a document chunk.
func ChunkKey(documentID string, chunkIndex int) string {
	return documentID + "#" + strconv.Itoa(chunkIndex)
}

// ParseChunkKey splits a key produced by ChunkKey.
func ParseChunkKey(key string) (string, int, error) {
	i := strings.LastIndex(key, "#")
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid chunk key: %s", key)
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid chunk key: %s", key)
	}
	return key[:i], n, nil
}

// SearchQuery is a similarity query over the vector index.
type SearchQuery struct {
	Text         string       `json:"queryText"`
	Type         SearchType   `json:"searchType,omitempty"`
	Size         int          `json:"size,omitempty"`
	RegulationID string       `json:"regulationId,omitempty"`
	DocumentType DocumentType `json:"documentType,omitempty"`
	MinScore     float64      `json:"minScore,omitempty"`
}

// Validate normalizes the query. maxSize caps Size; defaultSize applies when Size is unset.
func (q *SearchQuery) Validate(defaultSize, maxSize int) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("queryText cannot be empty")
	}
	switch q.Type {
	case "":
		q.Type = SearchHybrid
	case SearchVector, SearchText, SearchHybrid:
	default:
		return fmt.Errorf("unsupported searchType: %s", q.Type)
	}
	if q.Size <= 0 {
		q.Size = defaultSize
	}
	if maxSize > 0 && q.Size > maxSize {
		q.Size = maxSize
	}
	return nil
}

// SearchHit is one retrieved chunk with its scores.
type SearchHit struct {
	Record      *VectorRecord `json:"record"`
	Score       float64       `json:"score"`
	VectorScore float64       `json:"vectorScore,omitempty"`
	TextScore   float64       `json:"textScore,omitempty"`
}

// SearchResponse is the ranked result of a SearchQuery.
type SearchResponse struct {
	Query  string       `json:"queryText"`
	Type   SearchType   `json:"searchType"`
	Total  int          `json:"totalResults"`
	Hits   []*SearchHit `json:"documents"`
	TookMs int64        `json:"tookMs"`
	At     time.Time    `json:"timestamp"`
}
