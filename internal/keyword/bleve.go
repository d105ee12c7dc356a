package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/compliagent/internal/models"
)

const pageSize = 500

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ KeywordIndex = (*BleveIndex)(nil)

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer without stemming so regulation names match as written.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("title", text)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	doc.AddFieldMappingsAt("documentId", exact)
	doc.AddFieldMappingsAt("regulationId", exact)
	doc.AddFieldMappingsAt("documentType", exact)

	im.AddDocumentMapping("chunk", doc)
	im.DefaultType = "chunk"
	im.DefaultMapping = doc
	return im
}

// NewBleveIndex opens the index at path, creating it if it does not exist.
// An empty path creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func chunkFields(r *models.VectorRecord) map[string]interface{} {
	return map[string]interface{}{
		"documentId":   r.DocumentID,
		"regulationId": r.RegulationID,
		"documentType": string(r.Type),
		"title":        r.Title,
		"content":      r.Text,
	}
}

// ReplaceDocument indexes records and removes chunks of documentID that are no longer present,
// in a single batch.
func (b *BleveIndex) ReplaceDocument(ctx context.Context, documentID string, records []*models.VectorRecord) error {
	existing, err := b.documentChunks(documentID)
	if err != nil {
		return err
	}
	batch := b.index.NewBatch()
	keep := make(map[string]bool, len(records))
	for _, r := range records {
		if r.DocumentID != documentID {
			return fmt.Errorf("chunk %d belongs to %s, not %s", r.ChunkIndex, r.DocumentID, documentID)
		}
		key := r.Key()
		keep[key] = true
		if err := batch.Index(key, chunkFields(r)); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", key, err)
		}
	}
	for _, id := range existing {
		if !keep[id] {
			batch.Delete(id)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to write Bleve batch: %w", err)
	}
	return nil
}

// DeleteDocument removes every chunk of documentID.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	return b.ReplaceDocument(ctx, documentID, nil)
}

func (b *BleveIndex) documentChunks(documentID string) ([]string, error) {
	q := bleve.NewTermQuery(documentID)
	q.SetField("documentId")
	var ids []string
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequestOptions(q, pageSize, from, false)
		res, err := b.index.Search(req)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks of %s: %w", documentID, err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < pageSize {
			return ids, nil
		}
	}
}

// Search runs a match query over title and content and returns up to limit chunk hits.
// With Fuzziness set, terms within that edit distance also match.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	req := bleve.NewSearchRequest(buildQuery(query, opts))
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func buildQuery(query string, opts *SearchOptions) blevequery.Query {
	content := bleve.NewMatchQuery(query)
	content.SetField("content")
	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	if opts.Fuzziness > 0 {
		content.SetFuzziness(opts.Fuzziness)
		title.SetFuzziness(opts.Fuzziness)
	}
	if opts.TitleBoost > 1 {
		title.SetBoost(opts.TitleBoost)
	}
	var q blevequery.Query = bleve.NewDisjunctionQuery(content, title)

	var filters []blevequery.Query
	if opts.RegulationID != "" {
		t := bleve.NewTermQuery(opts.RegulationID)
		t.SetField("regulationId")
		filters = append(filters, t)
	}
	if opts.DocumentType != "" {
		t := bleve.NewTermQuery(string(opts.DocumentType))
		t.SetField("documentType")
		filters = append(filters, t)
	}
	if len(filters) > 0 {
		q = bleve.NewConjunctionQuery(append([]blevequery.Query{q}, filters...)...)
	}
	return q
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
