// Package search runs vector, text and hybrid queries over the embedded chunk corpus.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/internal/embedding"
	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/keyword"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/storage"
	"github.com/hyperjump/compliagent/internal/vector"
)

// Engine answers similarity queries. The keyword index is optional; without it text and
// hybrid queries fail.
type Engine struct {
	store        storage.VectorStore
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	config       config.SearchConfig
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithKeywordIndex enables text and hybrid queries.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Engine) { e.keywordIndex = k }
}

// NewEngine creates a search engine.
func NewEngine(store storage.VectorStore, embedder embedding.Embedder, vectorIndex vector.VectorIndex, cfg config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		config:      cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// VectorIndexSize returns the number of chunks in the vector index.
func (e *Engine) VectorIndexSize() int {
	return e.vectorIndex.Size()
}

// Search validates q and runs it. Vector hits below the minimum score are dropped: q.MinScore
// when set, otherwise the configured minimum for the search type.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(e.config.DefaultSize, e.config.MaxSize); err != nil {
		return nil, err
	}
	if q.Type != models.SearchVector && e.keywordIndex == nil {
		return nil, fmt.Errorf("%s search requires a keyword index", q.Type)
	}

	var (
		vectorResults []*vector.VectorResult
		textResults   []*keyword.KeywordResult
		errChan       = make(chan error, 2)
		wg            sync.WaitGroup
	)
	if q.Type != models.SearchText {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.vectorSearch(ctx, q)
			if err != nil {
				errChan <- err
				return
			}
			vectorResults = results
		}()
	}
	if q.Type != models.SearchVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.keywordIndex.Search(ctx, q.Text, q.Size, &keyword.SearchOptions{
				Fuzziness:    e.config.Fuzziness,
				RegulationID: q.RegulationID,
				DocumentType: q.DocumentType,
			})
			if err != nil {
				errChan <- fmt.Errorf("text search failed: %w", err)
				return
			}
			textResults = results
		}()
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	var fused []*FusedResult
	switch q.Type {
	case models.SearchVector:
		fused = Fuse(VectorScores(vectorResults, e.minScore(q, e.config.MinVectorScore)), nil, Weights{Vector: 1})
	case models.SearchText:
		fused = Fuse(nil, TextScores(textResults), Weights{Text: 1})
	default:
		fused = Fuse(VectorScores(vectorResults, e.minScore(q, e.config.MinHybridScore)), TextScores(textResults), Weights{
			Vector:    e.config.VectorWeight,
			Text:      e.config.TextWeight,
			TextScale: e.config.TextScoreScale,
		})
	}
	if len(fused) > q.Size {
		fused = fused[:q.Size]
	}

	hits := make([]*models.SearchHit, 0, len(fused))
	for _, f := range fused {
		rec, err := e.record(ctx, f.ID)
		if err != nil {
			if fault.IsNotFound(err) {
				e.logger.Debug("search hit without stored chunk", zap.String("id", f.ID))
				continue
			}
			return nil, err
		}
		hits = append(hits, &models.SearchHit{Record: rec, Score: f.Score, VectorScore: f.VectorScore, TextScore: f.TextScore})
	}
	e.logger.Debug("search done", zap.String("query", q.Text), zap.String("type", string(q.Type)),
		zap.Int("hits", len(hits)), zap.Duration("took", time.Since(start)))
	return &models.SearchResponse{
		Query:  q.Text,
		Type:   q.Type,
		Total:  len(hits),
		Hits:   hits,
		TookMs: time.Since(start).Milliseconds(),
		At:     time.Now().UTC(),
	}, nil
}

func (e *Engine) vectorSearch(ctx context.Context, q *models.SearchQuery) ([]*vector.VectorResult, error) {
	emb, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	results, err := e.vectorIndex.Search(ctx, emb, q.Size, vector.Filter{RegulationID: q.RegulationID, DocumentType: q.DocumentType})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}

func (e *Engine) minScore(q *models.SearchQuery, fallback float64) float64 {
	if q.MinScore > 0 {
		return q.MinScore
	}
	return fallback
}

func (e *Engine) record(ctx context.Context, key string) (*models.VectorRecord, error) {
	docID, idx, err := models.ParseChunkKey(key)
	if err != nil {
		return nil, fault.NotFound("search", "%v", err)
	}
	return e.store.GetVector(ctx, docID, idx)
}
