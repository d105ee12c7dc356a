// Package vectorize turns extracted content into embedded, searchable chunks.
package vectorize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/embedding"
	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/keyword"
	"github.com/hyperjump/compliagent/internal/ledger"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/objectstore"
	"github.com/hyperjump/compliagent/internal/retry"
	"github.com/hyperjump/compliagent/internal/storage"
	"github.com/hyperjump/compliagent/internal/vector"
)

// Error codes stored on failed ledger records.
const (
	CodeEmptyContent    = "EMPTY_CONTENT"
	CodeEmbeddingFailed = "EMBEDDING_FAILED"
	CodeIndexFailed     = "INDEX_FAILED"
)

const (
	contentPrefix    = "extracted/"
	contentSuffix    = ".json"
	defaultBatchSize = 16
)

var errNoChunks = errors.New("no chunks generated from document text")

// ObjectReader loads extracted content objects.
type ObjectReader interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Stage embeds extracted documents into the vector store and both search indices.
type Stage struct {
	ledger    *ledger.Ledger
	objects   ObjectReader
	store     storage.VectorStore
	embedder  embedding.Embedder
	vectors   vector.VectorIndex
	keywords  keyword.KeywordIndex
	chunker   *Chunker
	batchSize int
	policy    retry.Policy
	logger    *zap.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stage) { s.logger = l }
}

// WithRetryPolicy bounds retries of embedding calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Stage) { s.policy = p }
}

// WithChunker replaces the default 1000 character, 20 word overlap chunker.
func WithChunker(c *Chunker) Option {
	return func(s *Stage) { s.chunker = c }
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithKeywordIndex also indexes chunk text for text and hybrid search.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(s *Stage) { s.keywords = k }
}

// NewStage creates the vectorization stage.
func NewStage(l *ledger.Ledger, objects ObjectReader, store storage.VectorStore, embedder embedding.Embedder, vectors vector.VectorIndex, opts ...Option) *Stage {
	s := &Stage{
		ledger:    l,
		objects:   objects,
		store:     store,
		embedder:  embedder,
		vectors:   vectors,
		chunker:   NewChunker(1000, 20),
		batchSize: defaultBatchSize,
		policy:    retry.DefaultPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsContentKey reports whether key names an extracted-content object.
func IsContentKey(key string) bool {
	return strings.HasPrefix(key, contentPrefix) && strings.HasSuffix(key, contentSuffix)
}

// Handle vectorizes the document behind an extracted-content object. Other objects, and
// documents that are not Extracted or Vectorized, are ignored. A document that cannot be
// vectorized is marked Failed and the event is consumed.
func (s *Stage) Handle(ctx context.Context, ev models.ObjectCreated) error {
	if ev.Bucket != objectstore.BucketProcessed || !IsContentKey(ev.ObjectKey) {
		s.logger.Debug("vectorize ignoring object", zap.String("bucket", ev.Bucket), zap.String("key", ev.ObjectKey))
		return nil
	}
	data, err := s.objects.Get(ctx, ev.Bucket, ev.ObjectKey)
	if err != nil {
		if fault.IsNotFound(err) {
			s.logger.Warn("extracted content disappeared", zap.String("key", ev.ObjectKey))
			return nil
		}
		return err
	}
	var content models.ExtractedContent
	if err := json.Unmarshal(data, &content); err != nil {
		return fault.Unclassified("decode extracted content", err)
	}
	if content.DocumentID == "" {
		return fault.Unclassified("decode extracted content", fmt.Errorf("%s has no document id", ev.ObjectKey))
	}

	doc, err := s.ledger.Get(ctx, content.DocumentID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusExtracted && doc.Status != models.StatusVectorized {
		s.logger.Debug("vectorize ignoring document",
			zap.String("document_id", doc.ID), zap.String("status", string(doc.Status)))
		return nil
	}

	start := time.Now()
	records, err := s.Vectorize(ctx, doc, &content)
	if err != nil {
		s.logger.Error("vectorization failed", zap.String("document_id", doc.ID), zap.Error(err))
		s.fail(ctx, doc.ID, failureCode(err), err.Error())
		return nil
	}
	if _, err := s.ledger.Advance(ctx, doc.ID, models.StatusVectorized,
		ledger.From(models.StatusExtracted, models.StatusVectorized)); err != nil {
		if fault.IsInvalidTransition(err) {
			s.logger.Debug("vectorize lost race", zap.String("document_id", doc.ID))
			return nil
		}
		return err
	}
	s.logger.Info("document vectorized", zap.String("document_id", doc.ID),
		zap.Int("chunks", len(records)), zap.Duration("took", time.Since(start)))
	return nil
}

// Vectorize chunks and embeds content and writes the chunks to the store and indices,
// replacing any chunks from an earlier run.
func (s *Stage) Vectorize(ctx context.Context, doc *models.DocumentRecord, content *models.ExtractedContent) ([]*models.VectorRecord, error) {
	chunks := s.chunker.Chunk(Preprocess(content.Text()))
	if len(chunks) == 0 {
		return nil, errNoChunks
	}
	embeddings, err := s.embed(ctx, doc.ID, chunks)
	if err != nil {
		return nil, &embedError{err: err}
	}

	title := content.Title
	if title == "" {
		title = doc.Title
	}
	regulationID := ""
	if doc.Type == models.DocumentTypeRegulation {
		regulationID = models.RegulationID(title)
	}
	now := time.Now().UTC()
	records := make([]*models.VectorRecord, len(chunks))
	entries := make([]vector.Entry, len(chunks))
	for i, text := range chunks {
		records[i] = &models.VectorRecord{
			DocumentID:   doc.ID,
			ChunkIndex:   i,
			Text:         text,
			Embedding:    embeddings[i],
			RegulationID: regulationID,
			Title:        title,
			SourceURL:    doc.SourceURL,
			Type:         doc.Type,
			UpdatedAt:    now,
		}
		entries[i] = vector.EntryFromRecord(records[i])
	}

	if err := s.store.UpsertVectors(ctx, doc.ID, records); err != nil {
		return nil, fmt.Errorf("failed to store vectors: %w", err)
	}
	if err := s.vectors.ReplaceDocument(ctx, doc.ID, entries); err != nil {
		return nil, fmt.Errorf("failed to index vectors: %w", err)
	}
	if s.keywords != nil {
		if err := s.keywords.ReplaceDocument(ctx, doc.ID, records); err != nil {
			return nil, fmt.Errorf("failed to index keywords: %w", err)
		}
	}
	return records, nil
}

func (s *Stage) embed(ctx context.Context, documentID string, chunks []string) ([][]float32, error) {
	out := make([][]float32, 0, len(chunks))
	for i, batch := range lo.Chunk(chunks, s.batchSize) {
		var vecs [][]float32
		err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			v, err := s.embedder.EmbedBatch(ctx, batch)
			if err != nil {
				return err
			}
			vecs = v
			return nil
		}, func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("retrying embedding", zap.String("document_id", documentID), zap.Int("batch", i),
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding service returned %d vectors for %d chunks", len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type embedError struct{ err error }

func (e *embedError) Error() string { return "failed to embed chunks: " + e.err.Error() }
func (e *embedError) Unwrap() error { return e.err }

func failureCode(err error) string {
	var ee *embedError
	switch {
	case errors.Is(err, errNoChunks):
		return CodeEmptyContent
	case errors.As(err, &ee):
		return CodeEmbeddingFailed
	}
	return CodeIndexFailed
}

func (s *Stage) fail(ctx context.Context, documentID, code, message string) {
	if _, err := s.ledger.Advance(ctx, documentID, models.StatusFailed, ledger.WithError(code, message)); err != nil {
		s.logger.Error("failed to mark document failed", zap.String("document_id", documentID), zap.Error(err))
	}
}
