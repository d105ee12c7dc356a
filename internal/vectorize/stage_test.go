package vectorize

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const dims = 32

// flakyEmbedder fails the first failures calls with err.
type flakyEmbedder struct {
	*embedding.MockEmbedder
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts)
}

type fixture struct {
	store    *storage.SQLiteStorage
	ledger   *ledger.Ledger
	objects  *objectstore.Store
	embedder *flakyEmbedder
	vectors  *vector.MemoryIndex
	keywords *keyword.BleveIndex
	stage    *Stage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	objects, err := objectstore.New(map[string]string{
		objectstore.BucketRaw:       filepath.Join(dir, "raw"),
		objectstore.BucketProcessed: filepath.Join(dir, "processed"),
	})
	require.NoError(t, err)
	vectors, err := vector.NewMemoryIndex(dims)
	require.NoError(t, err)
	keywords, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { keywords.Close() })

	l := ledger.New(store)
	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims)}
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	stage := NewStage(l, objects, store, emb, vectors,
		WithKeywordIndex(keywords), WithRetryPolicy(policy), WithChunker(NewChunker(80, 3)), WithBatchSize(2))
	return &fixture{store: store, ledger: l, objects: objects, embedder: emb, vectors: vectors, keywords: keywords, stage: stage}
}

// extracted creates a ledger record in Extracted and writes its content object.
func (f *fixture) extracted(t *testing.T, key, title, text string) (*models.DocumentRecord, models.ObjectCreated) {
	t.Helper()
	ctx := context.Background()
	doc, _, err := f.ledger.UpsertDiscovered(ctx, "object://raw/"+key,
		models.ObjectRef{Bucket: objectstore.BucketRaw, Key: key}, models.DocumentTypeRegulation)
	require.NoError(t, err)
	_, err = f.ledger.Advance(ctx, doc.ID, models.StatusExtracting)
	require.NoError(t, err)
	_, err = f.ledger.Advance(ctx, doc.ID, models.StatusExtracted, ledger.WithTitle(title))
	require.NoError(t, err)

	content := models.ExtractedContent{
		DocumentID: doc.ID,
		SourceURL:  doc.SourceURL,
		Title:      title,
		Type:       models.DocumentTypeRegulation,
		Segments:   []models.Segment{{Index: 0, Text: text, PageNum: 1, LineCount: 1}},
	}
	data, err := json.Marshal(content)
	require.NoError(t, err)
	contentKey := "extracted/" + doc.ID + ".json"
	require.NoError(t, f.objects.Put(ctx, objectstore.BucketProcessed, contentKey, data))
	return doc, models.ObjectCreated{Bucket: objectstore.BucketProcessed, ObjectKey: contentKey}
}

const noticeText = "Banks must perform customer due diligence. Records must be kept for five years. " +
	"Suspicious transactions must be reported promptly. Senior management approves high risk customers."

func TestStage_VectorizesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, ev := f.extracted(t, "mas/626.pdf", "MAS Notice 626", noticeText)

	require.NoError(t, f.stage.Handle(ctx, ev))

	got, err := f.ledger.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVectorized, got.Status)

	n, err := f.store.CountVectors(ctx)
	require.NoError(t, err)
	assert.Greater(t, n, int64(1))
	assert.Equal(t, int(n), f.vectors.Size())
	kw, _ := f.keywords.DocCount()
	assert.Equal(t, uint64(n), kw)

	rec, err := f.store.GetVector(ctx, doc.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "MAS-NOTICE-626", rec.RegulationID)
	assert.Equal(t, "MAS Notice 626", rec.Title)
	assert.Len(t, rec.Embedding, dims)
}

func TestStage_RerunReplacesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, ev := f.extracted(t, "a.pdf", "Regulation 17", noticeText)
	require.NoError(t, f.stage.Handle(ctx, ev))
	first, _ := f.store.CountVectors(ctx)

	// a shorter version of the same document
	content := models.ExtractedContent{DocumentID: doc.ID, Title: "Regulation 17", Type: models.DocumentTypeRegulation,
		Segments: []models.Segment{{Text: "Capital must be held.", PageNum: 1}}}
	data, _ := json.Marshal(content)
	require.NoError(t, f.objects.Put(ctx, objectstore.BucketProcessed, ev.ObjectKey, data))
	require.NoError(t, f.stage.Handle(ctx, ev))

	second, _ := f.store.CountVectors(ctx)
	assert.Greater(t, first, second)
	assert.Equal(t, int64(1), second)
	assert.Equal(t, 1, f.vectors.Size())
	got, _ := f.ledger.Get(ctx, doc.ID)
	assert.Equal(t, models.StatusVectorized, got.Status)
}

func TestStage_RetriesTransientEmbeddingErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.failures = 2
	f.embedder.err = fault.Transient("embed", errors.New("ThrottlingException"))
	doc, ev := f.extracted(t, "a.pdf", "Regulation 17", "Capital must be held.")

	require.NoError(t, f.stage.Handle(ctx, ev))
	got, _ := f.ledger.Get(ctx, doc.ID)
	assert.Equal(t, models.StatusVectorized, got.Status)
	assert.Equal(t, 3, f.embedder.calls)
}

func TestStage_PermanentEmbeddingErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.failures = 10
	f.embedder.err = errors.New("validation: input too long")
	doc, ev := f.extracted(t, "a.pdf", "Regulation 17", "Capital must be held.")

	require.NoError(t, f.stage.Handle(ctx, ev))
	got, _ := f.ledger.Get(ctx, doc.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, CodeEmbeddingFailed, got.ErrorCode)
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 0, f.vectors.Size())
}

func TestStage_EmptyContentMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, ev := f.extracted(t, "a.pdf", "", "   ")
	require.NoError(t, f.stage.Handle(ctx, ev))
	got, _ := f.ledger.Get(ctx, doc.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, CodeEmptyContent, got.ErrorCode)
}

func TestStage_IgnoresOtherObjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.NoError(t, f.stage.Handle(ctx, models.ObjectCreated{Bucket: objectstore.BucketRaw, ObjectKey: "extracted/x.json"}))
	assert.NoError(t, f.stage.Handle(ctx, models.ObjectCreated{Bucket: objectstore.BucketProcessed, ObjectKey: "reports/x.json"}))
	assert.NoError(t, f.stage.Handle(ctx, models.ObjectCreated{Bucket: objectstore.BucketProcessed, ObjectKey: "extracted/missing.json"}))
	assert.Equal(t, 0, f.embedder.calls)
}

func TestStage_IgnoresDocumentNotExtracted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, ev := f.extracted(t, "a.pdf", "Regulation 17", "Capital must be held.")
	_, err := f.ledger.Advance(ctx, doc.ID, models.StatusFailed, ledger.WithError("X", "manual"))
	require.NoError(t, err)

	require.NoError(t, f.stage.Handle(ctx, ev))
	assert.Equal(t, 0, f.embedder.calls)
}

func TestRestoreIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, ev := f.extracted(t, "a.pdf", "Regulation 17", noticeText)
	require.NoError(t, f.stage.Handle(ctx, ev))
	want := f.vectors.Size()
	path := filepath.Join(t.TempDir(), "vectors.bin")

	fresh, _ := vector.NewMemoryIndex(dims)
	n, err := RestoreIndex(ctx, f.store, fresh, path, nil)
	require.NoError(t, err)
	assert.Equal(t, want, n)

	require.NoError(t, fresh.Save(path))
	again, _ := vector.NewMemoryIndex(dims)
	n, err = RestoreIndex(ctx, f.store, again, path, nil)
	require.NoError(t, err)
	assert.Equal(t, want, n)
}

func TestIsContentKey(t *testing.T) {
	assert.True(t, IsContentKey("extracted/abc.json"))
	assert.False(t, IsContentKey("extracted/abc.txt"))
	assert.False(t, IsContentKey(strings.TrimPrefix("extracted/abc.json", "extracted/")))
}
