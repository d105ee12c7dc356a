package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/ledger"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/storage"
)

// claimStarter claims the ledger record the way the OCR stage does.
type claimStarter struct {
	ledger *ledger.Ledger
	starts atomic.Int32
}

func (s *claimStarter) Start(ctx context.Context, id string) error {
	if _, err := s.ledger.Advance(ctx, id, models.StatusExtracting,
		ledger.From(models.StatusDiscovered, models.StatusFailed)); err != nil {
		return err
	}
	s.starts.Add(1)
	return nil
}

func newTrigger(t *testing.T) (*Trigger, *claimStarter, *ledger.Ledger) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	l := ledger.New(store)
	starter := &claimStarter{ledger: l}
	return NewTrigger("raw", []string{".pdf"}, l, starter, WithPolicyPrefixes("policies/")), starter, l
}

func TestTrigger_ConcurrentDuplicateEvents(t *testing.T) {
	trig, starter, l := newTrigger(t)
	ctx := context.Background()
	ev := models.ObjectCreated{Bucket: "raw", ObjectKey: "mas/notice-626.pdf"}

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := trig.Handle(ctx, ev); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), starter.starts.Load())
	docs, err := l.List(ctx, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, SourceURL("raw", "mas/notice-626.pdf"), docs[0].SourceURL)
	assert.Equal(t, models.DocumentTypeRegulation, docs[0].Type)
}

func TestTrigger_IgnoresUnsupported(t *testing.T) {
	trig, starter, l := newTrigger(t)
	ctx := context.Background()
	require.NoError(t, trig.Handle(ctx, models.ObjectCreated{Bucket: "raw", ObjectKey: "notes.txt"}))
	require.NoError(t, trig.Handle(ctx, models.ObjectCreated{Bucket: "processed", ObjectKey: "x.pdf"}))
	assert.Equal(t, int32(0), starter.starts.Load())
	docs, _ := l.List(ctx, "", 0, 10)
	assert.Empty(t, docs)
}

func TestTrigger_RestartsFailed(t *testing.T) {
	trig, starter, l := newTrigger(t)
	ctx := context.Background()
	ev := models.ObjectCreated{Bucket: "raw", ObjectKey: "policies/aml.pdf"}
	require.NoError(t, trig.Handle(ctx, ev))

	doc, err := l.LookupByURL(ctx, SourceURL("raw", "policies/aml.pdf"))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypePolicy, doc.Type)
	_, err = l.Advance(ctx, doc.ID, models.StatusFailed, ledger.WithError("OCR_FAILED", "x"))
	require.NoError(t, err)

	require.NoError(t, trig.Handle(ctx, ev))
	assert.Equal(t, int32(2), starter.starts.Load())
}

type failingStarter struct{}

func (failingStarter) Start(ctx context.Context, id string) error {
	return fault.Transient("start", context.DeadlineExceeded)
}

func TestTrigger_ReturnsStartErrors(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()
	trig := NewTrigger("raw", []string{".pdf"}, ledger.New(store), failingStarter{})
	err = trig.Handle(context.Background(), models.ObjectCreated{Bucket: "raw", ObjectKey: "a.pdf"})
	assert.True(t, fault.IsTransient(err))
}
