package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/storage"
)

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, opts...)
}

var ref = models.ObjectRef{Bucket: "raw", Key: "mas/notice-626.pdf"}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.DocumentStatus
		want     bool
	}{
		{models.StatusDiscovered, models.StatusExtracting, true},
		{models.StatusExtracting, models.StatusExtracted, true},
		{models.StatusExtracted, models.StatusVectorized, true},
		{models.StatusVectorized, models.StatusVectorized, true},
		{models.StatusFailed, models.StatusExtracting, true},
		{models.StatusExtracting, models.StatusFailed, true},
		{models.StatusVectorized, models.StatusFailed, true},
		{models.StatusDiscovered, models.StatusExtracted, false},
		{models.StatusExtracted, models.StatusExtracting, false},
		{models.StatusVectorized, models.StatusDiscovered, false},
		{models.StatusFailed, models.StatusFailed, false},
		{models.StatusFailed, models.StatusVectorized, false},
		{models.StatusExtracting, models.StatusExtracting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestUpsertDiscovered_ConcurrentDuplicates(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	docIDs := map[string]bool{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, isNew, err := l.UpsertDiscovered(ctx, "object://raw/mas/notice-626.pdf", ref, models.DocumentTypeRegulation)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			docIDs[rec.ID] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, docIDs, 1)
	list, err := l.List(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAdvance_RejectsInvalidEdges(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	rec, _, err := l.UpsertDiscovered(ctx, "object://raw/a.pdf", ref, models.DocumentTypeRegulation)
	require.NoError(t, err)

	_, err = l.Advance(ctx, rec.ID, models.StatusVectorized)
	assert.True(t, fault.IsInvalidTransition(err))

	_, err = l.Advance(ctx, rec.ID, models.StatusExtracting, From(models.StatusFailed))
	assert.True(t, fault.IsInvalidTransition(err))

	_, err = l.Advance(ctx, "doc:missing", models.StatusExtracting)
	assert.True(t, fault.IsNotFound(err))
}

func TestAdvance_ConcurrentClaimHasOneWinner(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	rec, _, err := l.UpsertDiscovered(ctx, "object://raw/a.pdf", ref, models.DocumentTypeRegulation)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, rejected := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Advance(ctx, rec.ID, models.StatusExtracting, From(models.StatusDiscovered, models.StatusFailed))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case fault.IsInvalidTransition(err):
				rejected++
			default:
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, rejected)
}

func TestAdvance_HistoryIsMonotonic(t *testing.T) {
	var observed []models.DocumentStatus
	l := newTestLedger(t, WithObserver(func(r *models.DocumentRecord) { observed = append(observed, r.Status) }))
	ctx := context.Background()
	rec, _, err := l.UpsertDiscovered(ctx, "object://raw/a.pdf", ref, models.DocumentTypeRegulation)
	require.NoError(t, err)

	steps := []struct {
		to   models.DocumentStatus
		opts []AdvanceOption
	}{
		{models.StatusExtracting, nil},
		{models.StatusFailed, []AdvanceOption{WithError("OCR_FAILED", "engine error")}},
		{models.StatusExtracting, nil},
		{models.StatusExtracted, nil},
		{models.StatusVectorized, nil},
		{models.StatusVectorized, nil},
	}
	for i, s := range steps {
		_, err := l.Advance(ctx, rec.ID, s.to, s.opts...)
		require.NoError(t, err, "advance to %s", s.to)
		if s.to == models.StatusExtracting {
			require.NoError(t, l.RecordJob(ctx, rec.ID, fmt.Sprintf("job-%d", i/2+1)))
		}
	}

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.OCRJobID)
	assert.Empty(t, got.ErrorCode)

	history, err := l.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 7)
	for i := 1; i < len(history); i++ {
		prev, next := history[i-1], history[i]
		assert.True(t, CanTransition(prev, next), "%s -> %s", prev, next)
	}
	assert.Equal(t, history, observed)
}

func TestRecordJob_RequiresExtracting(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	rec, _, err := l.UpsertDiscovered(ctx, "object://raw/b.pdf", ref, models.DocumentTypeRegulation)
	require.NoError(t, err)

	err = l.RecordJob(ctx, rec.ID, "job-1")
	assert.True(t, fault.IsInvalidTransition(err), "got %v", err)

	_, err = l.Advance(ctx, rec.ID, models.StatusExtracting)
	require.NoError(t, err)
	require.NoError(t, l.RecordJob(ctx, rec.ID, "job-1"))
	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.OCRJobID)
	assert.Equal(t, models.StatusExtracting, got.Status)

	err = l.RecordJob(ctx, "missing", "job-2")
	assert.True(t, fault.IsNotFound(err), "got %v", err)
}
