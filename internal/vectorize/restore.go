package vectorize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/storage"
	"github.com/hyperjump/compliagent/internal/vector"
)

const restorePage = 500

// RestoreIndex reloads idx from the snapshot at path and rebuilds it from the vector store when
// the snapshot is missing or out of date. It returns the number of indexed chunks.
func RestoreIndex(ctx context.Context, store storage.VectorStore, idx vector.VectorIndex, path string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	want, err := store.CountVectors(ctx)
	if err != nil {
		return 0, err
	}
	if err := idx.Load(path); err != nil {
		logger.Warn("vector index snapshot unusable, rebuilding", zap.String("path", path), zap.Error(err))
	} else if int64(idx.Size()) == want {
		return idx.Size(), nil
	}

	idx.Reset()
	for offset := 0; ; offset += restorePage {
		records, err := store.ListVectors(ctx, offset, restorePage)
		if err != nil {
			return 0, fmt.Errorf("failed to list vectors: %w", err)
		}
		entries := make([]vector.Entry, 0, len(records))
		for _, r := range records {
			entries = append(entries, vector.EntryFromRecord(r))
		}
		if err := idx.Upsert(ctx, entries); err != nil {
			return 0, fmt.Errorf("failed to rebuild vector index: %w", err)
		}
		if len(records) < restorePage {
			break
		}
	}
	logger.Info("vector index rebuilt", zap.Int("chunks", idx.Size()))
	return idx.Size(), nil
}
