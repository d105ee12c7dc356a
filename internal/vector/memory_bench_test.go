package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/compliagent/internal/models"
)

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := NewMemoryIndex(384)
	ctx := context.Background()
	entries := make([]Entry, 1000)
	for i := range entries {
		v := make([]float32, 384)
		v[0] = float32(i) / 1000
		v[1] = 1 - v[0]
		docType := models.DocumentTypeRegulation
		if i%4 == 0 {
			docType = models.DocumentTypePolicy
		}
		entries[i] = Entry{
			ID:         models.ChunkKey(fmt.Sprintf("doc-%d", i/10), i%10),
			DocumentID: fmt.Sprintf("doc-%d", i/10),
			Type:       docType,
			Vector:     v,
		}
	}
	_ = idx.Upsert(ctx, entries)
	query := make([]float32, 384)
	query[0] = 1.0
	b.Run("unfiltered", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = idx.Search(ctx, query, 10, Filter{})
		}
	})
	b.Run("policy-only", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = idx.Search(ctx, query, 10, Filter{DocumentType: models.DocumentTypePolicy})
		}
	})
}
