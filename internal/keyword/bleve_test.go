package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/compliagent/internal/models"
)

func chunk(doc string, idx int, reg string, typ models.DocumentType, title, text string) *models.VectorRecord {
	return &models.VectorRecord{DocumentID: doc, ChunkIndex: idx, RegulationID: reg, Type: typ, Title: title, Text: text}
}

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.ReplaceDocument(ctx, "doc-1", []*models.VectorRecord{
		chunk("doc-1", 0, "MAS-NOTICE-626", models.DocumentTypeRegulation, "MAS Notice 626",
			"Banks must perform customer due diligence before establishing business relations."),
		chunk("doc-1", 1, "MAS-NOTICE-626", models.DocumentTypeRegulation, "MAS Notice 626",
			"Records of transactions must be retained for five years."),
	})
	if err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	results, err := idx.Search(ctx, "diligence", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a hit for \"diligence\"")
	}
	if results[0].ID != "doc-1#0" {
		t.Errorf("first result ID = %q, want doc-1#0", results[0].ID)
	}
}

func TestBleveIndex_FuzzyMatchesTypo(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.ReplaceDocument(ctx, "doc-1", []*models.VectorRecord{
		chunk("doc-1", 0, "", models.DocumentTypePolicy, "Retention policy", "Transaction records are retained for seven years."),
	})

	results, err := idx.Search(ctx, "retension", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("exact search should not match a typo, got %d hits", len(results))
	}
	results, err = idx.Search(ctx, "retension", 10, &SearchOptions{Fuzziness: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("fuzzy search should match, got %d hits", len(results))
	}
}

func TestBleveIndex_Filters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.ReplaceDocument(ctx, "reg", []*models.VectorRecord{
		chunk("reg", 0, "REG-17", models.DocumentTypeRegulation, "Regulation 17", "capital adequacy requirements"),
	})
	_ = idx.ReplaceDocument(ctx, "pol", []*models.VectorRecord{
		chunk("pol", 0, "", models.DocumentTypePolicy, "Capital policy", "capital adequacy is reviewed quarterly"),
	})

	all, _ := idx.Search(ctx, "capital", 10, nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(all))
	}
	byReg, _ := idx.Search(ctx, "capital", 10, &SearchOptions{RegulationID: "REG-17"})
	if len(byReg) != 1 || byReg[0].ID != "reg#0" {
		t.Errorf("regulation filter: got %+v", byReg)
	}
	byType, _ := idx.Search(ctx, "capital", 10, &SearchOptions{DocumentType: models.DocumentTypePolicy})
	if len(byType) != 1 || byType[0].ID != "pol#0" {
		t.Errorf("type filter: got %+v", byType)
	}
}

func TestBleveIndex_ReplaceDropsStaleChunks(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.ReplaceDocument(ctx, "doc", []*models.VectorRecord{
		chunk("doc", 0, "", "", "", "alpha"),
		chunk("doc", 1, "", "", "", "beta"),
		chunk("doc", 2, "", "", "", "gamma"),
	})
	if n, _ := idx.DocCount(); n != 3 {
		t.Fatalf("DocCount = %d, want 3", n)
	}
	if err := idx.ReplaceDocument(ctx, "doc", []*models.VectorRecord{chunk("doc", 0, "", "", "", "alpha again")}); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 1 {
		t.Errorf("DocCount = %d, want 1", n)
	}
	if res, _ := idx.Search(ctx, "gamma", 10, nil); len(res) != 0 {
		t.Errorf("stale chunk still searchable: %+v", res)
	}
	if err := idx.DeleteDocument(ctx, "doc"); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount after delete = %d", n)
	}
}

func TestBleveIndex_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	ctx := context.Background()
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = idx.ReplaceDocument(ctx, "doc", []*models.VectorRecord{chunk("doc", 0, "", "", "", "persistent text")})
	_ = idx.Close()

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	res, _ := reopened.Search(ctx, "persistent", 10, nil)
	if len(res) != 1 {
		t.Errorf("expected hit after reopen, got %d", len(res))
	}
}

func TestBleveIndex_RejectsForeignChunk(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.ReplaceDocument(context.Background(), "a", []*models.VectorRecord{chunk("b", 0, "", "", "", "x")})
	if err == nil {
		t.Error("expected error for chunk of another document")
	}
}
