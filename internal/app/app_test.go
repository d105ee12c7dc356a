package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/internal/embedding"
	"github.com/hyperjump/compliagent/internal/ingest"
	"github.com/hyperjump/compliagent/internal/llm"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/objectstore"
)

const modelAnswer = `Here is the analysis:
[{
  "title": "No enhanced due diligence for PEPs",
  "description": "The AML policy does not require enhanced due diligence for politically exposed persons.",
  "regulatory_reference": "MAS Notice 626",
  "policy_reference": "AML Policy section 3",
  "gap_type": "missing_requirement",
  "severity": "high",
  "recommended_action": "Add an enhanced due diligence procedure for PEPs.",
  "gap_id": "unknown",
  "amendment_title": "PEP enhanced due diligence",
  "amendment_text": "Customers identified as politically exposed persons shall undergo enhanced due diligence before onboarding.",
  "priority": "high"
}]`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	watch := false
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:    filepath.Join(dir, "db", "compliagent.db"),
			BleveIndexPath:  filepath.Join(dir, "indices", "bleve"),
			VectorIndexPath: filepath.Join(dir, "indices", "vectors.bin"),
		},
		Buckets: config.BucketsConfig{
			RawDir:       filepath.Join(dir, "buckets", "raw"),
			ProcessedDir: filepath.Join(dir, "buckets", "processed"),
		},
		Ingest:    config.IngestConfig{Suffixes: []string{".txt"}, Watch: &watch},
		Embedding: config.EmbeddingConfig{Provider: embedding.ProviderMock, Dimensions: 64},
		LLM:       config.LLMConfig{Provider: llm.ProviderMock},
		Retry: config.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			CallTimeout:     5 * time.Second,
		},
		OCR: config.OCRConfig{PollInterval: 10 * time.Millisecond},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func waitForStatus(t *testing.T, c *Components, key string, want models.DocumentStatus) *models.DocumentRecord {
	t.Helper()
	var rec *models.DocumentRecord
	require.Eventually(t, func() bool {
		r, err := c.Ledger.LookupByURL(context.Background(), ingest.SourceURL(objectstore.BucketRaw, key))
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 10*time.Second, 20*time.Millisecond, "document %s never reached %s", key, want)
	return rec
}

func TestComponents_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	c, err := New(ctx, cfg, nil, WithGenerator(&llm.MockGenerator{Response: modelAnswer}))
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	regulation := "MAS Notice 626\n\nBanks shall perform enhanced customer due diligence on politically exposed persons."
	policy := "AML Policy\n\nStaff perform standard customer due diligence at onboarding."
	require.NoError(t, c.Objects.Put(ctx, objectstore.BucketRaw, "mas/notice-626.txt", []byte(regulation)))
	require.NoError(t, c.Objects.Put(ctx, objectstore.BucketRaw, "policies/aml.txt", []byte(policy)))
	require.NoError(t, c.Objects.Put(ctx, objectstore.BucketRaw, "mas/notes.docx", []byte("ignored")))

	reg := waitForStatus(t, c, "mas/notice-626.txt", models.StatusVectorized)
	pol := waitForStatus(t, c, "policies/aml.txt", models.StatusVectorized)
	assert.Equal(t, models.DocumentTypeRegulation, reg.Type)
	assert.Equal(t, models.DocumentTypePolicy, pol.Type)

	history, err := c.Ledger.History(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.DocumentStatus{
		models.StatusDiscovered, models.StatusExtracting, models.StatusExtracted, models.StatusVectorized,
	}, history)

	_, err = c.Ledger.LookupByURL(ctx, ingest.SourceURL(objectstore.BucketRaw, "mas/notes.docx"))
	assert.Error(t, err)

	exec, err := c.Workflows.RunGapAnalysis(ctx, models.GapAnalysisInput{
		QueryText:  "customer due diligence",
		SearchType: models.SearchText,
	})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionSucceeded, exec.Status, "error: %+v", exec.Error)

	gaps, err := c.Store.ListGaps(ctx, models.GapFilter{ExecutionID: exec.ID})
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "MAS-NOTICE-626", gaps[0].RegulationID)
	assert.Equal(t, models.SeverityHigh, gaps[0].Severity)

	drafting, err := c.Workflows.RunAmendmentDrafting(ctx, models.AmendmentDraftingInput{GapIDs: []string{gaps[0].ID}})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionSucceeded, drafting.Status, "error: %+v", drafting.Error)
	amendments, err := c.Store.ListAmendments(ctx, models.AmendmentFilter{GapID: gaps[0].ID})
	require.NoError(t, err)
	require.Len(t, amendments, 1)
	assert.Equal(t, 1, amendments[0].Attempt)

	size := c.Vectors.Size()
	require.Positive(t, size)
	require.NoError(t, c.Close(ctx))

	reopened, err := New(ctx, cfg, nil, WithGenerator(&llm.MockGenerator{}))
	require.NoError(t, err)
	assert.Equal(t, size, reopened.Vectors.Size())
	require.NoError(t, reopened.Close(ctx))
}

func TestNew_RejectsUnknownOCRProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.OCR.Provider = "textract"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unsupported ocr provider")
}
