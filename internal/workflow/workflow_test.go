package workflow

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

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/llm"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/retry"
	"github.com/hyperjump/compliagent/internal/storage"
)

// fakeSearcher answers regulation and policy queries from fixed hit lists.
type fakeSearcher struct {
	mu          sync.Mutex
	regulations []*models.SearchHit
	policies    []*models.SearchHit
	queries     []models.SearchQuery
	err         error
}

func (f *fakeSearcher) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, *q)
	if f.err != nil {
		return nil, f.err
	}
	var hits []*models.SearchHit
	switch {
	case q.DocumentType == models.DocumentTypePolicy:
		hits = f.policies
	case q.RegulationID != "":
		hits = f.regulations
	default:
		hits = append(append(hits, f.regulations...), f.policies...)
	}
	return &models.SearchResponse{Query: q.Text, Type: q.Type, Total: len(hits), Hits: hits}, nil
}

// scriptedGenerator returns answer, or blocks until the call context ends when hang is set.
type scriptedGenerator struct {
	mu     sync.Mutex
	answer string
	hang   bool
	err    error
	calls  int
	last   llm.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	g.last = req
	g.mu.Unlock()
	if g.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.answer, g.err
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// stubDrafter drafts one amendment per gap and records the batch sizes it saw.
type stubDrafter struct {
	mu      sync.Mutex
	batches []int
}

func (d *stubDrafter) Draft(ctx context.Context, gaps []*models.GapRecord, policies []*models.VectorRecord, org string) ([]models.DraftedAmendment, error) {
	d.mu.Lock()
	d.batches = append(d.batches, len(gaps))
	d.mu.Unlock()
	out := make([]models.DraftedAmendment, 0, len(gaps))
	for _, g := range gaps {
		out = append(out, models.DraftedAmendment{GapID: g.ID, Title: "Fix " + g.Title, Text: "Amend policy for " + g.Title, Priority: "high"})
	}
	return out, nil
}

type fixture struct {
	store     *storage.SQLiteStorage
	searcher  *fakeSearcher
	generator *scriptedGenerator
	drafter   *stubDrafter
	engine    *Engine
	service   *Service

	mu        sync.Mutex
	finished  []*models.WorkflowExecution
	gapEvents int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:     store,
		searcher:  &fakeSearcher{},
		generator: &scriptedGenerator{answer: "[]"},
		drafter:   &stubDrafter{},
	}
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, CallTimeout: 50 * time.Millisecond}
	f.engine = NewEngine(store, WithRetryPolicy(policy), WithTimeout(5*time.Second),
		WithObserver(func(e *models.WorkflowExecution) {
			f.mu.Lock()
			f.finished = append(f.finished, e)
			f.mu.Unlock()
		}))
	f.service = NewService(f.engine, store, f.searcher, llm.NewAnalyst(f.generator, 4000, 0.1), f.drafter,
		WithGapObserver(func(*models.GapRecord) {
			f.mu.Lock()
			f.gapEvents++
			f.mu.Unlock()
		}))
	return f
}

func hit(doc string, typ models.DocumentType, title, text string) *models.SearchHit {
	return &models.SearchHit{Record: &models.VectorRecord{DocumentID: doc, Type: typ, Title: title, Text: text}, Score: 0.9}
}

const twoGaps = `[
 {"gap_id":"GAP-001","title":"Missing retention period","description":"Records are kept 5 years, regulation needs 7",
  "regulatory_reference":"Regulation 17, Section 2","policy_reference":"Data Policy","gap_type":"missing_requirement",
  "severity":"high","risk_level":"high","impact_description":"fines","recommended_action":"extend retention"},
 {"gap_id":"GAP-002","title":"No outsourcing register","description":"No register of material outsourcing",
  "regulatory_reference":"MAS Notice 626","severity":"critical"}
]`

func stateEvents(exec *models.WorkflowExecution) []string {
	out := make([]string, 0, len(exec.Steps))
	for _, s := range exec.Steps {
		out = append(out, s.State+":"+s.Event)
	}
	return out
}

func TestGapAnalysis_PersistsGaps(t *testing.T) {
	f := newFixture(t)
	f.searcher.regulations = []*models.SearchHit{hit("doc-reg", models.DocumentTypeRegulation, "Regulation 17", "Records must be retained for 7 years.")}
	f.searcher.policies = []*models.SearchHit{hit("doc-pol", models.DocumentTypePolicy, "Data Policy", "Records are retained for 5 years.")}
	f.generator.answer = twoGaps
	ctx := context.Background()

	exec, err := f.service.RunGapAnalysis(ctx, models.GapAnalysisInput{QueryText: " data retention ", Size: 5})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, exec.Status)
	assert.Equal(t, StateSucceeded, exec.State)
	assert.Nil(t, exec.Error)
	assert.Equal(t, []string{
		"QueryVectorIndex:entered", "QueryVectorIndex:succeeded",
		"AnalyzeForGaps:entered", "AnalyzeForGaps:succeeded",
		"PersistGaps:entered", "PersistGaps:succeeded",
	}, stateEvents(exec))

	var out models.GapAnalysisOutput
	require.NoError(t, json.Unmarshal(exec.Output, &out))
	assert.Equal(t, "data retention", out.QueryText)
	assert.Equal(t, models.SearchHybrid, out.SearchType)
	assert.Equal(t, 2, out.DocumentsRetrieved)
	assert.Equal(t, 2, out.GapsCreated)
	require.Len(t, out.GapIDs, 2)

	gaps, err := f.store.ListGaps(ctx, models.GapFilter{})
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	byTitle := map[string]*models.GapRecord{}
	for _, g := range gaps {
		byTitle[g.Title] = g
	}
	retention := byTitle["Missing retention period"]
	require.NotNil(t, retention)
	assert.Equal(t, "REG-17", retention.RegulationID)
	assert.Equal(t, models.SeverityHigh, retention.Severity)
	assert.Equal(t, models.GapIdentified, retention.Status)
	assert.Equal(t, exec.ID, retention.ExecutionID)
	assert.ElementsMatch(t, []string{"doc-reg", "doc-pol"}, retention.SourceDocumentIDs)
	assert.Equal(t, "MAS-NOTICE-626", byTitle["No outsourcing register"].RegulationID)
	assert.Equal(t, models.SeverityCritical, byTitle["No outsourcing register"].Severity)

	f.mu.Lock()
	assert.Len(t, f.finished, 1)
	assert.Equal(t, 2, f.gapEvents)
	f.mu.Unlock()
}

func TestGapAnalysis_RerunDoesNotDuplicateGaps(t *testing.T) {
	f := newFixture(t)
	f.searcher.regulations = []*models.SearchHit{hit("doc-reg", models.DocumentTypeRegulation, "Regulation 17", "text")}
	f.generator.answer = twoGaps
	ctx := context.Background()

	first, err := f.service.RunGapAnalysis(ctx, models.GapAnalysisInput{QueryText: "data retention"})
	require.NoError(t, err)
	second, err := f.service.RunGapAnalysis(ctx, models.GapAnalysisInput{QueryText: "data retention"})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionSucceeded, second.Status)

	var a, b models.GapAnalysisOutput
	require.NoError(t, json.Unmarshal(first.Output, &a))
	require.NoError(t, json.Unmarshal(second.Output, &b))
	assert.ElementsMatch(t, a.GapIDs, b.GapIDs)
	assert.Equal(t, 0, b.GapsCreated)

	gaps, err := f.store.ListGaps(ctx, models.GapFilter{})
	require.NoError(t, err)
	assert.Len(t, gaps, 2)
}

func TestGapAnalysis_EmptyResultSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, err := f.service.RunGapAnalysis(ctx, models.GapAnalysisInput{QueryText: "data retention", Size: 5})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, exec.Status)
	assert.Nil(t, exec.Error)
	assert.Equal(t, 0, f.generator.callCount())

	var out models.GapAnalysisOutput
	require.NoError(t, json.Unmarshal(exec.Output, &out))
	assert.Equal(t, 0, out.DocumentsRetrieved)
	assert.Empty(t, out.GapIDs)
	assert.NotNil(t, out.GapIDs)

	gaps, err := f.store.ListGaps(ctx, models.GapFilter{})
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestGapAnalysis_AnalyzeTimesOutThreeTimes(t *testing.T) {
	f := newFixture(t)
	f.searcher.regulations = []*models.SearchHit{hit("doc-reg", models.DocumentTypeRegulation, "Regulation 17", "text")}
	f.generator.hang = true
	ctx := context.Background()

	exec, err := f.service.RunGapAnalysis(ctx, models.GapAnalysisInput{QueryText: "data retention"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Nil(t, exec.Output)
	require.NotNil(t, exec.Error)
	assert.Equal(t, string(fault.KindTransient), exec.Error.Kind)
	assert.Equal(t, StateAnalyzeForGaps, exec.Error.State)
	assert.False(t, exec.Error.EnteredAt.IsZero())
	assert.Equal(t, 3, f.generator.callCount())

	events := stateEvents(exec)
	assert.Contains(t, events, "AnalyzeForGaps:retry")
	assert.Equal(t, "AnalyzeForGaps:failed", events[len(events)-1])
	assert.NotContains(t, events, "PersistGaps:entered")

	gaps, err := f.store.ListGaps(ctx, models.GapFilter{ExecutionID: exec.ID})
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestGapAnalysis_UnparsableAnswerFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.searcher.regulations = []*models.SearchHit{hit("doc-reg", models.DocumentTypeRegulation, "Regulation 17", "text")}
	f.generator.answer = "I am unable to help with that."

	exec, err := f.service.RunGapAnalysis(context.Background(), models.GapAnalysisInput{QueryText: "data retention"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, string(fault.KindUnclassified), exec.Error.Kind)
	assert.Equal(t, 1, f.generator.callCount())
}

func TestGapAnalysis_RegulationScopeFetchesPolicies(t *testing.T) {
	f := newFixture(t)
	f.searcher.regulations = []*models.SearchHit{hit("doc-reg", models.DocumentTypeRegulation, "Regulation 17", "seven years")}
	f.searcher.policies = []*models.SearchHit{hit("doc-pol", models.DocumentTypePolicy, "Records Policy", "five years")}
	f.generator.answer = `[{"title":"Retention","description":"too short","regulatory_reference":""}]`

	exec, err := f.service.RunGapAnalysis(context.Background(), models.GapAnalysisInput{
		QueryText:       "retention",
		RegulationID:    "REG-17",
		AnalysisContext: "retail bank",
	})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionSucceeded, exec.Status)

	require.Len(t, f.searcher.queries, 2)
	assert.Equal(t, "REG-17", f.searcher.queries[0].RegulationID)
	assert.Equal(t, models.DocumentTypePolicy, f.searcher.queries[1].DocumentType)
	assert.Contains(t, f.generator.last.Prompt, "Records Policy")
	assert.Contains(t, f.generator.last.Prompt, "retail bank")

	gaps, err := f.store.ListGaps(context.Background(), models.GapFilter{RegulationID: "REG-17"})
	require.NoError(t, err)
	assert.Len(t, gaps, 1)
}

func TestGapAnalysis_SearchFailureIsRouted(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = errors.New("index unavailable")

	exec, err := f.service.RunGapAnalysis(context.Background(), models.GapAnalysisInput{QueryText: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, StateQueryVectorIndex, exec.Error.State)
	assert.Equal(t, string(fault.KindUnclassified), exec.Error.Kind)
	assert.Contains(t, exec.Error.Message, "index unavailable")
}

func TestInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.StartGapAnalysis(ctx, models.GapAnalysisInput{QueryText: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.service.StartGapAnalysis(ctx, models.GapAnalysisInput{QueryText: "x", SearchType: "semantic"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.service.StartAmendmentDrafting(ctx, models.AmendmentDraftingInput{GapIDs: []string{" ", ""}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	execs, err := f.store.ListExecutions(ctx, "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func seedGaps(t *testing.T, store storage.GapStore, titles ...string) []string {
	t.Helper()
	var ids []string
	for i, title := range titles {
		id := "gap:" + strings.ReplaceAll(strings.ToLower(title), " ", "-")
		_, err := store.InsertGapIfAbsent(context.Background(), &models.GapRecord{
			ID:           id,
			RegulationID: "REG-17",
			Title:        title,
			Description:  "description " + title,
			Severity:     models.SeverityHigh,
			Status:       models.GapIdentified,
			CreatedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestAmendmentDrafting_BatchesAndPersists(t *testing.T) {
	f := newFixture(t)
	f.searcher.policies = []*models.SearchHit{hit("doc-pol", models.DocumentTypePolicy, "Records Policy", "five years")}
	gapIDs := seedGaps(t, f.store, "Retention", "Outsourcing", "Encryption", "Access review")
	ctx := context.Background()

	requested := append(append([]string{}, gapIDs...), gapIDs[0])
	exec, err := f.service.RunAmendmentDrafting(ctx, models.AmendmentDraftingInput{GapIDs: requested})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionSucceeded, exec.Status)
	assert.Equal(t, []int{3, 1}, f.drafter.batches)

	var out models.AmendmentDraftingOutput
	require.NoError(t, json.Unmarshal(exec.Output, &out))
	assert.Equal(t, gapIDs, out.GapIDs)
	assert.Equal(t, 4, out.AmendmentsCreated)

	amendments, err := f.store.ListAmendments(ctx, models.AmendmentFilter{GapID: gapIDs[0]})
	require.NoError(t, err)
	require.Len(t, amendments, 1)
	assert.Equal(t, 1, amendments[0].Attempt)
	assert.Equal(t, models.AmendmentDraft, amendments[0].Status)
	assert.Equal(t, models.PriorityHigh, amendments[0].Priority)
	assert.Equal(t, exec.ID, amendments[0].ExecutionID)

	for _, q := range f.searcher.queries {
		assert.Equal(t, models.DocumentTypePolicy, q.DocumentType)
	}

	// A second run is a new drafting attempt.
	_, err = f.service.RunAmendmentDrafting(ctx, models.AmendmentDraftingInput{GapIDs: gapIDs[:1]})
	require.NoError(t, err)
	amendments, err = f.store.ListAmendments(ctx, models.AmendmentFilter{GapID: gapIDs[0]})
	require.NoError(t, err)
	require.Len(t, amendments, 2)
	attempts := []int{amendments[0].Attempt, amendments[1].Attempt}
	assert.ElementsMatch(t, []int{1, 2}, attempts)
}

func TestAmendmentDrafting_MissingGapFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	gapIDs := seedGaps(t, f.store, "Retention")

	exec, err := f.service.RunAmendmentDrafting(context.Background(), models.AmendmentDraftingInput{
		GapIDs: []string{gapIDs[0], "gap:missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, string(fault.KindNotFound), exec.Error.Kind)
	assert.Equal(t, StateRetrieveGap, exec.Error.State)
	assert.Empty(t, f.drafter.batches)
	assert.Equal(t, []string{"RetrieveGap:entered", "RetrieveGap:failed"}, stateEvents(exec))
}

func TestStart_RunsInBackground(t *testing.T) {
	f := newFixture(t)
	f.searcher.regulations = []*models.SearchHit{hit("doc-reg", models.DocumentTypeRegulation, "Regulation 17", "text")}
	f.generator.answer = twoGaps
	ctx := context.Background()

	started, err := f.service.StartGapAnalysis(ctx, models.GapAnalysisInput{QueryText: "retention"})
	require.NoError(t, err)
	assert.NotEmpty(t, started.ExecutionID)
	assert.NotEmpty(t, started.RequestID)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	f.engine.Shutdown(shutdownCtx)

	exec, err := f.store.GetExecution(ctx, started.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, exec.Status)
	assert.NotNil(t, exec.CompletedAt)
}

func TestEngine_OverallTimeout(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	e := NewEngine(store, WithTimeout(30*time.Millisecond),
		WithRetryPolicy(retry.Policy{MaxAttempts: 5, InitialInterval: 5 * time.Millisecond, MaxInterval: 5 * time.Millisecond}))
	ran := false
	def := Definition{
		Kind: models.WorkflowGapAnalysis,
		Steps: []Step{
			{State: "Slow", Run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}},
			{State: "Never", Run: func(ctx context.Context) error {
				ran = true
				return nil
			}},
		},
	}
	exec, err := e.Run(context.Background(), def, map[string]string{"queryText": "x"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, KindTimeout, exec.Error.Kind)
	assert.Equal(t, "Slow", exec.Error.State)
	assert.False(t, ran)
}
