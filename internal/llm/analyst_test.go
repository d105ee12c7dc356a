package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
)

type scriptedGenerator struct {
	answer string
	err    error
	calls  int
	last   Request
}

func (s *scriptedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	s.calls++
	s.last = req
	return s.answer, s.err
}

func (s *scriptedGenerator) Model() string { return "scripted" }

func record(doc string, typ models.DocumentType, title, text string) *models.VectorRecord {
	return &models.VectorRecord{DocumentID: doc, Type: typ, Title: title, Text: text}
}

func TestAnalyst_EmptyContextSkipsModel(t *testing.T) {
	gen := &scriptedGenerator{answer: `[{"title":"x"}]`}
	a := NewAnalyst(gen, 4000, 0.1)

	gaps, err := a.Analyze(context.Background(), AnalysisRequest{})
	require.NoError(t, err)
	assert.Empty(t, gaps)
	assert.Equal(t, 0, gen.calls)
}

func TestAnalyst_Analyze(t *testing.T) {
	gen := &scriptedGenerator{answer: `[
	 {"title":"Retention","description":"d1","regulatory_reference":"Regulation 17, Section 2","severity":"high"},
	 {"title":"Outsourcing","description":"d2","regulatory_reference":"MAS Notice 626 para 4"},
	 {"title":"Vague","description":"d3","regulatory_reference":""}
	]`}
	a := NewAnalyst(gen, 4000, 0.1, WithContextLimit(1))

	regs := []*models.VectorRecord{
		record("reg-doc", models.DocumentTypeRegulation, "Regulation 17", strings.Repeat("r", 2500)),
		record("reg-doc-2", models.DocumentTypeRegulation, "Second", "second regulation"),
	}
	pols := []*models.VectorRecord{record("pol-doc", models.DocumentTypePolicy, "Data Policy", "keep data 5 years")}

	gaps, err := a.Analyze(context.Background(), AnalysisRequest{
		Regulations:  regs,
		Policies:     pols,
		Context:      "retail bank",
		RegulationID: "REG-17",
	})
	require.NoError(t, err)
	require.Len(t, gaps, 3)
	assert.Equal(t, "REG-17", gaps[0].RegulationID)
	assert.Equal(t, "MAS-NOTICE-626", gaps[1].RegulationID)
	assert.Equal(t, "REG-17", gaps[2].RegulationID)
	assert.Equal(t, []string{"reg-doc", "reg-doc-2", "pol-doc"}, gaps[0].SourceDocumentIDs)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 4000, gen.last.MaxTokens)
	assert.Contains(t, gen.last.Prompt, "REGULATORY DOCUMENT 1")
	assert.NotContains(t, gen.last.Prompt, "REGULATORY DOCUMENT 2")
	assert.Contains(t, gen.last.Prompt, "INTERNAL POLICY 1")
	assert.Contains(t, gen.last.Prompt, "retail bank")
	assert.Contains(t, gen.last.Prompt, strings.Repeat("r", 2000)+"...")
	assert.NotContains(t, gen.last.Prompt, strings.Repeat("r", 2001))
}

func TestAnalyst_Errors(t *testing.T) {
	regs := []*models.VectorRecord{record("d", models.DocumentTypeRegulation, "t", "x")}

	gen := &scriptedGenerator{err: fault.Transient("generate", errors.New("timeout"))}
	_, err := NewAnalyst(gen, 100, 0).Analyze(context.Background(), AnalysisRequest{Regulations: regs})
	assert.True(t, fault.IsTransient(err))

	gen = &scriptedGenerator{answer: "no gaps, sorry"}
	_, err = NewAnalyst(gen, 100, 0).Analyze(context.Background(), AnalysisRequest{Regulations: regs})
	require.Error(t, err)
	assert.False(t, fault.IsTransient(err))
}

func TestSplitHits(t *testing.T) {
	hits := []*models.SearchHit{
		{Record: record("a", models.DocumentTypeRegulation, "", "")},
		{Record: record("b", models.DocumentTypePolicy, "", "")},
		{Record: nil},
		{Record: record("c", models.DocumentTypeRegulation, "", "")},
	}
	regs, pols := SplitHits(hits)
	require.Len(t, regs, 2)
	require.Len(t, pols, 1)
	assert.Equal(t, "b", pols[0].DocumentID)
}

func TestDrafter_Draft(t *testing.T) {
	gaps := []*models.GapRecord{
		{ID: "gap-1", Title: "Retention", Severity: models.SeverityHigh},
		{ID: "gap-2", Title: "Outsourcing"},
	}
	gen := &scriptedGenerator{answer: `[
	 {"gap_id":"gap-1","amendment_title":"A","amendment_text":"text a"},
	 {"gap_id":"gap-2","amendment_title":"B","amendment_text":"text b"},
	 {"gap_id":"GAP-999","amendment_title":"C","amendment_text":"text c"}
	]`}
	d := NewDrafter(gen, 4000, 0.2)

	pols := []*models.VectorRecord{
		record("p1", models.DocumentTypePolicy, "P1", strings.Repeat("p", 1600)),
		record("p2", models.DocumentTypePolicy, "P2", "two"),
		record("p3", models.DocumentTypePolicy, "P3", "three"),
		record("p4", models.DocumentTypePolicy, "P4", "four"),
	}
	drafts, err := d.Draft(context.Background(), gaps, pols, "small insurer")
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "gap-1", drafts[0].GapID)
	assert.Equal(t, "gap-2", drafts[1].GapID)

	assert.InDelta(t, 0.2, gen.last.Temperature, 1e-9)
	assert.Contains(t, gen.last.Prompt, "Gap ID: gap-1")
	assert.Contains(t, gen.last.Prompt, "EXISTING POLICY 3")
	assert.NotContains(t, gen.last.Prompt, "EXISTING POLICY 4")
	assert.Contains(t, gen.last.Prompt, "small insurer")
	assert.NotContains(t, gen.last.Prompt, strings.Repeat("p", 1501))
}

func TestDrafter_SingleGapAdoptsDrafts(t *testing.T) {
	gen := &scriptedGenerator{answer: `[{"gap_id":"GAP-001","amendment_text":"text"}]`}
	drafts, err := NewDrafter(gen, 100, 0).Draft(context.Background(),
		[]*models.GapRecord{{ID: "gap-1"}}, nil, "")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "gap-1", drafts[0].GapID)
}
