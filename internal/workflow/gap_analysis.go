package workflow

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/hyperjump/compliagent/internal/ids"
	"github.com/hyperjump/compliagent/internal/llm"
	"github.com/hyperjump/compliagent/internal/models"
)

type gapRun struct {
	input       models.GapAnalysisInput
	retrieved   int
	regulations []*models.VectorRecord
	policies    []*models.VectorRecord
	candidates  []models.GapCandidate
	gapIDs      []string
	created     int
}

// gapAnalysis is QueryVectorIndex, AnalyzeForGaps, PersistGaps.
func (s *Service) gapAnalysis(in models.GapAnalysisInput) Definition {
	run := &gapRun{input: in}
	return Definition{
		Kind: models.WorkflowGapAnalysis,
		Steps: []Step{
			{State: StateQueryVectorIndex, Run: func(ctx context.Context) error { return s.queryVectorIndex(ctx, run) }},
			{State: StateAnalyzeForGaps, Run: func(ctx context.Context) error { return s.analyzeForGaps(ctx, run) }},
			{State: StatePersistGaps, Run: func(ctx context.Context) error { return s.persistGaps(ctx, run) }},
		},
		Output: func() any {
			return models.GapAnalysisOutput{
				QueryText:          run.input.QueryText,
				SearchType:         run.input.SearchType,
				DocumentsRetrieved: run.retrieved,
				GapIDs:             lo.Ternary(run.gapIDs == nil, []string{}, run.gapIDs),
				GapsIdentified:     len(run.gapIDs),
				GapsCreated:        run.created,
			}
		},
	}
}

func (s *Service) queryVectorIndex(ctx context.Context, run *gapRun) error {
	resp, err := s.search.Search(ctx, &models.SearchQuery{
		Text:         run.input.QueryText,
		Type:         run.input.SearchType,
		Size:         run.input.Size,
		RegulationID: run.input.RegulationID,
	})
	if err != nil {
		return err
	}
	run.retrieved = len(resp.Hits)
	run.regulations, run.policies = llm.SplitHits(resp.Hits)
	if len(run.regulations) == 0 || len(run.policies) > 0 {
		return nil
	}

	// The regulation scope filter excludes policies, so look them up separately.
	policies, err := s.search.Search(ctx, &models.SearchQuery{
		Text:         run.input.QueryText,
		Type:         run.input.SearchType,
		Size:         s.contextLimit,
		DocumentType: models.DocumentTypePolicy,
	})
	if err != nil {
		return err
	}
	_, run.policies = llm.SplitHits(policies.Hits)
	return nil
}

func (s *Service) analyzeForGaps(ctx context.Context, run *gapRun) error {
	candidates, err := s.analyst.Analyze(ctx, llm.AnalysisRequest{
		Regulations:  run.regulations,
		Policies:     run.policies,
		Context:      run.input.AnalysisContext,
		RegulationID: run.input.RegulationID,
	})
	if err != nil {
		return err
	}
	run.candidates = candidates
	return nil
}

func (s *Service) persistGaps(ctx context.Context, run *gapRun) error {
	run.gapIDs, run.created = nil, 0
	now := time.Now().UTC()
	for _, c := range run.candidates {
		rec := &models.GapRecord{
			ID:                  ids.GapID(c.RegulationID, c.Title, c.Description, c.SourceDocumentIDs),
			RegulationID:        c.RegulationID,
			Title:               c.Title,
			Description:         c.Description,
			Severity:            models.ParseSeverity(c.Severity),
			Status:              models.GapIdentified,
			GapType:             c.GapType,
			RiskLevel:           c.RiskLevel,
			RegulatoryReference: c.RegulatoryReference,
			PolicyReference:     c.PolicyReference,
			ImpactDescription:   c.ImpactDescription,
			RecommendedAction:   c.RecommendedAction,
			SourceDocumentIDs:   c.SourceDocumentIDs,
			ExecutionID:         ExecutionID(ctx),
			CreatedAt:           now,
		}
		created, err := s.store.InsertGapIfAbsent(ctx, rec)
		if err != nil {
			return err
		}
		run.gapIDs = append(run.gapIDs, rec.ID)
		if created {
			run.created++
			if s.gapObserver != nil {
				s.gapObserver(rec)
			}
		}
	}
	run.gapIDs = lo.Uniq(run.gapIDs)
	return nil
}
