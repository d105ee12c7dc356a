package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/hyperjump/compliagent/internal/ids"
	"github.com/hyperjump/compliagent/internal/llm"
	"github.com/hyperjump/compliagent/internal/models"
)

type draftRun struct {
	input        models.AmendmentDraftingInput
	gaps         []*models.GapRecord
	attempts     map[string]int
	drafts       []models.DraftedAmendment
	amendmentIDs []string
	created      int
}

// amendmentDrafting is RetrieveGap, DraftAmendment, PersistAmendment.
func (s *Service) amendmentDrafting(in models.AmendmentDraftingInput) Definition {
	run := &draftRun{input: in}
	return Definition{
		Kind: models.WorkflowAmendmentDrafting,
		Steps: []Step{
			{State: StateRetrieveGap, Run: func(ctx context.Context) error { return s.retrieveGaps(ctx, run) }},
			{State: StateDraftAmendment, Run: func(ctx context.Context) error { return s.draftAmendments(ctx, run) }},
			{State: StatePersistAmendment, Run: func(ctx context.Context) error { return s.persistAmendments(ctx, run) }},
		},
		Output: func() any {
			return models.AmendmentDraftingOutput{
				GapIDs:            run.input.GapIDs,
				AmendmentIDs:      lo.Ternary(run.amendmentIDs == nil, []string{}, run.amendmentIDs),
				AmendmentsDrafted: len(run.drafts),
				AmendmentsCreated: run.created,
			}
		},
	}
}

// retrieveGaps loads every requested gap. A missing gap fails the execution. The draft attempt
// of each gap is fixed here so a retried persist step reproduces the same amendment ids.
func (s *Service) retrieveGaps(ctx context.Context, run *draftRun) error {
	run.gaps = make([]*models.GapRecord, 0, len(run.input.GapIDs))
	run.attempts = make(map[string]int, len(run.input.GapIDs))
	for _, id := range run.input.GapIDs {
		gap, err := s.store.GetGap(ctx, id)
		if err != nil {
			return err
		}
		n, err := s.store.CountAmendmentsForGap(ctx, id)
		if err != nil {
			return err
		}
		run.gaps = append(run.gaps, gap)
		run.attempts[id] = n + 1
	}
	return nil
}

func (s *Service) draftAmendments(ctx context.Context, run *draftRun) error {
	run.drafts = nil
	for _, batch := range lo.Chunk(run.gaps, s.draftBatch) {
		policies, err := s.relatedPolicies(ctx, batch)
		if err != nil {
			return err
		}
		drafts, err := s.drafter.Draft(ctx, batch, policies, run.input.OrganizationContext)
		if err != nil {
			return err
		}
		run.drafts = append(run.drafts, drafts...)
	}
	return nil
}

// relatedPolicies fetches the policy excerpts closest to what the batch of gaps is about.
func (s *Service) relatedPolicies(ctx context.Context, gaps []*models.GapRecord) ([]*models.VectorRecord, error) {
	text := strings.Join(lo.FilterMap(gaps, func(g *models.GapRecord, _ int) (string, bool) {
		t := strings.TrimSpace(g.Title + " " + g.RecommendedAction)
		return t, t != ""
	}), "; ")
	if text == "" {
		return nil, nil
	}
	resp, err := s.search.Search(ctx, &models.SearchQuery{
		Text:         text,
		Type:         models.SearchHybrid,
		Size:         relatedPolicyCount,
		DocumentType: models.DocumentTypePolicy,
	})
	if err != nil {
		return nil, err
	}
	_, policies := llm.SplitHits(resp.Hits)
	return policies, nil
}

func (s *Service) persistAmendments(ctx context.Context, run *draftRun) error {
	run.amendmentIDs, run.created = nil, 0
	now := time.Now().UTC()
	for _, d := range run.drafts {
		attempt := run.attempts[d.GapID]
		rec := &models.AmendmentRecord{
			ID:                   ids.AmendmentID(d.GapID, attempt, d.Text),
			GapID:                d.GapID,
			Attempt:              attempt,
			Title:                d.Title,
			AmendmentType:        d.AmendmentType,
			TargetPolicy:         d.TargetPolicy,
			AmendmentText:        d.Text,
			Rationale:            d.Rationale,
			ImplementationNotes:  d.ImplementationNotes,
			ComplianceMonitoring: d.ComplianceMonitoring,
			EffectiveDate:        d.EffectiveDate,
			Priority:             models.ParsePriority(d.Priority),
			Status:               models.AmendmentDraft,
			ExecutionID:          ExecutionID(ctx),
			CreatedAt:            now,
		}
		created, err := s.store.InsertAmendmentIfAbsent(ctx, rec)
		if err != nil {
			return err
		}
		run.amendmentIDs = append(run.amendmentIDs, rec.ID)
		if created {
			run.created++
			if s.amendmentObserver != nil {
				s.amendmentObserver(rec)
			}
		}
	}
	run.amendmentIDs = lo.Uniq(run.amendmentIDs)
	return nil
}
