package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/models"
)

// Drafter asks the drafting model for policy amendments.
type Drafter struct {
	gen         Generator
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewDrafter creates a drafter. It honours WithLogger.
func NewDrafter(gen Generator, maxTokens int, temperature float64, opts ...Option) *Drafter {
	o := applyOptions(opts)
	return &Drafter{gen: gen, maxTokens: maxTokens, temperature: temperature, logger: o.logger}
}

// Draft returns amendments for one batch of gaps. Every returned draft names a gap of the batch;
// drafts naming an unknown gap are dropped unless the batch holds a single gap.
func (d *Drafter) Draft(ctx context.Context, gaps []*models.GapRecord, policies []*models.VectorRecord, organizationContext string) ([]models.DraftedAmendment, error) {
	if len(gaps) == 0 {
		return nil, nil
	}
	answer, err := d.gen.Generate(ctx, Request{
		System:      amendmentSystemPrompt,
		Prompt:      amendmentPrompt(gaps, policies, organizationContext),
		MaxTokens:   d.maxTokens,
		Temperature: d.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to draft amendments: %w", err)
	}
	drafts, err := ParseAmendments(answer)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(gaps))
	for _, g := range gaps {
		known[g.ID] = true
	}
	out := drafts[:0]
	for _, dr := range drafts {
		if !known[dr.GapID] {
			if len(gaps) != 1 {
				d.logger.Warn("dropping amendment for unknown gap", zap.String("gap_id", dr.GapID), zap.String("title", dr.Title))
				continue
			}
			dr.GapID = gaps[0].ID
		}
		out = append(out, dr)
	}
	d.logger.Debug("amendment drafting answered",
		zap.String("model", d.gen.Model()),
		zap.Int("gaps", len(gaps)),
		zap.Int("amendments", len(out)))
	return out, nil
}
