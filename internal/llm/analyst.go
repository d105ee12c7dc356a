package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/models"
)

// AnalysisRequest is the retrieved context for one gap analysis.
type AnalysisRequest struct {
	Regulations []*models.VectorRecord
	Policies    []*models.VectorRecord
	Context     string
	// RegulationID scopes the analysis. It is used for candidates whose reference names no regulation.
	RegulationID string
}

// Analyst asks the reasoning model for compliance gaps.
type Analyst struct {
	gen          Generator
	maxTokens    int
	temperature  float64
	contextLimit int
	logger       *zap.Logger
}

// NewAnalyst creates an analyst. It honours WithContextLimit and WithLogger.
func NewAnalyst(gen Generator, maxTokens int, temperature float64, opts ...Option) *Analyst {
	o := applyOptions(opts)
	return &Analyst{gen: gen, maxTokens: maxTokens, temperature: temperature, contextLimit: o.contextLimit, logger: o.logger}
}

// SplitHits separates retrieved chunks into regulatory documents and internal policies.
func SplitHits(hits []*models.SearchHit) (regulations, policies []*models.VectorRecord) {
	for _, h := range hits {
		if h == nil || h.Record == nil {
			continue
		}
		if h.Record.Type == models.DocumentTypePolicy {
			policies = append(policies, h.Record)
		} else {
			regulations = append(regulations, h.Record)
		}
	}
	return regulations, policies
}

// Analyze returns the gaps the model finds in req. An empty context yields no candidates
// without calling the model.
func (a *Analyst) Analyze(ctx context.Context, req AnalysisRequest) ([]models.GapCandidate, error) {
	if len(req.Regulations) == 0 && len(req.Policies) == 0 {
		return []models.GapCandidate{}, nil
	}
	answer, err := a.gen.Generate(ctx, Request{
		System:      gapSystemPrompt,
		Prompt:      gapPrompt(req.Regulations, req.Policies, req.Context, a.contextLimit),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze gaps: %w", err)
	}
	candidates, err := ParseGaps(answer)
	if err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(req.Regulations)+len(req.Policies))
	seen := make(map[string]bool)
	for _, r := range append(append([]*models.VectorRecord{}, req.Regulations...), req.Policies...) {
		if !seen[r.DocumentID] {
			seen[r.DocumentID] = true
			sources = append(sources, r.DocumentID)
		}
	}
	for i := range candidates {
		c := &candidates[i]
		c.RegulationID = models.RegulationID(c.RegulatoryReference)
		if c.RegulationID == models.UnknownRegulation && req.RegulationID != "" {
			c.RegulationID = req.RegulationID
		}
		c.SourceDocumentIDs = sources
	}
	a.logger.Debug("gap analysis answered",
		zap.String("model", a.gen.Model()),
		zap.Int("regulations", len(req.Regulations)),
		zap.Int("policies", len(req.Policies)),
		zap.Int("gaps", len(candidates)))
	return candidates, nil
}
