package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/hyperjump/compliagent/internal/llm"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/storage"
)

// Workflow states.
const (
	StateQueryVectorIndex = "QueryVectorIndex"
	StateAnalyzeForGaps   = "AnalyzeForGaps"
	StatePersistGaps      = "PersistGaps"
	StateRetrieveGap      = "RetrieveGap"
	StateDraftAmendment   = "DraftAmendment"
	StatePersistAmendment = "PersistAmendment"
)

const (
	defaultDraftBatch   = 3
	defaultContextLimit = 5
	relatedPolicyCount  = 3
)

// ErrInvalidInput is returned before an execution starts when its input is unusable.
var ErrInvalidInput = errors.New("invalid workflow input")

// Searcher queries the vector index.
type Searcher interface {
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
}

// GapAnalyzer finds gaps in retrieved context.
type GapAnalyzer interface {
	Analyze(ctx context.Context, req llm.AnalysisRequest) ([]models.GapCandidate, error)
}

// AmendmentDrafter drafts amendments for a batch of gaps.
type AmendmentDrafter interface {
	Draft(ctx context.Context, gaps []*models.GapRecord, policies []*models.VectorRecord, organizationContext string) ([]models.DraftedAmendment, error)
}

// RecordStore persists the workflows' results.
type RecordStore interface {
	storage.GapStore
	storage.AmendmentStore
}

// Service builds and starts gap-analysis and amendment-drafting executions.
type Service struct {
	engine       *Engine
	store        RecordStore
	search       Searcher
	analyst      GapAnalyzer
	drafter      AmendmentDrafter
	draftBatch   int
	contextLimit int

	gapObserver       func(*models.GapRecord)
	amendmentObserver func(*models.AmendmentRecord)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDraftBatch sets how many gaps go into one drafting call.
func WithDraftBatch(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.draftBatch = n
		}
	}
}

// WithContextLimit sets how many policy chunks are fetched when the query found none.
func WithContextLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.contextLimit = n
		}
	}
}

// WithGapObserver registers a callback invoked for every newly persisted gap.
func WithGapObserver(fn func(*models.GapRecord)) ServiceOption {
	return func(s *Service) { s.gapObserver = fn }
}

// WithAmendmentObserver registers a callback invoked for every newly persisted amendment.
func WithAmendmentObserver(fn func(*models.AmendmentRecord)) ServiceOption {
	return func(s *Service) { s.amendmentObserver = fn }
}

// NewService wires the workflows to their collaborators.
func NewService(engine *Engine, store RecordStore, search Searcher, analyst GapAnalyzer, drafter AmendmentDrafter, opts ...ServiceOption) *Service {
	s := &Service{
		engine:       engine,
		store:        store,
		search:       search,
		analyst:      analyst,
		drafter:      drafter,
		draftBatch:   defaultDraftBatch,
		contextLimit: defaultContextLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartGapAnalysis validates in and starts a gap-analysis execution in the background.
func (s *Service) StartGapAnalysis(ctx context.Context, in models.GapAnalysisInput) (*models.ExecutionStarted, error) {
	if err := normalizeGapInput(&in); err != nil {
		return nil, err
	}
	return s.engine.Start(ctx, s.gapAnalysis(in), in)
}

// RunGapAnalysis runs a gap-analysis execution to completion.
func (s *Service) RunGapAnalysis(ctx context.Context, in models.GapAnalysisInput) (*models.WorkflowExecution, error) {
	if err := normalizeGapInput(&in); err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, s.gapAnalysis(in), in)
}

// StartAmendmentDrafting validates in and starts an amendment-drafting execution in the background.
func (s *Service) StartAmendmentDrafting(ctx context.Context, in models.AmendmentDraftingInput) (*models.ExecutionStarted, error) {
	if err := normalizeDraftingInput(&in); err != nil {
		return nil, err
	}
	return s.engine.Start(ctx, s.amendmentDrafting(in), in)
}

// RunAmendmentDrafting runs an amendment-drafting execution to completion.
func (s *Service) RunAmendmentDrafting(ctx context.Context, in models.AmendmentDraftingInput) (*models.WorkflowExecution, error) {
	if err := normalizeDraftingInput(&in); err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, s.amendmentDrafting(in), in)
}

func normalizeGapInput(in *models.GapAnalysisInput) error {
	q := models.SearchQuery{Text: in.QueryText, Type: in.SearchType, Size: in.Size}
	if err := q.Validate(in.Size, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	in.QueryText = q.Text
	in.SearchType = q.Type
	in.RegulationID = strings.TrimSpace(in.RegulationID)
	return nil
}

func normalizeDraftingInput(in *models.AmendmentDraftingInput) error {
	in.GapIDs = lo.Uniq(lo.Compact(lo.Map(in.GapIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})))
	if len(in.GapIDs) == 0 {
		return fmt.Errorf("%w: gapIds cannot be empty", ErrInvalidInput)
	}
	return nil
}
