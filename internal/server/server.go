// Package server provides the HTTP API for compliagent.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/internal/ledger"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/ocr"
	"github.com/hyperjump/compliagent/internal/storage"
)

// Searcher runs similarity queries.
type Searcher interface {
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
	VectorIndexSize() int
}

// Workflows starts executions.
type Workflows interface {
	StartGapAnalysis(ctx context.Context, in models.GapAnalysisInput) (*models.ExecutionStarted, error)
	StartAmendmentDrafting(ctx context.Context, in models.AmendmentDraftingInput) (*models.ExecutionStarted, error)
}

// Publisher broadcasts record changes to real-time clients.
type Publisher interface {
	Publish(eventType string, data any)
}

// Deps are the collaborators behind the API.
type Deps struct {
	Store     storage.Storage
	Ledger    *ledger.Ledger
	Search    Searcher
	Workflows Workflows
	// ObjectCreated accepts object-created events posted from outside the process.
	ObjectCreated func(ctx context.Context, ev models.ObjectCreated) error
	// Completion accepts extraction job-completion notifications.
	Completion func(ctx context.Context, c ocr.Completion) error
	Events     Publisher
	Stream     http.Handler
	Config     *config.Config
}

// Server is the HTTP server for the compliagent API.
type Server struct {
	deps   Deps
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
		config.ApplyDefaults(deps.Config)
	}
	return &Server{deps: deps, logger: logger}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.deps.Stream != nil {
		r.Handle("/ws", s.deps.Stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/search", s.handleSearch)

			r.Post("/events/object-created", s.handleObjectCreated)
			r.Post("/events/ocr-completion", s.handleOCRCompletion)

			r.Post("/workflows/gap-analysis", s.handleStartGapAnalysis)
			r.Post("/workflows/amendment-drafting", s.handleStartAmendmentDrafting)
			r.Get("/executions", s.handleListExecutions)
			r.Get("/executions/{id}", s.handleGetExecution)

			r.Get("/gaps", s.handleListGaps)
			r.Get("/gaps/{id}", s.handleGetGap)
			r.Post("/gaps/{id}/acknowledge", s.handleAcknowledgeGap)
			r.Post("/gaps/{id}/resolve", s.handleResolveGap)

			r.Get("/amendments", s.handleListAmendments)
			r.Get("/amendments/{id}", s.handleGetAmendment)
			r.Post("/amendments/{id}/approve", s.handleApproveAmendment)

			r.Get("/documents", s.handleListDocuments)
			r.Get("/documents/{id}", s.handleGetDocument)

			r.Get("/status", s.handleStatus)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	cfg := s.deps.Config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
