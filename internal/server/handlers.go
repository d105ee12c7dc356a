package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/ocr"
	"github.com/hyperjump/compliagent/internal/realtime"
	"github.com/hyperjump/compliagent/internal/storage"
	"github.com/hyperjump/compliagent/internal/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg := s.deps.Config.Search
	if err := query.Validate(cfg.DefaultSize, cfg.MaxSize); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Text), zap.String("type", string(query.Type)), zap.Int("size", query.Size))
	response, err := s.deps.Search.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleObjectCreated(w http.ResponseWriter, r *http.Request) {
	var ev models.ObjectCreated
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.Bucket == "" || ev.ObjectKey == "" {
		s.respondError(w, http.StatusBadRequest, "bucket and objectKey are required")
		return
	}
	if s.deps.ObjectCreated == nil {
		s.respondError(w, http.StatusNotImplemented, "object events not enabled")
		return
	}
	if err := s.deps.ObjectCreated(r.Context(), ev); err != nil {
		s.logger.Error("object-created event rejected", zap.String("bucket", ev.Bucket), zap.String("key", ev.ObjectKey), zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleOCRCompletion(w http.ResponseWriter, r *http.Request) {
	var c ocr.Completion
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := c.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Completion == nil {
		s.respondError(w, http.StatusNotImplemented, "completion events not enabled")
		return
	}
	if err := s.deps.Completion(r.Context(), c); err != nil {
		s.logger.Error("completion event rejected", zap.String("job_id", c.JobID), zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStartGapAnalysis(w http.ResponseWriter, r *http.Request) {
	var in models.GapAnalysisInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	started, err := s.deps.Workflows.StartGapAnalysis(r.Context(), in)
	if err != nil {
		s.respondFault(w, "start gap analysis", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, started)
}

func (s *Server) handleStartAmendmentDrafting(w http.ResponseWriter, r *http.Request) {
	var in models.AmendmentDraftingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	started, err := s.deps.Workflows.StartAmendmentDrafting(r.Context(), in)
	if err != nil {
		s.respondFault(w, "start amendment drafting", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, started)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	execs, err := s.deps.Store.ListExecutions(r.Context(),
		models.WorkflowKind(q.Get("kind")),
		models.ExecutionStatus(q.Get("status")),
		listLimit(q.Get("limit")))
	if err != nil {
		s.respondFault(w, "list executions", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFault(w, "get execution", err)
		return
	}
	s.respondJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListGaps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.GapFilter{
		Status:       models.GapStatus(q.Get("status")),
		Severity:     models.Severity(strings.ToLower(q.Get("severity"))),
		RegulationID: q.Get("regulationId"),
		ExecutionID:  q.Get("executionId"),
		Limit:        listLimit(q.Get("limit")),
	}
	gaps, err := s.deps.Store.ListGaps(r.Context(), f)
	if err != nil {
		s.respondFault(w, "list gaps", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"gaps": gaps, "count": len(gaps)})
}

func (s *Server) handleGetGap(w http.ResponseWriter, r *http.Request) {
	gap, err := s.deps.Store.GetGap(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFault(w, "get gap", err)
		return
	}
	s.respondJSON(w, http.StatusOK, gap)
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy"`
	Notes          string `json:"notes"`
}

type resolveRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	Notes      string `json:"notes"`
}

type approveRequest struct {
	ApprovedBy    string `json:"approvedBy"`
	ApprovalNotes string `json:"approvalNotes"`
}

func (s *Server) handleAcknowledgeGap(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AcknowledgedBy == "" {
		s.respondError(w, http.StatusBadRequest, "acknowledgedBy is required")
		return
	}
	s.advanceGap(w, r, models.GapAcknowledged, req.AcknowledgedBy, req.Notes)
}

func (s *Server) handleResolveGap(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ResolvedBy == "" {
		s.respondError(w, http.StatusBadRequest, "resolvedBy is required")
		return
	}
	s.advanceGap(w, r, models.GapResolved, req.ResolvedBy, req.Notes)
}

// advanceGap moves a gap to status to, which must be the successor of its current status.
func (s *Server) advanceGap(w http.ResponseWriter, r *http.Request, to models.GapStatus, by, notes string) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	gap, err := s.deps.Store.GetGap(ctx, id)
	if err != nil {
		s.respondFault(w, "get gap", err)
		return
	}
	from := gap.Status
	if from.Next() != to {
		s.respondFault(w, "advance gap", fault.InvalidTransition("advance gap", "gap %s is %s and cannot become %s", id, from, to))
		return
	}
	ok, err := s.deps.Store.AdvanceGapStatus(ctx, id, from, to, by, notes)
	if err != nil {
		s.respondFault(w, "advance gap", err)
		return
	}
	if !ok {
		s.respondFault(w, "advance gap", fault.InvalidTransition("advance gap", "gap %s changed concurrently, expected %s", id, from))
		return
	}
	if gap, err = s.deps.Store.GetGap(ctx, id); err != nil {
		s.respondFault(w, "get gap", err)
		return
	}
	s.logger.Info("gap status changed", zap.String("gap_id", id), zap.String("status", string(to)), zap.String("by", by))
	s.publish(realtime.EventGapUpdated, gap)
	s.respondJSON(w, http.StatusOK, gap)
}

func (s *Server) handleListAmendments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.AmendmentFilter{
		Status:      models.AmendmentStatus(q.Get("status")),
		GapID:       q.Get("gapId"),
		ExecutionID: q.Get("executionId"),
		Limit:       listLimit(q.Get("limit")),
	}
	amendments, err := s.deps.Store.ListAmendments(r.Context(), f)
	if err != nil {
		s.respondFault(w, "list amendments", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"amendments": amendments, "count": len(amendments)})
}

func (s *Server) handleGetAmendment(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Store.GetAmendment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFault(w, "get amendment", err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleApproveAmendment(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ApprovedBy == "" {
		s.respondError(w, http.StatusBadRequest, "approvedBy is required")
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	a, err := s.deps.Store.GetAmendment(ctx, id)
	if err != nil {
		s.respondFault(w, "get amendment", err)
		return
	}
	ok, err := s.deps.Store.AdvanceAmendmentStatus(ctx, id, models.AmendmentDraft, models.AmendmentApproved, req.ApprovedBy, req.ApprovalNotes)
	if err != nil {
		s.respondFault(w, "approve amendment", err)
		return
	}
	if !ok {
		s.respondFault(w, "approve amendment", fault.InvalidTransition("approve amendment", "amendment %s is %s, not %s", id, a.Status, models.AmendmentDraft))
		return
	}
	if a, err = s.deps.Store.GetAmendment(ctx, id); err != nil {
		s.respondFault(w, "get amendment", err)
		return
	}
	s.logger.Info("amendment approved", zap.String("amendment_id", id), zap.String("by", req.ApprovedBy))
	s.publish(realtime.EventAmendmentUpdated, a)
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	docs, err := s.deps.Ledger.List(r.Context(), models.DocumentStatus(q.Get("status")), offset, listLimit(q.Get("limit")))
	if err != nil {
		s.respondFault(w, "list documents", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	doc, err := s.deps.Ledger.Get(ctx, id)
	if err != nil {
		s.respondFault(w, "get document", err)
		return
	}
	history, err := s.deps.Ledger.History(ctx, id)
	if err != nil {
		s.respondFault(w, "document history", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"document": doc, "history": history})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := s.deps.Ledger.Counts(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	vectors, err := s.deps.Store.CountVectors(ctx)
	if err != nil {
		s.logger.Error("status: count vectors failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg := s.deps.Config
	resp := map[string]any{
		"documents":       counts,
		"vectors":         vectors,
		"vectorIndexSize": s.deps.Search.VectorIndexSize(),
		"config": map[string]any{
			"embeddingProvider":   cfg.Embedding.Provider,
			"embeddingDimensions": cfg.Embedding.Dimensions,
			"llmProvider":         cfg.LLM.Provider,
			"llmModel":            cfg.LLM.Model,
			"chunkSize":           cfg.Chunking.ChunkSize,
			"databasePath":        cfg.Storage.DatabasePath,
		},
	}
	usage, err := storage.MeasureUsage(map[string]string{
		"database":        cfg.Storage.DatabasePath,
		"keywordIndex":    cfg.Storage.BleveIndexPath,
		"vectorSnapshot":  cfg.Storage.VectorIndexPath,
		"rawBucket":       cfg.Buckets.RawDir,
		"processedBucket": cfg.Buckets.ProcessedDir,
	})
	if err != nil {
		s.logger.Warn("status: disk usage unavailable", zap.Error(err))
	} else {
		resp["diskUsageBytes"] = usage.Total
		resp["diskUsage"] = usage.Stores
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) publish(eventType string, data any) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(eventType, data)
	}
}

func listLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

func (s *Server) respondFault(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, workflow.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case fault.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, err.Error())
	case fault.IsInvalidTransition(err):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
