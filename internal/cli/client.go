package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

// Status mirrors the server's /api/v1/status payload.
type Status struct {
	Documents       map[models.DocumentStatus]int64 `json:"documents"`
	Vectors         int64                           `json:"vectors"`
	VectorIndexSize int                             `json:"vectorIndexSize"`
	DiskUsageBytes  int64                           `json:"diskUsageBytes,omitempty"`
	DiskUsage       map[string]int64                `json:"diskUsage,omitempty"`
	Config          map[string]any                  `json:"config,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the compliagent HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Search runs a similarity query.
func (c *Client) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/search", q, &out)
}

// NotifyObjectCreated posts an object-created event.
func (c *Client) NotifyObjectCreated(ctx context.Context, ev models.ObjectCreated) error {
	return c.do(ctx, http.MethodPost, "/api/v1/events/object-created", ev, nil)
}

// StartGapAnalysis starts a gap-analysis execution.
func (c *Client) StartGapAnalysis(ctx context.Context, in models.GapAnalysisInput) (*models.ExecutionStarted, error) {
	var out models.ExecutionStarted
	return &out, c.do(ctx, http.MethodPost, "/api/v1/workflows/gap-analysis", in, &out)
}

// StartAmendmentDrafting starts an amendment-drafting execution.
func (c *Client) StartAmendmentDrafting(ctx context.Context, in models.AmendmentDraftingInput) (*models.ExecutionStarted, error) {
	var out models.ExecutionStarted
	return &out, c.do(ctx, http.MethodPost, "/api/v1/workflows/amendment-drafting", in, &out)
}

// GetExecution fetches one execution with its step log.
func (c *Client) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	var out models.WorkflowExecution
	return &out, c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(id), nil, &out)
}

// WaitExecution polls until the execution is terminal or ctx is done.
func (c *Client) WaitExecution(ctx context.Context, id string, interval time.Duration) (*models.WorkflowExecution, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		exec, err := c.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.Status.Terminal() {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListGaps lists gaps matching f.
func (c *Client) ListGaps(ctx context.Context, f models.GapFilter) ([]*models.GapRecord, error) {
	q := url.Values{}
	setIf(q, "status", string(f.Status))
	setIf(q, "severity", string(f.Severity))
	setIf(q, "regulationId", f.RegulationID)
	setIf(q, "executionId", f.ExecutionID)
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var out struct {
		Gaps []*models.GapRecord `json:"gaps"`
	}
	return out.Gaps, c.do(ctx, http.MethodGet, withQuery("/api/v1/gaps", q), nil, &out)
}

// AcknowledgeGap moves an identified gap to acknowledged.
func (c *Client) AcknowledgeGap(ctx context.Context, id, by, notes string) (*models.GapRecord, error) {
	var out models.GapRecord
	body := map[string]string{"acknowledgedBy": by, "notes": notes}
	return &out, c.do(ctx, http.MethodPost, "/api/v1/gaps/"+url.PathEscape(id)+"/acknowledge", body, &out)
}

// ResolveGap moves an acknowledged gap to resolved.
func (c *Client) ResolveGap(ctx context.Context, id, by, notes string) (*models.GapRecord, error) {
	var out models.GapRecord
	body := map[string]string{"resolvedBy": by, "notes": notes}
	return &out, c.do(ctx, http.MethodPost, "/api/v1/gaps/"+url.PathEscape(id)+"/resolve", body, &out)
}

// ListAmendments lists amendments matching f.
func (c *Client) ListAmendments(ctx context.Context, f models.AmendmentFilter) ([]*models.AmendmentRecord, error) {
	q := url.Values{}
	setIf(q, "status", string(f.Status))
	setIf(q, "gapId", f.GapID)
	setIf(q, "executionId", f.ExecutionID)
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var out struct {
		Amendments []*models.AmendmentRecord `json:"amendments"`
	}
	return out.Amendments, c.do(ctx, http.MethodGet, withQuery("/api/v1/amendments", q), nil, &out)
}

// ApproveAmendment moves a draft amendment to approved.
func (c *Client) ApproveAmendment(ctx context.Context, id, by, notes string) (*models.AmendmentRecord, error) {
	var out models.AmendmentRecord
	body := map[string]string{"approvedBy": by, "approvalNotes": notes}
	return &out, c.do(ctx, http.MethodPost, "/api/v1/amendments/"+url.PathEscape(id)+"/approve", body, &out)
}

// Status fetches document counts and index sizes.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	return &out, c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is the server running at %s?): %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
