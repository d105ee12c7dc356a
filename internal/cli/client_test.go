package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/realtime"
)

func TestClient_StartGapAnalysis(t *testing.T) {
	var got models.GapAnalysisInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workflows/gap-analysis", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(models.ExecutionStarted{ExecutionID: "exec-1"})
	}))
	defer srv.Close()

	started, err := NewClient(srv.URL+"/").StartGapAnalysis(context.Background(), models.GapAnalysisInput{QueryText: "AML", RegulationID: "626"})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", started.ExecutionID)
	assert.Equal(t, "626", got.RegulationID)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"gap g1 is resolved, not identified"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).AcknowledgeGap(context.Background(), "g1", "alice", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "not identified")
}

func TestClient_ListGapsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "identified", q.Get("status"))
		assert.Equal(t, "critical", q.Get("severity"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Empty(t, q.Get("regulationId"))
		_ = json.NewEncoder(w).Encode(map[string]any{"gaps": []models.GapRecord{{ID: "g1"}}, "count": 1})
	}))
	defer srv.Close()

	gaps, err := NewClient(srv.URL).ListGaps(context.Background(), models.GapFilter{
		Status: models.GapIdentified, Severity: models.SeverityCritical, Limit: 20,
	})
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "g1", gaps[0].ID)
}

func TestClient_WaitExecution(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := models.ExecutionRunning
		if calls.Add(1) >= 3 {
			status = models.ExecutionSucceeded
		}
		_ = json.NewEncoder(w).Encode(models.WorkflowExecution{ID: "exec-1", Status: status})
	}))
	defer srv.Close()

	exec, err := NewClient(srv.URL).WaitExecution(context.Background(), "exec-1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, exec.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_EventsURL(t *testing.T) {
	u, err := NewClient("https://compliance.example.com/").EventsURL([]string{"gap.created", "gap.updated"})
	require.NoError(t, err)
	assert.Equal(t, "wss://compliance.example.com/ws?types=gap.created%2Cgap.updated", u)

	u, err = NewClient("http://localhost:8080").EventsURL(nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", u)
}

func TestClient_FollowEvents(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			hub.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan StreamEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewClient(srv.URL).FollowEvents(ctx, []string{realtime.EventGapCreated}, func(ev StreamEvent) error {
			received <- ev
			cancel()
			return nil
		})
	}()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(realtime.EventDocumentStatus, map[string]string{"documentId": "d1"})
	hub.Publish(realtime.EventGapCreated, map[string]string{"gapId": "g1"})

	select {
	case ev := <-received:
		assert.Equal(t, realtime.EventGapCreated, ev.Type)
		assert.JSONEq(t, `{"gapId":"g1"}`, string(ev.Data))
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
	assert.NoError(t, <-done)
}
