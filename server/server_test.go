package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/agent"
	"github.com/parley-ai/parley/approval"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/ledger"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/model"
	"github.com/parley-ai/parley/orchestrator"
	"github.com/parley-ai/parley/stream"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator, *stream.Manager) {
	t.Helper()
	lead := agent.NewParticipant(
		core.ParticipantInfo{Name: "lead", Role: core.RoleLead},
		"You coordinate the discussion.",
		model.NewMockModel("mock"),
		nil,
	)
	registry, err := agent.NewRegistry(lead)
	require.NoError(t, err)

	prices := ledger.NewPriceTable()
	orch := orchestrator.New(registry, func(o *orchestrator.Options) {
		o.Ledger = ledger.New(prices)
	})
	sessions := stream.NewManager(func(o *stream.Options) {
		o.HeartbeatInterval = time.Hour
		o.ReapInterval = time.Hour
	})
	t.Cleanup(sessions.Shutdown)

	srv, err := New(orch, sessions, prices, logging.NopLogger{}, Config{}, nil)
	require.NoError(t, err)
	return srv, orch, sessions
}

func TestHandleInvoke(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"message":"Hello, say hi.","user_id":"u1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/invoke", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.TurnCount)
	assert.Equal(t, []string{"lead"}, result.AgentsUsed)
}

func TestHandleInvoke_SecurityDenied(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"message":"run rm -rf / now","user_id":"u1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/invoke", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(core.FailureSecurityDenied), resp.Kind)
}

func TestHandleInvoke_MissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/invoke", strings.NewReader(`{}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInvoke_WhitespaceMessage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Passes the non-empty field check but is rejected by the pipeline.
	body := `{"message":"   ","user_id":"u1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/invoke", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	createBody := `{"id":"ap-9","conversation_id":"c1","requester_id":"u1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals", strings.NewReader(createBody))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/approvals/ap-9/approve", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved approval.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, approval.StatusApproved, resolved.Status)

	// Deny after approve is a no-op returning the approved state.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/approvals/ap-9/deny", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, approval.StatusApproved, resolved.Status)
}

func TestApproval_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/approvals/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPricingRefresh(t *testing.T) {
	srv, _, _ := newTestServer(t)

	good := "mock:\n  mock:\n    input_per_1k: 0.002\n    output_per_1k: 0.004\n"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/refresh", bytes.NewBufferString(good)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	bad := "mock:\n  mock:\n    input_per_1k: -1\n"
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/refresh", bytes.NewBufferString(bad)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCostEndpoints(t *testing.T) {
	srv, orch, _ := newTestServer(t)
	orch.Ledger().RecordSpend("c1", "mock", "mock", 1000, 1000, "lead")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/costs/overview", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var overview ledger.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, 1, overview.RecordCount)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/costs/sessions/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var costs SessionCostsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &costs))
	require.Len(t, costs.Records, 1)
	assert.Positive(t, costs.TotalUSD)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStream_EmitsSessionCreatedFirst(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/conversations/stream?message=Hello&user_id=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var events []core.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev core.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
		if ev.Event == core.EventFinal || ev.Event == core.EventError {
			break
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, core.EventStatus, events[0].Event)
	assert.Equal(t, "session_created", events[0].Data.Content)
	assert.Equal(t, core.EventFinal, events[len(events)-1].Event)
}

func TestCloseSession_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

const echoContentType = "Content-Type"
