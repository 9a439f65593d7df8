package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parley-ai/parley/approval"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/ledger"
	"github.com/parley-ai/parley/orchestrator"
)

// ErrorResponse carries the failure kind and human-readable reason for
// structured errors.
type ErrorResponse struct {
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason"`
}

// statusForFailure maps the conversation failure taxonomy onto HTTP codes.
func statusForFailure(kind core.FailureKind) int {
	switch kind {
	case core.FailureSecurityDenied, core.FailureApprovalDenied:
		return http.StatusForbidden
	case core.FailureBudgetExceeded:
		return http.StatusPaymentRequired
	case core.FailureCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleInvoke(c echo.Context) error {
	var req orchestrator.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message and user_id are required")
	}

	result, err := s.orch.Invoke(c.Request().Context(), req)
	if err != nil {
		if kind, ok := core.FailureKindOf(err); ok {
			return c.JSON(statusForFailure(kind), ErrorResponse{Kind: string(kind), Reason: err.Error()})
		}
		if errors.Is(err, core.ErrEmptyMessage) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Reason: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Reason: err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

// handleStream opens a streaming session and mirrors orchestrator events to
// the client as server-sent events, one JSON envelope per frame.
func (s *Server) handleStream(c echo.Context) error {
	message := c.QueryParam("message")
	userID := c.QueryParam("user_id")
	if message == "" || userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message and user_id are required")
	}
	agentName := c.QueryParam("agent_name")
	target := agentName
	if target == "" {
		target = "auto"
	}

	session := s.sessions.Open(userID, target)

	req := orchestrator.Request{
		Message:        message,
		UserID:         userID,
		ConversationID: c.QueryParam("conversation_id"),
	}
	if agentName != "" {
		req.Context = &orchestrator.InvokeContext{AgentName: agentName}
	}

	runCtx := c.Request().Context()
	go func() {
		if _, err := s.orch.Invoke(runCtx, req, session.Observer()); err != nil {
			session.Fail(err.Error())
			return
		}
		if closeErr := s.sessions.Close(session.ID); closeErr != nil && !errors.Is(closeErr, core.ErrSessionNotFound) {
			s.logger.Warn("stream.close_failed", "session_id", session.ID, "error", closeErr)
		}
	}()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Session-ID", session.ID)
	resp.WriteHeader(http.StatusOK)

	for {
		select {
		case <-runCtx.Done():
			// Client went away; the reaper or Close handles the session.
			return nil
		case ev, ok := <-session.Events():
			if !ok {
				return nil
			}
			if err := writeSSE(resp, ev); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev core.StreamEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}

func (s *Server) handleCloseSession(c echo.Context) error {
	if err := s.sessions.Close(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Reason: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateApprovalRequest is the body of POST /api/v1/approvals.
type CreateApprovalRequest struct {
	ID             string         `json:"id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	RequesterID    string         `json:"requester_id"`
	ActionPayload  map[string]any `json:"action_payload,omitempty"`
}

func (s *Server) handleCreateApproval(c echo.Context) error {
	var req CreateApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id is required")
	}
	created := s.orch.Approvals().Create(req.ID, req.ConversationID, req.RequesterID, req.ActionPayload)
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetApproval(c echo.Context) error {
	req, err := s.orch.Approvals().Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Reason: err.Error()})
	}
	return c.JSON(http.StatusOK, req)
}

func (s *Server) handleApprove(c echo.Context) error {
	return s.resolveApproval(c, s.orch.Approvals().Approve)
}

func (s *Server) handleDeny(c echo.Context) error {
	return s.resolveApproval(c, s.orch.Approvals().Deny)
}

func (s *Server) resolveApproval(c echo.Context, action func(string) (approval.Request, error)) error {
	req, err := action(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Reason: err.Error()})
	}
	return c.JSON(http.StatusOK, req)
}

// handlePricingRefresh replaces price table entries from a YAML body.
func (s *Server) handlePricingRefresh(c echo.Context) error {
	if s.prices == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "pricing refresh is not configured")
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if err := s.prices.LoadBytes(body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Reason: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCostOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Ledger().GetRealtimeOverview())
}

// SessionCostsResponse is the body of GET /api/v1/costs/sessions/:id.
type SessionCostsResponse struct {
	SessionID string              `json:"session_id"`
	TotalUSD  float64             `json:"total_usd"`
	Records   []ledger.CostRecord `json:"records"`
}

func (s *Server) handleSessionCosts(c echo.Context) error {
	id := c.Param("id")
	return c.JSON(http.StatusOK, SessionCostsResponse{
		SessionID: id,
		TotalUSD:  s.orch.Ledger().GetSessionTotal(id),
		Records:   s.orch.Ledger().GetSessionRecords(id),
	})
}
