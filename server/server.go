// Package server exposes the orchestration engine over HTTP: synchronous
// invoke, the SSE streaming session protocol, approval actions, pricing
// refresh, and cost rollups.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-ai/parley/ledger"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/orchestrator"
	"github.com/parley-ai/parley/stream"
)

// Config holds the HTTP surface configuration.
type Config struct {
	Host string
	Port int
}

// Server wires the orchestrator and streaming manager into echo routes.
type Server struct {
	echo     *echo.Echo
	orch     *orchestrator.Orchestrator
	sessions *stream.Manager
	prices   *ledger.PriceTable
	logger   logging.Logger
	config   Config
}

// New creates the HTTP server. A nil gatherer skips the /metrics route.
func New(
	orch *orchestrator.Orchestrator,
	sessions *stream.Manager,
	prices *ledger.PriceTable,
	logger logging.Logger,
	cfg Config,
	gatherer prometheus.Gatherer,
) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http.request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start).String(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		orch:     orch,
		sessions: sessions,
		prices:   prices,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/conversations/invoke", s.handleInvoke)
	v1.GET("/conversations/stream", s.handleStream)
	v1.DELETE("/sessions/:id", s.handleCloseSession)

	v1.POST("/approvals", s.handleCreateApproval)
	v1.GET("/approvals/:id", s.handleGetApproval)
	v1.POST("/approvals/:id/approve", s.handleApprove)
	v1.POST("/approvals/:id/deny", s.handleDeny)

	v1.POST("/pricing/refresh", s.handlePricingRefresh)
	v1.GET("/costs/overview", s.handleCostOverview)
	v1.GET("/costs/sessions/:id", s.handleSessionCosts)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start begins serving and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http.starting", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http.shutting_down")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }
