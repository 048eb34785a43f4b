// Package http serves the iosmd API: health, Prometheus metrics, per-system status
// and history, and run triggers.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/scheduler"
	"github.com/rokoss21/IOSM/internal/telemetry"
)

// RunController starts runs and reports the active one.
type RunController interface {
	Trigger(ctx context.Context, systemID string, resume bool) (string, error)
	Active(systemID string) (string, bool)
}

// Deps are the collaborators behind the API. Only History is required.
type Deps struct {
	History   history.Store
	Runs      RunController
	Tracker   *Tracker
	Gatherer  prometheus.Gatherer
	Telemetry *telemetry.Telemetry
	Version   string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the iosmd HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.History == nil {
		return nil, fmt.Errorf("history store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9464,
		}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
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
			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	systems := s.echo.Group("/api/v1/systems/:system")
	systems.GET("/status", s.handleStatus)
	systems.GET("/history", s.handleHistory)
	systems.POST("/runs", s.handleRun)
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleHealth reports "degraded" when telemetry export failed; the API still serves.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.deps.Version}
	if s.deps.Telemetry != nil {
		health := s.deps.Telemetry.Health()
		resp.Telemetry = &health
		if health.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	system := c.Param("system")

	resp := StatusResponse{SystemID: system}
	if s.deps.Runs != nil {
		_, resp.Running = s.deps.Runs.Active(system)
	}
	if s.deps.Tracker != nil {
		if live, ok := s.deps.Tracker.Status(system); ok {
			resp.Live = &live
		}
	}
	last, ok, err := history.LastRun(ctx, s.deps.History, system)
	if err != nil {
		s.logger.Warn(ctx, "failed to read history", zap.String("system_id", system), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "history unavailable")
	}
	if ok {
		resp.LastRun = &last
	}
	if resp.Live == nil && resp.LastRun == nil && !resp.Running {
		return echo.NewHTTPError(http.StatusNotFound, "unknown system")
	}
	return c.JSON(http.StatusOK, resp)
}

// handleHistory returns the run summaries of a system and the entries of one run:
// the run named by ?run_id, or the most recent one.
func (s *Server) handleHistory(c echo.Context) error {
	ctx := c.Request().Context()
	system := c.Param("system")

	runs, err := s.deps.History.Runs(ctx, system)
	if err != nil {
		s.logger.Warn(ctx, "failed to read history", zap.String("system_id", system), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "history unavailable")
	}

	runID := c.QueryParam("run_id")
	if runID == "" && len(runs) > 0 {
		runID = runs[0].RunID
	}
	resp := HistoryResponse{SystemID: system, Runs: runs}
	if runID != "" {
		resp.Entries, err = s.deps.History.Load(ctx, history.Filter{SystemID: system, RunID: runID})
		if err != nil {
			s.logger.Warn(ctx, "failed to load run", zap.String("run_id", runID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "history unavailable")
		}
	}
	if resp.Runs == nil {
		resp.Runs = []history.RunSummary{}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRun(c echo.Context) error {
	if s.deps.Runs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "runs are not enabled")
	}
	system := c.Param("system")

	var req RunRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	runID, err := s.deps.Runs.Trigger(c.Request().Context(), system, req.Resume)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, "run already in progress")
	case errors.Is(err, scheduler.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	case err != nil:
		s.logger.Warn(c.Request().Context(), "failed to start run", zap.String("system_id", system), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	s.logger.Info(c.Request().Context(), "run triggered", zap.String("system_id", system), zap.String("run_id", runID))
	return c.JSON(http.StatusAccepted, RunResponse{SystemID: system, RunID: runID})
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
