// Package server exposes the workflow pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/audit"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/profile"
	"github.com/quantumflow/nevra/internal/workflow"
)

// Submitter runs workflows with bounded concurrency
type Submitter interface {
	Run(ctx context.Context, wc *models.WorkflowContext) (*models.WorkflowResult, error)
}

// ProfileWriter stores user profile data
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, p *profile.StoredProfile) error
}

// RunLog queries finished workflow runs
type RunLog interface {
	Query(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
	GetStats(ctx context.Context, userID string, since time.Time) (*audit.Stats, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// Options are the optional collaborators of a Server. Routes backed by a
// missing collaborator are not registered.
type Options struct {
	Gatherer prometheus.Gatherer
	Profiles ProfileWriter
	Runs     RunLog
}

// Server provides HTTP endpoints for nevra.
type Server struct {
	echo     *echo.Echo
	workflow Submitter
	opts     Options
	logger   *logging.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(submitter Submitter, logger *logging.Logger, cfg *Config, opts Options) (*Server, error) {
	if submitter == nil {
		return nil, errors.New("workflow submitter cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Addr: ":8080"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		workflow: submitter,
		opts:     opts,
		logger:   logger.Named("http"),
		config:   cfg,
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)

	s.registerRoutes()

	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/workflows", s.handleWorkflow)
	v1.POST("/workflows/stream", s.handleWorkflowStream)
	if s.opts.Profiles != nil {
		v1.PUT("/users/:id/profile", s.handleUpsertProfile)
	}
	if s.opts.Runs != nil {
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/stats", s.handleRunStats)
	}
}

// WorkflowRequest is the request body for POST /api/v1/workflows.
type WorkflowRequest struct {
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id"`
	Prompt    string           `json:"prompt"`
	Mode      models.Mode      `json:"mode"`
	Provider  string           `json:"provider"`
	History   []models.Message `json:"history"`
	Images    []string         `json:"images"`
	Framework string           `json:"framework"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ProfileRequest is the request body for PUT /api/v1/users/:id/profile.
type ProfileRequest struct {
	Name        string                 `json:"name"`
	Email       string                 `json:"email"`
	Preferences map[string]interface{} `json:"preferences"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// bindWorkflow validates the request body and converts it to a context
func (s *Server) bindWorkflow(c echo.Context) (*models.WorkflowContext, error) {
	var req WorkflowRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid workflow request", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" && len(req.Images) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}
	if req.Mode == "" {
		req.Mode = models.ModeBuilder
	}
	if !req.Mode.Valid() {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "mode must be builder or tutor")
	}

	return &models.WorkflowContext{
		RequestID:     c.Response().Header().Get(echo.HeaderXRequestID),
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Prompt:        req.Prompt,
		Mode:          req.Mode,
		Provider:      req.Provider,
		History:       req.History,
		Images:        req.Images,
		FrameworkHint: req.Framework,
	}, nil
}

func (s *Server) handleWorkflow(c echo.Context) error {
	wc, err := s.bindWorkflow(c)
	if err != nil {
		return err
	}

	result, err := s.workflow.Run(c.Request().Context(), wc)
	if err != nil {
		return submitError(err)
	}

	status := http.StatusOK
	if result.Metadata.FinalState == models.StateError {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, result)
}

// submitError maps pool failures to HTTP errors
func submitError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrQueueFull), errors.Is(err, workflow.ErrPoolClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is busy, retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusRequestTimeout, "request cancelled")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "workflow failed")
}

func (s *Server) handleUpsertProfile(c echo.Context) error {
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	p := &profile.StoredProfile{
		UserID:      c.Param("id"),
		Name:        req.Name,
		Email:       req.Email,
		Preferences: req.Preferences,
		UpdatedAt:   time.Now(),
	}
	if err := s.opts.Profiles.UpsertProfile(c.Request().Context(), p); err != nil {
		s.logger.Error(c.Request().Context(), "failed to store profile", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store profile")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleListRuns(c echo.Context) error {
	filter := audit.Filter{
		UserID:     c.QueryParam("user_id"),
		SessionID:  c.QueryParam("session_id"),
		FinalState: models.WorkflowState(c.QueryParam("state")),
		Limit:      50,
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		filter.Limit = n
	}
	if v := c.QueryParam("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC3339 timestamp")
		}
		filter.StartTime = since
	}

	runs, err := s.opts.Runs.Query(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to query runs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query runs")
	}
	if runs == nil {
		runs = []*audit.Entry{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleRunStats(c echo.Context) error {
	window := 24 * time.Hour
	if v := c.QueryParam("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "window must be a positive duration")
		}
		window = d
	}

	stats, err := s.opts.Runs.GetStats(c.Request().Context(), c.QueryParam("user_id"), time.Now().Add(-window))
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to aggregate runs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to aggregate runs")
	}
	return c.JSON(http.StatusOK, stats)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
