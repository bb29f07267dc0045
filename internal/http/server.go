// Package http provides the HTTP API over the governance service.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/analyzer"
	"github.com/fyrsmithlabs/buildmedic/internal/audit"
	"github.com/fyrsmithlabs/buildmedic/internal/confidence"
	"github.com/fyrsmithlabs/buildmedic/internal/fuzzy"
	"github.com/fyrsmithlabs/buildmedic/internal/governance"
	"github.com/fyrsmithlabs/buildmedic/internal/memory"
	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
	"github.com/fyrsmithlabs/buildmedic/internal/merge"
)

// maxImportSize caps memory package uploads.
const maxImportSize = 10 * 1024 * 1024 // 10MB

// Server provides HTTP endpoints for buildmedic.
type Server struct {
	echo     *echo.Echo
	svc      governance.Service
	analyzer analyzer.Analyzer
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(svc governance.Service, an analyzer.Analyzer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("governance service is required")
	}
	if an == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8787,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		svc:      svc,
		analyzer: an,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/analyze", s.handleAnalyze)
	v1.GET("/knowledge", s.handleKnowledge)
	v1.GET("/history", s.handleHistory)
	v1.POST("/history", s.handleRecordRepair)
	v1.POST("/history/feedback", s.handleRepairFeedback)
	v1.DELETE("/history", s.handleClearHistory)
	v1.GET("/memory/export", s.handleExport)
	v1.POST("/memory/import", s.handleImport)
	v1.GET("/quarantine", s.handleQuarantine)
	v1.POST("/quarantine/:id/approve", s.handleApprove)
	v1.POST("/quarantine/:id/reject", s.handleReject)
	v1.GET("/audit", s.handleAudit)
	v1.POST("/audit/:id/rollback", s.handleRollback)
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, memorypack.ErrMalformedPackage),
		errors.Is(err, memorypack.ErrInvalidSchema),
		errors.Is(err, governance.ErrInvalidStrategy),
		errors.Is(err, audit.ErrNotRollbackable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, governance.ErrPackageNotFound),
		errors.Is(err, governance.ErrRepairNotFound),
		errors.Is(err, audit.ErrTargetNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, governance.ErrPackageNotPending),
		errors.Is(err, audit.ErrAlreadyRolledBack):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// AnalyzeRequest is the request body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	Log string `json:"log"`
}

// Finding is one analyzer result enriched with local memory.
type Finding struct {
	memory.AnalysisResult
	Known      bool               `json:"known"`
	Confidence confidence.Details `json:"confidence"`
	SimilarFix *fuzzy.Candidate   `json:"similarFix,omitempty"`
}

// handleAnalyze runs the analyzer over a log, records unseen findings in
// the knowledge base, and enriches each finding with confidence and the
// closest historical fix. Analyzer failure degrades to the fallback
// finding instead of an error; the log view must always render.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Log == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "log field is required")
	}

	ctx := c.Request().Context()

	results, err := s.analyzer.Analyze(ctx, req.Log)
	if err != nil {
		s.logger.Warn("log analysis failed", zap.Error(err))
		results = analyzer.Fallback()
	}

	kb, err := s.svc.Knowledge(ctx)
	if err != nil {
		return httpError(err)
	}

	findings := make([]Finding, 0, len(results))
	for _, result := range results {
		known := memory.IsKnownError(result, kb)
		if !known && result.Match != "Analysis Failed" {
			if err := s.svc.RecordAnalysis(ctx, result); err != nil {
				return httpError(err)
			}
		}

		details, err := s.svc.ConfidenceFor(ctx, result.Match)
		if err != nil {
			return httpError(err)
		}
		candidate, err := s.svc.SimilarFix(ctx, result.Match)
		if err != nil {
			return httpError(err)
		}

		findings = append(findings, Finding{
			AnalysisResult: result,
			Known:          known,
			Confidence:     details,
			SimilarFix:     candidate,
		})
	}

	return c.JSON(http.StatusOK, findings)
}

func (s *Server) handleKnowledge(c echo.Context) error {
	kb, err := s.svc.Knowledge(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if kb == nil {
		kb = []memory.KnowledgeBaseEntry{}
	}
	return c.JSON(http.StatusOK, kb)
}

func (s *Server) handleHistory(c echo.Context) error {
	history, err := s.svc.History(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if history == nil {
		history = []memory.RepairHistoryEntry{}
	}
	return c.JSON(http.StatusOK, history)
}

// RecordRepairRequest is the request body for POST /api/v1/history.
type RecordRepairRequest struct {
	Match  string `json:"match"`
	Script string `json:"script"`
}

func (s *Server) handleRecordRepair(c echo.Context) error {
	var req RecordRepairRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Match == "" || req.Script == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "match and script fields are required")
	}

	entry, err := s.svc.RecordRepair(c.Request().Context(), req.Match, req.Script)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// RepairFeedbackRequest is the request body for POST /api/v1/history/feedback.
type RepairFeedbackRequest struct {
	Timestamp int64               `json:"timestamp"`
	Status    memory.RepairStatus `json:"status"`
}

func (s *Server) handleRepairFeedback(c echo.Context) error {
	var req RepairFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status != memory.StatusSuccess && req.Status != memory.StatusFailed {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be success or failed")
	}

	if err := s.svc.RepairFeedback(c.Request().Context(), req.Timestamp, req.Status); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearHistory(c echo.Context) error {
	if err := s.svc.ClearHistory(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleExport(c echo.Context) error {
	raw, err := s.svc.ExportPackage(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="memory-package.json"`)
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, raw)
}

func (s *Server) handleImport(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	pkg, err := s.svc.ImportPackage(c.Request().Context(), raw)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, pkg)
}

func (s *Server) handleQuarantine(c echo.Context) error {
	pending, err := s.svc.PendingImports(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pending)
}

// ApproveRequest is the request body for POST /api/v1/quarantine/:id/approve.
type ApproveRequest struct {
	Strategy merge.Strategy `json:"strategy"`
}

func (s *Server) handleApprove(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Strategy == "" {
		req.Strategy = merge.PreferLocal
	}

	entry, err := s.svc.Approve(c.Request().Context(), c.Param("id"), req.Strategy)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) handleReject(c echo.Context) error {
	if err := s.svc.Reject(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAudit(c echo.Context) error {
	log, err := s.svc.AuditLog(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if log == nil {
		log = []audit.Entry{}
	}
	return c.JSON(http.StatusOK, log)
}

func (s *Server) handleRollback(c echo.Context) error {
	if err := s.svc.Rollback(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
