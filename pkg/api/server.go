// Package api exposes the engine over HTTP: query, ingestion, status,
// investigations, traces, plan execution, memory, and sessions.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/incident"
	"github.com/latticehq/lattice/pkg/ingest"
	"github.com/latticehq/lattice/pkg/llm"
	"github.com/latticehq/lattice/pkg/memory"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/plan"
	"github.com/latticehq/lattice/pkg/search"
	"github.com/latticehq/lattice/pkg/severity"
)

// Deps bundles everything the handlers reach. Optional fields may be nil;
// their endpoints then answer 503.
type Deps struct {
	Config         *config.Config
	Orchestrator   *search.Orchestrator
	Scheduler      *ingest.Scheduler
	Registry       *modality.Registry
	Executor       *plan.Executor
	Traces         *incident.TraceStore
	Investigations *incident.InvestigationStore
	Builder        *incident.Builder
	Severity       *severity.Engine
	Synthesizer    *llm.AnswerSynthesizer
	Memory         *memory.Service
	Sessions       *memory.SessionStore
	Monitor        *perf.Monitor
}

// Server is the HTTP front of the engine.
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), securityHeaders())

	s := &Server{
		deps:   deps,
		engine: engine,
		logger: slog.Default().With("component", "api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/query", s.query)
	v1.POST("/ingest/:modality", s.triggerIngest)
	v1.GET("/status", s.status)
	v1.GET("/investigations", s.listInvestigations)
	v1.GET("/investigations/:id", s.getInvestigation)
	v1.POST("/investigations", s.buildInvestigation)
	v1.GET("/traces/:id", s.getTrace)
	v1.POST("/plan/execute", s.executePlan)
	v1.POST("/severity/score", s.scoreSeverity)
	v1.GET("/memory/:user", s.listMemories)
	v1.POST("/memory/:user", s.addMemory)
	v1.POST("/memory/:user/recall", s.recallMemories)
	v1.POST("/sessions", s.createSession)
	v1.GET("/sessions", s.listSessions)
	v1.GET("/sessions/:id", s.getSession)
	v1.DELETE("/sessions/:id", s.deleteSession)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is canceled, then shuts down gracefully within the
// timeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("API server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
