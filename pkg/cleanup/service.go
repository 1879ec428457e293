// Package cleanup provides data retention over sessions, memories, and
// query traces.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/incident"
	"github.com/latticehq/lattice/pkg/memory"
)

// Service periodically enforces retention policies:
//   - Prunes idle sessions past their max age
//   - Runs decay/TTL cleanup on every open memory store
//   - Trims the query trace log to its cap
//
// All operations are idempotent.
type Service struct {
	config   config.RetentionConfig
	memories *memory.Service
	sessions *memory.SessionStore
	traces   *incident.TraceStore
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(
	cfg config.RetentionConfig,
	memories *memory.Service,
	sessions *memory.SessionStore,
	traces *incident.TraceStore,
) *Service {
	return &Service{
		config:   cfg,
		memories: memories,
		sessions: sessions,
		traces:   traces,
		logger:   slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention service started",
		"session_max_age", s.config.SessionMaxAge(),
		"max_traces", s.config.MaxTraces,
		"interval", s.config.Interval())
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll()

	interval := s.config.Interval()
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll()
		}
	}
}

// RunAll performs one retention sweep.
func (s *Service) RunAll() {
	s.pruneSessions()
	s.cleanupMemories()
	s.trimTraces()
}

func (s *Service) pruneSessions() {
	if s.sessions == nil || s.config.SessionMaxAge() <= 0 {
		return
	}
	if count := s.sessions.Prune(s.config.SessionMaxAge()); count > 0 {
		s.logger.Info("Retention: pruned idle sessions", "count", count)
	}
}

func (s *Service) cleanupMemories() {
	if s.memories == nil {
		return
	}
	if count := s.memories.CleanupAll(); count > 0 {
		s.logger.Info("Retention: expired memories removed", "count", count)
	}
}

func (s *Service) trimTraces() {
	if s.traces == nil || s.config.MaxTraces <= 0 {
		return
	}
	dropped, err := s.traces.Trim(s.config.MaxTraces)
	if err != nil {
		s.logger.Error("Retention: trace trim failed", "error", err)
		return
	}
	if dropped > 0 {
		s.logger.Info("Retention: trimmed query traces", "dropped", dropped)
	}
}
