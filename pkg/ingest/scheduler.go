// Package ingest schedules modality ingestion: periodic background runs
// plus on-demand triggers, one run per modality at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

// ErrRunInProgress rejects a trigger while the modality is already
// ingesting.
var ErrRunInProgress = errors.New("ingestion already in progress")

// ErrShuttingDown rejects triggers after Stop.
var ErrShuttingDown = errors.New("scheduler is shutting down")

const defaultInterval = 15 * time.Minute

// RunReport summarizes one ingestion run.
type RunReport struct {
	ModalityID string               `json:"modality_id"`
	Stats      modality.IngestStats `json:"stats"`
	Error      string               `json:"error,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	DurationMS float64              `json:"duration_ms"`
}

// Scheduler runs ingestion per modality. Within a modality runs are
// serial; across modalities they are independent. Every run, scheduled or
// triggered, lands in the registry state.
type Scheduler struct {
	registry *modality.Registry
	interval time.Duration
	monitor  *perf.Monitor
	logger   *slog.Logger

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(registry *modality.Registry, interval time.Duration, monitor *perf.Monitor) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		registry: registry,
		interval: interval,
		monitor:  monitor,
		logger:   slog.Default().With("component", "ingest-scheduler"),
		active:   map[string]context.CancelFunc{},
		stopCh:   make(chan struct{}),
	}
}

// SetInterval overrides the periodic cadence. Zero or negative disables
// periodic runs; triggers still work.
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.interval = interval
}

// Start launches the periodic loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runAll(ctx)
			}
		}
	}()
}

// Stop cancels in-flight runs and waits for everything to drain.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for id, cancel := range s.active {
			s.logger.Info("Cancelling in-flight ingestion", "modality", id)
			cancel()
		}
		s.mu.Unlock()
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Trigger starts one modality's ingestion in the background. Rejected when
// a run for that modality is already active.
func (s *Scheduler) Trigger(ctx context.Context, modalityID string, scope *config.ModalityScope) error {
	handler, err := s.ingestHandler(modalityID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return ErrShuttingDown
	}
	if _, busy := s.active[modalityID]; busy {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrRunInProgress, modalityID)
	}
	s.active[modalityID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, modalityID)
			s.mu.Unlock()
			cancel()
		}()
		s.runOne(runCtx, handler, scope)
	}()
	return nil
}

// RunNow runs one modality synchronously and returns its report. Used by
// tests and by callers that need the stats inline.
func (s *Scheduler) RunNow(ctx context.Context, modalityID string, scope *config.ModalityScope) (*RunReport, error) {
	handler, err := s.ingestHandler(modalityID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, busy := s.active[modalityID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, modalityID)
	}
	s.active[modalityID] = func() {}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, modalityID)
		s.mu.Unlock()
	}()

	report := s.runOne(ctx, handler, scope)
	return report, nil
}

// Active lists modalities with an in-flight run.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

func (s *Scheduler) ingestHandler(modalityID string) (modality.Handler, error) {
	for _, h := range s.registry.IngestionHandlers() {
		if h.ModalityID() == modalityID {
			return h, nil
		}
	}
	return nil, fmt.Errorf("modality %s is not enabled for ingestion", modalityID)
}

// runAll runs every ingestion-capable modality in declaration order,
// skipping any with an active run.
func (s *Scheduler) runAll(ctx context.Context) {
	for _, handler := range s.registry.IngestionHandlers() {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if _, err := s.RunNow(ctx, handler.ModalityID(), nil); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("Scheduled ingestion failed to start", "modality", handler.ModalityID(), "error", err)
		}
	}
}

// runOne executes the handler and records the outcome in the registry
// state, success or not.
func (s *Scheduler) runOne(ctx context.Context, handler modality.Handler, scope *config.ModalityScope) *RunReport {
	started := time.Now()
	id := handler.ModalityID()
	s.logger.Info("Ingestion run started", "modality", id)

	stats, err := handler.Ingest(ctx, scope)
	report := &RunReport{
		ModalityID: id,
		Stats:      stats,
		StartedAt:  started.UTC(),
		DurationMS: float64(time.Since(started)) / float64(time.Millisecond),
	}
	s.monitor.Observe("ingest_run_ms", time.Since(started))

	extra := map[string]any{
		"last_run_sources": stats.Sources,
		"last_run_chunks":  stats.Chunks,
		"last_run_skipped": stats.Skipped,
		"last_run_errors":  stats.Errors,
	}
	if err != nil {
		report.Error = err.Error()
		s.logger.Warn("Ingestion run failed", "modality", id, "error", err)
		if stateErr := s.registry.UpdateState(id, err, extra); stateErr != nil {
			s.logger.Warn("Failed to record ingestion failure", "modality", id, "error", stateErr)
		}
		return report
	}

	s.logger.Info("Ingestion run finished",
		"modality", id,
		"sources", stats.Sources,
		"chunks", stats.Chunks,
		"skipped", stats.Skipped,
		"errors", stats.Errors)
	if stateErr := s.registry.UpdateState(id, nil, extra); stateErr != nil {
		s.logger.Warn("Failed to record ingestion state", "modality", id, "error", stateErr)
	}
	return report
}
