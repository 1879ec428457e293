package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

type slowHandler struct {
	id      string
	err     error
	block   chan struct{}
	mu      sync.Mutex
	runs    int
	stats   modality.IngestStats
	lastCtx context.Context
}

func (h *slowHandler) ModalityID() string { return h.id }
func (h *slowHandler) CanIngest() bool    { return true }
func (h *slowHandler) CanQuery() bool     { return true }

func (h *slowHandler) Ingest(ctx context.Context, _ *config.ModalityScope) (modality.IngestStats, error) {
	h.mu.Lock()
	h.runs++
	h.lastCtx = ctx
	h.mu.Unlock()
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return modality.IngestStats{}, ctx.Err()
		}
	}
	return h.stats, h.err
}

func (h *slowHandler) Query(context.Context, string, int) ([]modality.Result, error) {
	return nil, nil
}

func (h *slowHandler) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

func newScheduler(t *testing.T, handlers ...modality.Handler) (*Scheduler, *modality.Registry) {
	t.Helper()
	cfg := &config.SearchConfig{Enabled: true, Modalities: map[string]config.ModalityConfig{}}
	store, err := modality.NewStateStore(t.TempDir())
	require.NoError(t, err)
	reg := modality.NewRegistry(cfg, store)
	for _, h := range handlers {
		cfg.Modalities[h.ModalityID()] = config.ModalityConfig{Enabled: true}
		reg.Register(h)
	}
	return NewScheduler(reg, time.Hour, perf.NewMonitor()), reg
}

func TestRunNowRecordsStateOnSuccess(t *testing.T) {
	h := &slowHandler{id: "docs", stats: modality.IngestStats{Sources: 3, Chunks: 9}}
	sched, reg := newScheduler(t, h)

	report, err := sched.RunNow(context.Background(), "docs", nil)
	require.NoError(t, err)
	assert.Empty(t, report.Error)
	assert.Equal(t, 3, report.Stats.Sources)

	state, ok := reg.State("docs")
	require.True(t, ok)
	assert.Empty(t, state.LastError)
	assert.False(t, state.LastIndexedAt.IsZero())
	assert.EqualValues(t, 9, state.Extra["last_run_chunks"])
}

func TestRunNowRecordsFailure(t *testing.T) {
	h := &slowHandler{id: "docs", err: errors.New("root missing")}
	sched, reg := newScheduler(t, h)

	report, err := sched.RunNow(context.Background(), "docs", nil)
	require.NoError(t, err)
	assert.Contains(t, report.Error, "root missing")

	state, ok := reg.State("docs")
	require.True(t, ok)
	assert.Contains(t, state.LastError, "root missing")
}

func TestRunNowUnknownModality(t *testing.T) {
	sched, _ := newScheduler(t)
	_, err := sched.RunNow(context.Background(), "ghost", nil)
	assert.Error(t, err)
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	h := &slowHandler{id: "docs", block: make(chan struct{})}
	sched, _ := newScheduler(t, h)

	require.NoError(t, sched.Trigger(context.Background(), "docs", nil))
	require.Eventually(t, func() bool { return h.runCount() == 1 }, time.Second, 5*time.Millisecond)

	err := sched.Trigger(context.Background(), "docs", nil)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, []string{"docs"}, sched.Active())

	close(h.block)
	require.Eventually(t, func() bool { return len(sched.Active()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopCancelsInFlightRuns(t *testing.T) {
	h := &slowHandler{id: "docs", block: make(chan struct{})}
	sched, _ := newScheduler(t, h)

	require.NoError(t, sched.Trigger(context.Background(), "docs", nil))
	require.Eventually(t, func() bool { return h.runCount() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not drain in-flight runs")
	}

	err := sched.Trigger(context.Background(), "docs", nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}
