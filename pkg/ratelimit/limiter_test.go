package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances manually so window math is deterministic.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(rpm, tpm int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(rpm, tpm, 1.0)
	l.now = clock.now
	return l, clock
}

func TestLimiterAdmitsUnderBudget(t *testing.T) {
	l, _ := newTestLimiter(10, 1000)
	for i := 0; i < 5; i++ {
		require.Zero(t, l.tryReserve(100))
	}
	reqs, toks := l.InWindow()
	assert.Equal(t, 5, reqs)
	assert.Equal(t, 500, toks)
}

func TestLimiterBlocksOnRequestBudget(t *testing.T) {
	l, clock := newTestLimiter(3, 0)
	for i := 0; i < 3; i++ {
		require.Zero(t, l.tryReserve(0))
	}
	wait := l.tryReserve(0)
	assert.Greater(t, wait, time.Duration(0))

	// After the window slides, the budget frees up.
	clock.advance(61 * time.Second)
	assert.Zero(t, l.tryReserve(0))
}

func TestLimiterBlocksOnTokenBudget(t *testing.T) {
	l, clock := newTestLimiter(0, 1000)
	require.Zero(t, l.tryReserve(900))
	wait := l.tryReserve(200)
	assert.Greater(t, wait, time.Duration(0))

	clock.advance(61 * time.Second)
	assert.Zero(t, l.tryReserve(200))
}

func TestLimiterWaitIsMaxOfBoth(t *testing.T) {
	l, clock := newTestLimiter(1, 1000)
	require.Zero(t, l.tryReserve(1000))

	// Request budget frees at +60s; token budget also frees at +60s.
	// At +30s both still block.
	clock.advance(30 * time.Second)
	wait := l.tryReserve(500)
	assert.InDelta(t, float64(30*time.Second), float64(wait), float64(time.Second))
}

func TestLimiterSafetyMargin(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLimiter(10, 0, 0.9)
	l.now = clock.now

	// Effective budget is 9, not 10.
	for i := 0; i < 9; i++ {
		require.Zero(t, l.tryReserve(0))
	}
	assert.Greater(t, l.tryReserve(0), time.Duration(0))
}

func TestLimiterSmallBudgetWithMargin(t *testing.T) {
	// rpm=1 with a 0.9 margin would truncate to 0; the effective budget must
	// clamp to 1 so the first call is admitted instead of panicking.
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLimiter(1, 1, 0.9)
	l.now = clock.now

	require.Zero(t, l.tryReserve(1))
	assert.Greater(t, l.tryReserve(1), time.Duration(0))

	clock.advance(61 * time.Second)
	assert.Zero(t, l.tryReserve(1))
}

func TestRecordUsageAdjustsReservation(t *testing.T) {
	l, _ := newTestLimiter(0, 1000)
	require.Zero(t, l.tryReserve(600))
	l.RecordUsage(100)

	_, toks := l.InWindow()
	assert.Equal(t, 100, toks)
	// The freed budget admits the next call.
	assert.Zero(t, l.tryReserve(800))
}

func TestAcquireCancelable(t *testing.T) {
	l := NewLimiter(1, 0, 1.0)
	require.NoError(t, l.Acquire(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolKeyStable(t *testing.T) {
	a := PoolKey("sk-1", "gpt-4o-mini")
	assert.Equal(t, a, PoolKey("sk-1", "gpt-4o-mini"))
	assert.NotEqual(t, a, PoolKey("sk-2", "gpt-4o-mini"))
	assert.NotEqual(t, a, PoolKey("sk-1", "other-model"))
}
