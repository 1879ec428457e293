package perf

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorCounters(t *testing.T) {
	m := NewMonitor()
	m.Incr("queries")
	m.Incr("queries")
	m.Add("chunks_indexed", 40)

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Counters["queries"])
	assert.Equal(t, int64(40), s.Counters["chunks_indexed"])
}

func TestMonitorHistogram(t *testing.T) {
	m := NewMonitor()
	m.Observe("fanout_ms", 100*time.Millisecond)
	m.Observe("fanout_ms", 300*time.Millisecond)

	h := m.Snapshot().Histograms["fanout_ms"]
	assert.Equal(t, int64(2), h.Count)
	assert.Equal(t, float64(100), h.Min)
	assert.Equal(t, float64(300), h.Max)
	assert.Equal(t, float64(200), h.Avg)
}

func TestMonitorCacheHitRate(t *testing.T) {
	m := NewMonitor()
	m.CacheHit("video_meta")
	m.CacheHit("video_meta")
	m.CacheMiss("video_meta")

	c := m.Snapshot().Caches["video_meta"]
	assert.Equal(t, int64(2), c.Hits)
	assert.Equal(t, int64(1), c.Misses)
	assert.InDelta(t, 2.0/3.0, c.HitRate, 1e-9)
}

func TestMonitorConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Incr("n")
				m.ObserveValue("v", float64(j))
				m.CacheHit("c")
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(1600), s.Counters["n"])
	assert.Equal(t, int64(1600), s.Histograms["v"].Count)
}
