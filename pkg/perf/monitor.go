// Package perf provides the process-wide performance monitor: counters,
// latency histograms, and cache hit rates, exposed as a summary snapshot.
package perf

import (
	"sort"
	"sync"
	"time"
)

// Monitor collects runtime telemetry. All methods are safe for concurrent
// use. Constructed once at startup and passed into components; the telemetry
// accessor in Default() exists for call sites without wiring.
type Monitor struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]*histogram
	caches     map[string]*cacheStats
	startedAt  time.Time
}

type histogram struct {
	count   int64
	sum     float64
	min     float64
	max     float64
	samples []float64 // bounded ring for percentile estimates
	next    int
}

const histogramSampleCap = 512

type cacheStats struct {
	hits   int64
	misses int64
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		counters:   make(map[string]int64),
		histograms: make(map[string]*histogram),
		caches:     make(map[string]*cacheStats),
		startedAt:  time.Now(),
	}
}

var (
	defaultMonitor     *Monitor
	defaultMonitorOnce sync.Once
)

// Default returns the process-wide monitor. Prefer explicit injection; this
// accessor serves leaf call sites that only record telemetry.
func Default() *Monitor {
	defaultMonitorOnce.Do(func() {
		defaultMonitor = NewMonitor()
	})
	return defaultMonitor
}

// Incr increments a counter by one.
func (m *Monitor) Incr(name string) { m.Add(name, 1) }

// Add increments a counter by delta.
func (m *Monitor) Add(name string, delta int64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

// Observe records a duration sample into a histogram.
func (m *Monitor) Observe(name string, d time.Duration) {
	m.ObserveValue(name, float64(d.Milliseconds()))
}

// ObserveValue records a raw numeric sample into a histogram.
func (m *Monitor) ObserveValue(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		h = &histogram{min: v, max: v}
		m.histograms[name] = h
	}
	h.count++
	h.sum += v
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
	if len(h.samples) < histogramSampleCap {
		h.samples = append(h.samples, v)
	} else {
		h.samples[h.next] = v
		h.next = (h.next + 1) % histogramSampleCap
	}
}

// CacheHit records a hit for the named cache.
func (m *Monitor) CacheHit(name string) {
	m.mu.Lock()
	m.cache(name).hits++
	m.mu.Unlock()
}

// CacheMiss records a miss for the named cache.
func (m *Monitor) CacheMiss(name string) {
	m.mu.Lock()
	m.cache(name).misses++
	m.mu.Unlock()
}

func (m *Monitor) cache(name string) *cacheStats {
	c, ok := m.caches[name]
	if !ok {
		c = &cacheStats{}
		m.caches[name] = c
	}
	return c
}

// HistogramSummary is the snapshot of one histogram.
type HistogramSummary struct {
	Count int64   `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// CacheSummary is the snapshot of one cache.
type CacheSummary struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Summary is a point-in-time snapshot of all telemetry.
type Summary struct {
	UptimeSeconds float64                     `json:"uptime_seconds"`
	Counters      map[string]int64            `json:"counters"`
	Histograms    map[string]HistogramSummary `json:"histograms"`
	Caches        map[string]CacheSummary     `json:"caches"`
}

// Snapshot returns a copy of the current telemetry state.
func (m *Monitor) Snapshot() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
		Counters:      make(map[string]int64, len(m.counters)),
		Histograms:    make(map[string]HistogramSummary, len(m.histograms)),
		Caches:        make(map[string]CacheSummary, len(m.caches)),
	}
	for k, v := range m.counters {
		s.Counters[k] = v
	}
	for k, h := range m.histograms {
		sum := HistogramSummary{Count: h.count, Min: h.min, Max: h.max}
		if h.count > 0 {
			sum.Avg = h.sum / float64(h.count)
		}
		if len(h.samples) > 0 {
			sorted := make([]float64, len(h.samples))
			copy(sorted, h.samples)
			sort.Float64s(sorted)
			sum.P50 = sorted[len(sorted)/2]
			sum.P95 = sorted[(len(sorted)*95)/100]
		}
		s.Histograms[k] = sum
	}
	for k, c := range m.caches {
		cs := CacheSummary{Hits: c.hits, Misses: c.misses}
		if total := c.hits + c.misses; total > 0 {
			cs.HitRate = float64(c.hits) / float64(total)
		}
		s.Caches[k] = cs
	}
	return s
}
