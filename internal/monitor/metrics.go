// Package monitor collects lightweight runtime metrics: bus event counters,
// bar-processing latency, and process stats.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// Metrics accumulates counters and latency samples for the whole process.
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]uint64
	startedAt time.Time

	BarLatency *LatencyHistogram
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		counters:   make(map[string]uint64),
		startedAt:  time.Now(),
		BarLatency: NewLatencyHistogram(1000),
	}
}

// Inc bumps a named counter.
func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.counters[name]++
	m.mu.Unlock()
}

// Snapshot returns a point-in-time view suitable for JSON encoding.
func (m *Metrics) Snapshot() map[string]any {
	m.mu.RLock()
	counters := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	started := m.startedAt
	m.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]any{
		"uptime_seconds": time.Since(started).Seconds(),
		"events":         counters,
		"bar_latency_ms": m.BarLatency.Stats(),
		"goroutines":     runtime.NumGoroutine(),
		"heap_mb":        float64(mem.HeapAlloc) / (1 << 20),
	}
}

// LatencyHistogram tracks samples over a sliding window.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

// NewLatencyHistogram creates a sliding-window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size}
}

// Record adds a sample in milliseconds.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, ms)
	h.mu.Unlock()
}

// LatencyStats summarizes a window.
type LatencyStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// Stats computes summary statistics over the current window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	sorted := make([]float64, len(h.samples))
	copy(sorted, h.samples)
	h.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(sorted)

	sum := 0.0
	for _, s := range sorted {
		sum += s
	}
	return LatencyStats{
		Count: len(sorted),
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Max:   sorted[len(sorted)-1],
	}
}

func percentile(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
