package monitor

import (
	"context"
	"testing"
	"time"

	"strategy-core/internal/events"
)

func TestCountersAndSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Inc("bar")
	m.Inc("bar")
	m.Inc("signal")

	snap := m.Snapshot()
	counters, ok := snap["events"].(map[string]uint64)
	if !ok {
		t.Fatalf("events = %T", snap["events"])
	}
	if counters["bar"] != 2 || counters["signal"] != 1 {
		t.Fatalf("counters = %v", counters)
	}
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}
	stats := h.Stats()
	if stats.Count != 100 {
		t.Fatalf("count = %d", stats.Count)
	}
	if stats.Max != 100 {
		t.Fatalf("max = %v", stats.Max)
	}
	if stats.P50 < 49 || stats.P50 > 51 {
		t.Fatalf("p50 = %v", stats.P50)
	}
	if stats.Mean != 50.5 {
		t.Fatalf("mean = %v", stats.Mean)
	}
}

func TestLatencyHistogramWindowSlides(t *testing.T) {
	h := NewLatencyHistogram(10)
	for i := 0; i < 25; i++ {
		h.Record(float64(i))
	}
	stats := h.Stats()
	if stats.Count != 10 {
		t.Fatalf("count = %d", stats.Count)
	}
	// only the last 10 samples (15..24) remain
	if stats.Max != 24 || stats.P50 < 15 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWatchCountsBusEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	m := NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Watch(ctx, bus, m)

	bus.Publish(events.EventSignal, "s1")
	bus.Publish(events.EventSignal, "s2")
	bus.Publish(events.EventOrderFilled, "o1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.Snapshot()
		counters := snap["events"].(map[string]uint64)
		if counters[string(events.EventSignal)] == 2 && counters[string(events.EventOrderFilled)] == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("counters never converged: %v", m.Snapshot()["events"])
}
