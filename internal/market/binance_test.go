package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func klinesPayload(start time.Time, interval time.Duration, closes ...float64) [][]any {
	out := make([][]any, 0, len(closes))
	ts := start
	for _, c := range closes {
		out = append(out, []any{
			float64(ts.UnixMilli()),
			"100.0", // open
			"101.0", // high
			"99.0",  // low
			formatF(c),
			"500.0", // volume
			float64(ts.Add(interval).UnixMilli() - 1),
			"0", 0.0, "0", "0", "0",
		})
		ts = ts.Add(interval)
	}
	return out
}

func formatF(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func TestBinanceProviderGetBars(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q", got)
		}
		// Honor startTime the way the real endpoint does, so paging stops.
		from, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		all := klinesPayload(start, time.Hour, 100.5, 101.5, 102.5)
		page := make([][]any, 0, len(all))
		for _, k := range all {
			if int64(k[0].(float64)) >= from {
				page = append(page, k)
			}
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	p := NewBinanceProvider(false)
	p.baseURL = srv.URL

	bars, err := p.GetBars(context.Background(), "BTCUSDT", "1h", start, start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("len = %d", len(bars))
	}
	if !bars[0].Timestamp.Equal(start) {
		t.Fatalf("first timestamp = %v", bars[0].Timestamp)
	}
	if bars[2].Close != 102.5 {
		t.Fatalf("last close = %v", bars[2].Close)
	}

	// Second identical request should come from the cache.
	before := calls.Load()
	if _, err := p.GetBars(context.Background(), "BTCUSDT", "1h", start, start.Add(3*time.Hour)); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if calls.Load() != before {
		t.Fatal("cache miss on identical request")
	}
}

func TestBinanceProviderVenueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	p := NewBinanceProvider(false)
	p.baseURL = srv.URL
	if _, err := p.GetBars(context.Background(), "BTCUSDT", "1h", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error")
	}
}
