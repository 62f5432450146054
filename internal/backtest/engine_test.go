package backtest

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"strategy-core/internal/market"
	"strategy-core/internal/sandbox"
)

func dailyBars(closes ...float64) []market.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

func flatBars(n int, price float64) []market.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return dailyBars(closes...)
}

func runBacktest(t *testing.T, cfg Config, code string, bars []market.Bar) *Result {
	t.Helper()
	e := NewEngine(nil)
	res := e.Run(context.Background(), cfg, code, sandbox.DefaultPolicy(), bars)
	if res.FinishedAt == nil {
		t.Fatal("finished timestamp not set")
	}
	return res
}

func TestNoSignalRun(t *testing.T) {
	code := `
def on_bar(ctx, bar):
    pass
`
	cfg := Config{Symbol: "BTCUSDT", InitialCapital: 10000, FeeRate: 0.001}
	res := runBacktest(t, cfg, code, flatBars(100, 100))

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if len(res.EquityCurve) != 100 {
		t.Fatalf("equity points = %d, want 100", len(res.EquityCurve))
	}
	for i, p := range res.EquityCurve {
		if p.Equity != 10000 {
			t.Fatalf("point %d equity = %v, want 10000", i, p.Equity)
		}
	}
	if res.Metrics.TotalTrades != 0 {
		t.Fatalf("trades = %d, want 0", res.Metrics.TotalTrades)
	}
	if res.Metrics.TotalReturn != 0 || res.Metrics.TotalReturnPct != 0 {
		t.Fatalf("return = %v (%v%%), want 0", res.Metrics.TotalReturn, res.Metrics.TotalReturnPct)
	}
}

func TestBuySellRoundTrip(t *testing.T) {
	code := `
def on_bar(ctx, bar):
    if bar.index == 0:
        ctx.buy(quantity=1)
    elif bar.index == 1:
        ctx.sell(quantity=1)
`
	cfg := Config{Symbol: "BTCUSDT", InitialCapital: 10000, FeeRate: 0.001}
	res := runBacktest(t, cfg, code, dailyBars(100, 110, 110))

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if res.SignalCount != 2 {
		t.Fatalf("signals = %d, want 2", res.SignalCount)
	}
	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(res.Trades))
	}

	final := res.EquityCurve[len(res.EquityCurve)-1].Equity
	if math.Abs(final-10009.79) > 1e-9 {
		t.Fatalf("final equity = %v, want 10009.79", final)
	}
	if math.Abs(res.Metrics.TotalReturn-9.79) > 1e-9 {
		t.Fatalf("total return = %v, want 9.79", res.Metrics.TotalReturn)
	}
	if res.Metrics.WinningTrades != 1 || res.Metrics.LosingTrades != 0 {
		t.Fatalf("wins/losses = %d/%d", res.Metrics.WinningTrades, res.Metrics.LosingTrades)
	}
	if res.Metrics.WinRate != 100 {
		t.Fatalf("win rate = %v", res.Metrics.WinRate)
	}
}

func TestLimitOrderFillsDuringReplay(t *testing.T) {
	code := `
def on_bar(ctx, bar):
    if bar.index == 0:
        ctx.buy(quantity=1, price=95.0, kind="limit")
`
	cfg := Config{Symbol: "BTCUSDT", InitialCapital: 10000}
	// Bar 2's low (94) crosses the 95 limit.
	res := runBacktest(t, cfg, code, dailyBars(100, 99, 95, 98))

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	if math.Abs(res.Trades[0].Price-95) > 1e-9 {
		t.Fatalf("fill price = %v, want limit 95", res.Trades[0].Price)
	}
}

func TestInvalidScriptFails(t *testing.T) {
	code := `
import socket
def on_bar(ctx, bar):
    pass
`
	cfg := Config{Symbol: "BTCUSDT", InitialCapital: 10000}
	res := runBacktest(t, cfg, code, flatBars(10, 100))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Error == "" {
		t.Fatal("failed run must carry an error message")
	}
}

func TestEmptyBarsFails(t *testing.T) {
	cfg := Config{Symbol: "BTCUSDT", InitialCapital: 10000}
	res := runBacktest(t, cfg, "def on_bar(ctx, bar):\n    pass\n", nil)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
}

func TestGetAndList(t *testing.T) {
	e := NewEngine(nil)
	cfg := Config{Symbol: "BTCUSDT", InitialCapital: 10000}
	res := e.Run(context.Background(), cfg, "def on_bar(ctx, bar):\n    pass\n", sandbox.DefaultPolicy(), flatBars(5, 100))

	got, ok := e.Get(res.ID)
	if !ok || got.ID != res.ID {
		t.Fatal("run not retrievable by id")
	}
	if len(e.List()) != 1 {
		t.Fatal("list should contain one run")
	}
}

func TestInspectionDuringRun(t *testing.T) {
	e := NewEngine(nil)
	cfg := Config{Symbol: "BTCUSDT", InitialCapital: 10000}
	done := make(chan *Result, 1)
	id := e.Start(context.Background(), cfg, "def on_bar(ctx, bar):\n    pass\n",
		sandbox.DefaultPolicy(), flatBars(5000, 100), func(r *Result) { done <- r })

	// Poll and serialize the run while its goroutine is still appending to
	// the curve; snapshots must be detached from the stored result.
	deadline := time.After(30 * time.Second)
	var finished *Result
	for finished == nil {
		select {
		case finished = <-done:
		case <-deadline:
			t.Fatal("backtest did not finish in time")
		default:
			got, ok := e.Get(id)
			if !ok {
				t.Fatal("run not retrievable by id")
			}
			if _, err := json.Marshal(got); err != nil {
				t.Fatalf("marshal snapshot: %v", err)
			}
			got.Status = StatusFailed
			got.EquityCurve = append(got.EquityCurve, EquityPoint{})
		}
	}

	if finished.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", finished.Status, finished.Error)
	}
	got, _ := e.Get(id)
	if got.Status != StatusCompleted {
		t.Fatalf("stored status = %s, snapshot writes leaked back", got.Status)
	}
	if len(got.EquityCurve) != 5000 {
		t.Fatalf("equity points = %d, want 5000", len(got.EquityCurve))
	}
}

func TestCancelUnknownRun(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Cancel("nope"); err == nil {
		t.Fatal("cancelling an unknown run should error")
	}
}
