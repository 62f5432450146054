package risk

import (
	"strings"
	"testing"
	"time"
)

func TestPeakEquityMonotonic(t *testing.T) {
	mgr := NewManager(10_000, Limits{})
	sequence := []float64{10_500, 10_200, 11_000, 9_000, 10_999}
	peak := 10_000.0
	for _, eq := range sequence {
		st := mgr.UpdateEquity(eq, nil)
		if eq > peak {
			peak = eq
		}
		if st.PeakEquity != peak {
			t.Fatalf("peak=%v after equity %v, expected %v", st.PeakEquity, eq, peak)
		}
	}
}

func TestDrawdownComputation(t *testing.T) {
	mgr := NewManager(10_000, Limits{})
	mgr.UpdateEquity(12_000, nil)
	st := mgr.UpdateEquity(9_000, nil)
	if st.Drawdown != 3_000 {
		t.Fatalf("drawdown=%v, expected 3000", st.Drawdown)
	}
	if st.DrawdownPct != 25 {
		t.Fatalf("drawdown pct=%v, expected 25", st.DrawdownPct)
	}
}

func TestDailyLossHalts(t *testing.T) {
	mgr := NewManager(10_000, Limits{MaxDailyLoss: 500})

	st := mgr.UpdateEquity(9_499, nil)
	if !st.Halted {
		t.Fatal("expected halt after daily loss of 501")
	}
	if !strings.Contains(st.HaltReason, "Daily loss") {
		t.Fatalf("halt reason %q does not mention daily loss", st.HaltReason)
	}

	dec := mgr.CheckOrder(ProposedOrder{Symbol: "BTCUSDT", Side: "BUY", Quantity: 1, Price: 100}, nil)
	if dec.Allowed {
		t.Fatal("halted manager must reject orders")
	}
	if dec.Violations[0].Code != CodeHalted {
		t.Fatalf("violation code %s, expected %s", dec.Violations[0].Code, CodeHalted)
	}
}

func TestBreachOrderDailyBeforeDrawdown(t *testing.T) {
	// Both the daily loss and the drawdown limits break at once; the daily
	// loss reason must win.
	mgr := NewManager(10_000, Limits{MaxDailyLoss: 500, MaxDrawdownPct: 5})
	st := mgr.UpdateEquity(9_000, nil)
	if !st.Halted {
		t.Fatal("expected halt")
	}
	if !strings.Contains(st.HaltReason, "Daily loss") {
		t.Fatalf("halt reason %q, expected the daily loss breach to be reported first", st.HaltReason)
	}
}

func TestHaltIdempotent(t *testing.T) {
	mgr := NewManager(10_000, Limits{})
	mgr.Halt("first reason")
	mgr.Halt("second reason")
	if got := mgr.Status().HaltReason; got != "first reason" {
		t.Fatalf("halt reason %q, expected the first reason to stick", got)
	}
}

func TestResume(t *testing.T) {
	mgr := NewManager(10_000, Limits{})
	mgr.Halt("manual")
	mgr.Resume()
	st := mgr.Status()
	if st.Halted || st.HaltReason != "" {
		t.Fatalf("expected active after resume, got %+v", st)
	}
	dec := mgr.CheckOrder(ProposedOrder{Side: "BUY", Quantity: 1, Price: 100}, nil)
	if !dec.Allowed {
		t.Fatalf("expected approval after resume, got %+v", dec.Violations)
	}
}

func TestCheckOrderValueLimit(t *testing.T) {
	mgr := NewManager(10_000, Limits{MaxOrderValue: 1_000})
	dec := mgr.CheckOrder(ProposedOrder{Side: "BUY", Quantity: 11, Price: 100}, nil)
	if dec.Allowed {
		t.Fatal("expected rejection")
	}
	if dec.Violations[0].Code != CodeOrderValue {
		t.Fatalf("code=%s, expected %s", dec.Violations[0].Code, CodeOrderValue)
	}
}

func TestCheckOrderPositionCapsBuyOnly(t *testing.T) {
	limits := Limits{MaxPositionSize: 5}
	positions := []Position{{Symbol: "BTCUSDT", Side: "LONG", Quantity: 4, MarkPrice: 100}}

	mgr := NewManager(10_000, limits)
	buy := mgr.CheckOrder(ProposedOrder{Symbol: "BTCUSDT", Side: "BUY", Quantity: 2, Price: 100}, positions)
	if buy.Allowed {
		t.Fatal("buy pushing position to 6 must be rejected")
	}
	sell := mgr.CheckOrder(ProposedOrder{Symbol: "BTCUSDT", Side: "SELL", Quantity: 2, Price: 100}, positions)
	if !sell.Allowed {
		t.Fatalf("sells are exempt from position caps, got %+v", sell.Violations)
	}
}

func TestCheckOrderExposureLimit(t *testing.T) {
	mgr := NewManager(10_000, Limits{MaxExposure: 1_000})
	positions := []Position{{Symbol: "ETHUSDT", Side: "SHORT", Quantity: -3, MarkPrice: 300}}
	dec := mgr.CheckOrder(ProposedOrder{Symbol: "BTCUSDT", Side: "BUY", Quantity: 2, Price: 100}, positions)
	if dec.Allowed {
		t.Fatal("900 existing + 200 new exposure must breach the 1000 cap")
	}
	if dec.Violations[0].Code != CodeExposure {
		t.Fatalf("code=%s, expected %s", dec.Violations[0].Code, CodeExposure)
	}
}

func TestOrderRateSlidingWindow(t *testing.T) {
	mgr := NewManager(10_000, Limits{MaxOrdersPerMinute: 3})

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	mgr.now = func() time.Time { return clock }

	order := ProposedOrder{Side: "BUY", Quantity: 0.1, Price: 100}
	// Arbitrary timestamp sequence: bursts and gaps.
	offsets := []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second,
		30 * time.Second, 59 * time.Second, 61 * time.Second, 62 * time.Second, 125 * time.Second}
	var approved []time.Time
	for _, off := range offsets {
		clock = base.Add(off)
		if mgr.CheckOrder(order, nil).Allowed {
			approved = append(approved, clock)
		}
	}
	if len(approved) == 0 {
		t.Fatal("expected some approvals")
	}

	// Property: no rolling 60s window holds more than 3 approvals.
	for i := range approved {
		count := 0
		for j := range approved {
			d := approved[j].Sub(approved[i])
			if d >= 0 && d < time.Minute {
				count++
			}
		}
		if count > 3 {
			t.Fatalf("window starting %v holds %d approvals, limit 3", approved[i], count)
		}
	}
}

func TestRejectedOrderDoesNotConsumeRateSlot(t *testing.T) {
	mgr := NewManager(10_000, Limits{MaxOrdersPerMinute: 2, MaxOrderValue: 100})

	// Oversized orders are rejected and must not count toward the window.
	for i := 0; i < 5; i++ {
		if mgr.CheckOrder(ProposedOrder{Side: "BUY", Quantity: 10, Price: 100}, nil).Allowed {
			t.Fatal("expected rejection")
		}
	}
	if !mgr.CheckOrder(ProposedOrder{Side: "BUY", Quantity: 0.5, Price: 100}, nil).Allowed {
		t.Fatal("small order should still be approved")
	}
}

func TestViolationHistoryBounded(t *testing.T) {
	mgr := NewManager(10_000, Limits{MaxOrderValue: 1})
	for i := 0; i < violationHistoryCap+50; i++ {
		mgr.CheckOrder(ProposedOrder{Side: "BUY", Quantity: 10, Price: 100}, nil)
	}
	if got := len(mgr.Violations()); got != violationHistoryCap {
		t.Fatalf("history length %d, expected cap %d", got, violationHistoryCap)
	}
}

func TestDailyResetAtUTCMidnight(t *testing.T) {
	mgr := NewManager(10_000, Limits{})
	clock := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return clock }

	st := mgr.UpdateEquity(10_400, nil)
	if st.DailyPnL != 400 {
		t.Fatalf("daily pnl=%v, expected 400", st.DailyPnL)
	}

	// Cross midnight: the baseline becomes the last recorded equity.
	clock = time.Date(2024, 6, 2, 0, 5, 0, 0, time.UTC)
	st = mgr.UpdateEquity(10_300, nil)
	if st.DailyPnL != -100 {
		t.Fatalf("daily pnl=%v after rollover, expected -100", st.DailyPnL)
	}
	if st.TotalPnL != 300 {
		t.Fatalf("total pnl=%v, expected 300", st.TotalPnL)
	}
}
