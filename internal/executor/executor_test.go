package executor

import (
	"context"
	"errors"
	"math"
	"testing"

	"strategy-core/internal/sandbox"
)

type fakeSessions struct{ active bool }

func (f fakeSessions) HasActiveSession(string) bool { return f.active }

type fakeGateway struct {
	requests []PlacementRequest
	result   PlacementResult
	err      error
}

func (f *fakeGateway) PlaceOrder(_ context.Context, req PlacementRequest) (PlacementResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return PlacementResult{}, f.err
	}
	res := f.result
	if res.Status == "" {
		res.Status = PlacementFilled
	}
	res.VenueOrderID = "venue-1"
	return res, nil
}

func btcMarket() []Market {
	return []Market{{Symbol: "BTCUSDT", PricePrecision: 2, QuantityPrecision: 3}}
}

func buySignal(qty, price float64) sandbox.Signal {
	return sandbox.Signal{Action: sandbox.ActionBuy, Quantity: qty, Price: price, Kind: sandbox.KindMarket}
}

func TestProcessSignalFillsAndTracksPosition(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())

	res := e.ProcessSignal(context.Background(), buySignal(0.5, 42000.12), "BTCUSDT", 0)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Order.Status != "filled" {
		t.Fatalf("status = %s, want filled", res.Order.Status)
	}
	if res.Order.VenueOrderID != "venue-1" {
		t.Fatalf("venue order id = %q", res.Order.VenueOrderID)
	}

	pos, ok := e.Position("BTCUSDT")
	if !ok {
		t.Fatal("expected live position")
	}
	if pos.Side != "LONG" || math.Abs(pos.Quantity-0.5) > 1e-9 {
		t.Fatalf("position = %+v", pos)
	}
	if math.Abs(pos.AvgPrice-42000.12) > 1e-9 {
		t.Fatalf("avg price = %v", pos.AvgPrice)
	}
}

func TestFixedPointTruncation(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())

	// 42000.129 truncates (not rounds) to 42000.12; 0.12345 to 0.123.
	e.ProcessSignal(context.Background(), buySignal(0.12345, 42000.129), "BTCUSDT", 0)

	if len(gw.requests) != 1 {
		t.Fatalf("requests = %d", len(gw.requests))
	}
	req := gw.requests[0]
	if req.Price != 4200012 {
		t.Fatalf("scaled price = %d, want 4200012", req.Price)
	}
	if req.Quantity != 123 {
		t.Fatalf("scaled quantity = %d, want 123", req.Quantity)
	}

	pos, _ := e.Position("BTCUSDT")
	if math.Abs(pos.Quantity-0.123) > 1e-9 {
		t.Fatalf("position qty = %v, want truncated 0.123", pos.Quantity)
	}
	if math.Abs(pos.AvgPrice-42000.12) > 1e-9 {
		t.Fatalf("position avg = %v, want truncated 42000.12", pos.AvgPrice)
	}
}

func TestQuantityTruncatesToZero(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())
	res := e.ProcessSignal(context.Background(), buySignal(0.0004, 100), "BTCUSDT", 0)
	if res.Success {
		t.Fatal("sub-precision quantity should be rejected")
	}
	if len(gw.requests) != 0 {
		t.Fatal("gateway must not be called")
	}
}

func TestNoSessionRejected(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw, fakeSessions{active: false}, nil, "acct", btcMarket())
	res := e.ProcessSignal(context.Background(), buySignal(1, 100), "BTCUSDT", 0)
	if res.Success {
		t.Fatal("expected rejection without active session")
	}
	if len(gw.requests) != 0 {
		t.Fatal("gateway must not be called without a session")
	}
}

func TestCancelSignalRejected(t *testing.T) {
	e := New(&fakeGateway{}, fakeSessions{active: true}, nil, "acct", btcMarket())
	res := e.ProcessSignal(context.Background(), sandbox.Signal{Action: sandbox.ActionCancel}, "BTCUSDT", 100)
	if res.Success {
		t.Fatal("cancel signals must be rejected")
	}
}

func TestFailedPlacementRecordedNonFatally(t *testing.T) {
	gw := &fakeGateway{err: errors.New("insufficient balance")}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())

	res := e.ProcessSignal(context.Background(), buySignal(1, 100), "BTCUSDT", 0)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Order == nil || res.Order.Status != "failed" {
		t.Fatalf("order = %+v, want failed status", res.Order)
	}
	if res.Order.Error != "insufficient balance" {
		t.Fatalf("order error = %q", res.Order.Error)
	}
	if _, ok := e.Position("BTCUSDT"); ok {
		t.Fatal("failed placement must not alter position state")
	}
	if len(e.Orders()) != 1 {
		t.Fatal("failed order must be recorded")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		venue PlacementStatus
		want  string
	}{
		{PlacementOpen, "pending"},
		{PlacementPartial, "partial"},
		{PlacementFilled, "filled"},
		{PlacementCancelled, "cancelled"},
	}
	for _, tc := range cases {
		t.Run(string(tc.venue), func(t *testing.T) {
			gw := &fakeGateway{result: PlacementResult{Status: tc.venue}}
			e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())
			res := e.ProcessSignal(context.Background(), buySignal(1, 100), "BTCUSDT", 0)
			if string(res.Order.Status) != tc.want {
				t.Fatalf("status = %s, want %s", res.Order.Status, tc.want)
			}
		})
	}
}

func TestPartialFillBooksExecutedQuantity(t *testing.T) {
	// Venue fills 0.4 of 1.0 at an average of 100.5 (scaled by precision).
	gw := &fakeGateway{result: PlacementResult{Status: PlacementPartial, FilledQty: 400, AvgPrice: 10050}}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())

	res := e.ProcessSignal(context.Background(), buySignal(1, 100), "BTCUSDT", 0)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.Order.Status != "partial" {
		t.Fatalf("status = %s, want partial", res.Order.Status)
	}
	if math.Abs(res.Order.FilledQty-0.4) > 1e-9 {
		t.Fatalf("filled qty = %v, want 0.4", res.Order.FilledQty)
	}

	pos, ok := e.Position("BTCUSDT")
	if !ok {
		t.Fatal("partial fill must open a position")
	}
	if math.Abs(pos.Quantity-0.4) > 1e-9 {
		t.Fatalf("position qty = %v, want executed 0.4", pos.Quantity)
	}
	if math.Abs(pos.AvgPrice-100.5) > 1e-9 {
		t.Fatalf("avg price = %v, want venue average 100.5", pos.AvgPrice)
	}
}

func TestFillUsesVenueAveragePrice(t *testing.T) {
	// Market order slips: requested 100, venue averages 101.25.
	gw := &fakeGateway{result: PlacementResult{Status: PlacementFilled, FilledQty: 1000, AvgPrice: 10125}}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())

	e.ProcessSignal(context.Background(), buySignal(1, 100), "BTCUSDT", 0)
	pos, _ := e.Position("BTCUSDT")
	if math.Abs(pos.AvgPrice-101.25) > 1e-9 {
		t.Fatalf("avg price = %v, want venue average 101.25", pos.AvgPrice)
	}
}

func TestFillWithoutVenueQuantityFallsBack(t *testing.T) {
	// Venues that omit executedQty on a filled order book the full request.
	gw := &fakeGateway{result: PlacementResult{Status: PlacementFilled}}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())

	e.ProcessSignal(context.Background(), buySignal(0.5, 42000.12), "BTCUSDT", 0)
	pos, ok := e.Position("BTCUSDT")
	if !ok || math.Abs(pos.Quantity-0.5) > 1e-9 {
		t.Fatalf("position = %+v, want full 0.5", pos)
	}
	if math.Abs(pos.AvgPrice-42000.12) > 1e-9 {
		t.Fatalf("avg price = %v, want requested 42000.12", pos.AvgPrice)
	}
}

func TestCloseSignalUsesPositionQuantity(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())
	e.ProcessSignal(context.Background(), buySignal(2, 100), "BTCUSDT", 0)

	res := e.ProcessSignal(context.Background(),
		sandbox.Signal{Action: sandbox.ActionClose, Kind: sandbox.KindMarket}, "BTCUSDT", 110)
	if !res.Success {
		t.Fatalf("close failed: %s", res.Error)
	}
	if res.Order.Side != "SELL" {
		t.Fatalf("side = %s, want SELL", res.Order.Side)
	}
	if math.Abs(res.Order.Quantity-2) > 1e-9 {
		t.Fatalf("quantity = %v, want 2", res.Order.Quantity)
	}
	if _, ok := e.Position("BTCUSDT"); ok {
		t.Fatal("position should be removed after close")
	}
}

func TestCloseAllPositions(t *testing.T) {
	markets := append(btcMarket(), Market{Symbol: "ETHUSDT", PricePrecision: 2, QuantityPrecision: 3})
	gw := &fakeGateway{}
	e := New(gw, fakeSessions{active: true}, nil, "acct", markets)
	e.ProcessSignal(context.Background(), buySignal(1, 100), "BTCUSDT", 0)
	e.ProcessSignal(context.Background(),
		sandbox.Signal{Action: sandbox.ActionSell, Quantity: 3, Price: 50, Kind: sandbox.KindMarket}, "ETHUSDT", 0)

	sum := e.CloseAllPositions(context.Background(), map[string]float64{"BTCUSDT": 101, "ETHUSDT": 49})
	if sum.Closed != 2 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(e.Positions()) != 0 {
		t.Fatal("all positions should be closed")
	}
}

func TestCloseAllCountsFailures(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw, fakeSessions{active: true}, nil, "acct", btcMarket())
	e.ProcessSignal(context.Background(), buySignal(1, 100), "BTCUSDT", 0)

	gw.err = errors.New("venue down")
	sum := e.CloseAllPositions(context.Background(), map[string]float64{"BTCUSDT": 101})
	if sum.Closed != 0 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if _, ok := e.Position("BTCUSDT"); !ok {
		t.Fatal("position must survive a failed close")
	}
}

func TestUnrealizedPnLOnPriceUpdate(t *testing.T) {
	e := New(&fakeGateway{}, fakeSessions{active: true}, nil, "acct", btcMarket())
	e.ProcessSignal(context.Background(), buySignal(2, 100), "BTCUSDT", 0)
	e.UpdatePrice("BTCUSDT", 105)
	pos, _ := e.Position("BTCUSDT")
	if math.Abs(pos.UnrealizedPnL-10) > 1e-9 {
		t.Fatalf("unrealized = %v, want 10", pos.UnrealizedPnL)
	}
}
