package executor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"strategy-core/internal/events"
	"strategy-core/internal/paper"
	"strategy-core/internal/sandbox"
)

// Executor forwards approved signals to the venue gateway and keeps the
// live position book. It is mutated only by the runner's processing loop;
// UpdatePrice may interleave from a price feed.
type Executor struct {
	gateway  OrderPlacer
	sessions SessionChecker
	bus      *events.Bus
	account  string

	mu        sync.RWMutex
	markets   map[string]Market
	positions map[string]*paper.Position
	orders    []*Order
}

// New creates an executor bound to one account. Markets describe the
// fixed-point precision of each tradable symbol.
func New(gateway OrderPlacer, sessions SessionChecker, bus *events.Bus, account string, markets []Market) *Executor {
	e := &Executor{
		gateway:   gateway,
		sessions:  sessions,
		bus:       bus,
		account:   account,
		markets:   make(map[string]Market, len(markets)),
		positions: make(map[string]*paper.Position),
	}
	for _, m := range markets {
		e.markets[m.Symbol] = m
	}
	return e
}

// scaleFixed converts a float to the market's fixed-point integer, truncating
// toward zero so the venue never sees more precision than it declared.
func scaleFixed(v float64, precision int32) int64 {
	return decimal.NewFromFloat(v).Shift(precision).Truncate(0).IntPart()
}

// truncateFloat is the float the fixed-point integer represents, used for
// local position accounting so books match what the venue was told.
func truncateFloat(v float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(v).Truncate(precision).Float64()
	return f
}

// unscaleFixed converts a venue fixed-point integer back to a float.
func unscaleFixed(v int64, precision int32) float64 {
	f, _ := decimal.New(v, -precision).Float64()
	return f
}

// ProcessSignal places one order for a script signal. Cancel signals are
// rejected outright. A failed placement is recorded as a failed order but
// never mutates position state; failures are local, not fatal.
func (e *Executor) ProcessSignal(ctx context.Context, sig sandbox.Signal, symbol string, currentPrice float64) Result {
	if e.sessions == nil || !e.sessions.HasActiveSession(e.account) {
		return Result{Error: fmt.Sprintf("no active trading session for account %s", e.account)}
	}
	if sig.Action == sandbox.ActionCancel {
		return Result{Error: "cancel signals are not supported for live execution"}
	}

	side, qty, err := e.resolveSide(sig, symbol)
	if err != nil {
		return Result{Error: err.Error()}
	}

	market, ok := e.market(symbol)
	if !ok {
		return Result{Error: fmt.Sprintf("unknown market %q", symbol)}
	}

	price := sig.Price
	if price <= 0 {
		price = currentPrice
	}
	execPrice := truncateFloat(price, market.PricePrecision)
	execQty := truncateFloat(qty, market.QuantityPrecision)
	if execQty <= 0 {
		return Result{Error: fmt.Sprintf("quantity %v truncates to zero at precision %d", qty, market.QuantityPrecision)}
	}

	kind := string(sig.Kind)
	if kind == "" {
		kind = string(sandbox.KindMarket)
	}
	order := &Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Kind:      kind,
		Price:     execPrice,
		Quantity:  execQty,
		Status:    paper.StatusPending,
		Reason:    sig.Reason,
		CreatedAt: time.Now().UTC(),
	}

	res, err := e.gateway.PlaceOrder(ctx, PlacementRequest{
		Symbol:            symbol,
		Side:              side,
		Kind:              kind,
		Price:             scaleFixed(price, market.PricePrecision),
		Quantity:          scaleFixed(qty, market.QuantityPrecision),
		PricePrecision:    market.PricePrecision,
		QuantityPrecision: market.QuantityPrecision,
		ClientID:          order.ID,
		Account:           e.account,
	})
	if err != nil {
		order.Status = paper.StatusFailed
		order.Error = err.Error()
		e.record(order)
		log.Printf("executor: place %s %s failed: %v", side, symbol, err)
		if e.bus != nil {
			e.bus.Publish(events.EventOrderRejected, *order)
		}
		return Result{Order: order, Error: err.Error()}
	}

	order.VenueOrderID = res.VenueOrderID
	order.Status = mapStatus(res.Status)

	// Book what the venue reports as executed, not what was requested: a
	// partial fill only moves the position by its executed quantity, and
	// market fills land at the venue's average price.
	fillQty := unscaleFixed(res.FilledQty, market.QuantityPrecision)
	fillPrice := unscaleFixed(res.AvgPrice, market.PricePrecision)
	if order.Status == paper.StatusFilled && fillQty <= 0 {
		fillQty = execQty
	}
	if fillPrice <= 0 {
		fillPrice = execPrice
	}
	if (order.Status == paper.StatusFilled || order.Status == paper.StatusPartial) && fillQty > 0 {
		now := time.Now().UTC()
		order.FilledQty = fillQty
		order.FilledAt = &now
		e.mu.Lock()
		paper.ApplyFill(e.positions, symbol, side, fillQty, fillPrice, now)
		e.mu.Unlock()
		if e.bus != nil {
			e.bus.Publish(events.EventOrderFilled, *order)
		}
	}
	e.record(order)
	log.Printf("executor: placed %s %s qty=%.6f price=%.4f venue_id=%s status=%s",
		side, symbol, execQty, execPrice, res.VenueOrderID, order.Status)
	return Result{Success: true, Order: order}
}

// resolveSide maps a signal action to an order side and quantity. Close
// signals target the full current position.
func (e *Executor) resolveSide(sig sandbox.Signal, symbol string) (string, float64, error) {
	switch sig.Action {
	case sandbox.ActionBuy:
		return "BUY", sig.Quantity, nil
	case sandbox.ActionSell:
		return "SELL", sig.Quantity, nil
	case sandbox.ActionClose:
		pos, ok := e.Position(symbol)
		if !ok {
			return "", 0, fmt.Errorf("close signal with no open position in %s", symbol)
		}
		side := "SELL"
		if pos.Side == "SHORT" {
			side = "BUY"
		}
		return side, pos.Quantity, nil
	default:
		return "", 0, fmt.Errorf("unsupported signal action %q", sig.Action)
	}
}

// mapStatus maps the venue's status space onto the order lifecycle.
func mapStatus(s PlacementStatus) paper.OrderStatus {
	switch s {
	case PlacementFilled:
		return paper.StatusFilled
	case PlacementPartial:
		return paper.StatusPartial
	case PlacementCancelled:
		return paper.StatusCancelled
	case PlacementOpen:
		return paper.StatusPending
	default:
		return paper.StatusFailed
	}
}

// CloseAllPositions synthesizes one opposite-direction market signal per
// open position and replays each through ProcessSignal.
func (e *Executor) CloseAllPositions(ctx context.Context, prices map[string]float64) CloseSummary {
	var summary CloseSummary
	for _, pos := range e.Positions() {
		sig := sandbox.Signal{
			Action:   sandbox.ActionClose,
			Quantity: pos.Quantity,
			Kind:     sandbox.KindMarket,
			Reason:   "close all positions",
		}
		res := e.ProcessSignal(ctx, sig, pos.Symbol, prices[pos.Symbol])
		if res.Success {
			summary.Closed++
		} else {
			summary.Failed++
			log.Printf("executor: close %s failed: %s", pos.Symbol, res.Error)
		}
	}
	return summary
}

// UpdatePrice refreshes a symbol's mark and unrealized PnL. Safe to call
// from a price feed while the runner is processing bars.
func (e *Executor) UpdatePrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice = price
	sign := 1.0
	if pos.Side == "SHORT" {
		sign = -1
	}
	pos.UnrealizedPnL = (price - pos.AvgPrice) * pos.Quantity * sign
}

func (e *Executor) market(symbol string) (Market, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[symbol]
	return m, ok
}

func (e *Executor) record(o *Order) {
	e.mu.Lock()
	e.orders = append(e.orders, o)
	e.mu.Unlock()
}

// Position returns a copy of the live position for a symbol, if any.
func (e *Executor) Position(symbol string) (paper.Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return paper.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all live positions.
func (e *Executor) Positions() []paper.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]paper.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// Orders returns copies of every order the executor has recorded.
func (e *Executor) Orders() []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	return out
}
