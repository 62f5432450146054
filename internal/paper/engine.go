package paper

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"strategy-core/internal/market"
)

const closedEpsilon = 1e-9

// Engine is the in-memory simulated book. All order/position mutation comes
// from the runner's single processing loop; UpdatePrice may interleave from
// a price feed because it only recomputes derived fields.
type Engine struct {
	mu sync.RWMutex

	cash           float64
	initialCapital float64
	feeRate        float64
	slippagePct    float64

	positions map[string]*Position
	open      []*Order
	history   []*Order
	trades    []Trade

	realizedPnL  float64 // net of fees
	totalFees    float64
	totalVolume  float64
	slippageCost float64
}

// NewEngine creates a simulator with the given initial capital, proportional
// fee rate (0.001 = 0.1%) and slippage percentage applied to market fills.
func NewEngine(initialCapital, feeRate, slippagePct float64) *Engine {
	return &Engine{
		cash:           initialCapital,
		initialCapital: initialCapital,
		feeRate:        feeRate,
		slippagePct:    slippagePct,
		positions:      make(map[string]*Position),
	}
}

// Submit places an order. Market orders fill immediately at the request
// price adjusted by slippage; limit and stop orders queue until a bar range
// crosses their trigger price.
func (e *Engine) Submit(req Request) (*Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("paper: quantity must be positive, got %v", req.Quantity)
	}
	if req.Side != "BUY" && req.Side != "SELL" {
		return nil, fmt.Errorf("paper: unknown side %q", req.Side)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	order := &Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Kind:      req.Kind,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Quantity:  req.Quantity,
		Status:    StatusPending,
		Reason:    req.Reason,
		CreatedAt: ts,
	}

	switch req.Kind {
	case "", "market":
		order.Kind = "market"
		fillPrice := e.slipped(req.Price, req.Side)
		e.slippageCost += math.Abs(fillPrice-req.Price) * req.Quantity
		e.fill(order, fillPrice, ts)
	case "limit":
		e.open = append(e.open, order)
	case "stop", "stop_limit":
		if req.StopPrice <= 0 {
			order.Status = StatusFailed
			order.Error = fmt.Sprintf("%s order requires a stop price", req.Kind)
			e.history = append(e.history, order)
			return order, fmt.Errorf("paper: %s", order.Error)
		}
		e.open = append(e.open, order)
	default:
		order.Status = StatusFailed
		order.Error = fmt.Sprintf("unsupported order kind %q", req.Kind)
		e.history = append(e.history, order)
		return order, fmt.Errorf("paper: %s", order.Error)
	}
	return order, nil
}

// slipped applies the configured adverse slippage to a market fill price.
func (e *Engine) slipped(price float64, side string) float64 {
	slip := e.slippagePct / 100
	if side == "BUY" {
		return price * (1 + slip)
	}
	return price * (1 - slip)
}

// ProcessBar checks queued orders against the bar's high/low range and fills
// those the range crossed: limits at their limit price, stops at the stop
// price plus slippage.
func (e *Engine) ProcessBar(symbol string, bar market.Bar) []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var filled []*Order
	remaining := e.open[:0]
	for _, o := range e.open {
		if o.Symbol != symbol || !e.tryFill(o, bar) {
			remaining = append(remaining, o)
			continue
		}
		filled = append(filled, o)
	}
	e.open = remaining

	// Bars double as price updates for marks.
	e.markLocked(symbol, bar.Close)
	return filled
}

// tryFill fills one queued order when the bar range crossed its trigger.
// Stop-limit orders become plain limits once their stop triggers; they may
// still fill on the same bar. Reports whether the order left the queue.
func (e *Engine) tryFill(o *Order, bar market.Bar) bool {
	switch o.Kind {
	case "limit":
		if !limitCrossed(o, bar) {
			return false
		}
		e.fill(o, o.Price, bar.Timestamp)
	case "stop":
		if !stopTriggered(o, bar) {
			return false
		}
		fillPrice := e.slipped(o.StopPrice, o.Side)
		e.slippageCost += math.Abs(fillPrice-o.StopPrice) * o.Quantity
		e.fill(o, fillPrice, bar.Timestamp)
	case "stop_limit":
		if !stopTriggered(o, bar) {
			return false
		}
		o.Kind = "limit"
		if !limitCrossed(o, bar) {
			return false
		}
		e.fill(o, o.Price, bar.Timestamp)
	default:
		return false
	}
	return true
}

func limitCrossed(o *Order, bar market.Bar) bool {
	if o.Side == "BUY" {
		return bar.Low <= o.Price
	}
	return bar.High >= o.Price
}

// stopTriggered reports whether the bar range crossed the stop in the
// adverse direction: buy stops trigger at or above, sell stops at or below.
func stopTriggered(o *Order, bar market.Bar) bool {
	if o.Side == "BUY" {
		return bar.High >= o.StopPrice
	}
	return bar.Low <= o.StopPrice
}

// fill executes an order completely at the given price, charging the
// proportional fee and updating the position book. Caller holds the lock.
func (e *Engine) fill(order *Order, price float64, ts time.Time) {
	notional := order.Quantity * price
	fee := notional * e.feeRate

	if order.Side == "BUY" {
		e.cash -= notional + fee
	} else {
		e.cash += notional - fee
	}
	e.totalFees += fee
	e.totalVolume += notional

	gross := e.applyToPosition(order.Symbol, order.Side, order.Quantity, price, ts)
	e.realizedPnL += gross - fee

	order.FilledQty = order.Quantity
	order.Status = StatusFilled
	order.FilledAt = &ts
	e.history = append(e.history, order)
	e.trades = append(e.trades, Trade{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Price:       price,
		Quantity:    order.Quantity,
		Fee:         fee,
		RealizedPnL: gross,
		Timestamp:   ts,
	})
	log.Printf("paper: fill %s %s qty=%.6f price=%.4f fee=%.4f cash=%.2f",
		order.Side, order.Symbol, order.Quantity, price, fee, e.cash)
}

func (e *Engine) applyToPosition(symbol, side string, qty, price float64, ts time.Time) float64 {
	return ApplyFill(e.positions, symbol, side, qty, price, ts)
}

// ApplyFill updates the position book for one fill: same-direction fills
// extend at volume-weighted average price, opposite-direction fills realize
// PnL on the reduced quantity and flip the side when they overshoot zero.
// Returns the gross realized PnL. The live executor shares this so paper
// and live fills account identically.
func ApplyFill(positions map[string]*Position, symbol, side string, qty, price float64, ts time.Time) float64 {
	dir := "LONG"
	if side == "SELL" {
		dir = "SHORT"
	}

	pos, ok := positions[symbol]
	if !ok {
		positions[symbol] = &Position{
			Symbol:    symbol,
			Side:      dir,
			Quantity:  qty,
			AvgPrice:  price,
			MarkPrice: price,
			OpenedAt:  ts,
			UpdatedAt: ts,
		}
		return 0
	}

	pos.UpdatedAt = ts
	if pos.Side == dir {
		total := pos.AvgPrice*pos.Quantity + price*qty
		pos.Quantity += qty
		pos.AvgPrice = total / pos.Quantity
		pos.MarkPrice = price
		return 0
	}

	// Reducing fill: realize PnL on the closed quantity.
	closeQty := math.Min(pos.Quantity, qty)
	sign := 1.0
	if pos.Side == "SHORT" {
		sign = -1
	}
	gross := (price - pos.AvgPrice) * closeQty * sign

	over := qty - pos.Quantity
	switch {
	case over > closedEpsilon:
		// Reversal: the overshoot opens a fresh position on the other side.
		pos.Side = dir
		pos.Quantity = over
		pos.AvgPrice = price
		pos.MarkPrice = price
	case over >= -closedEpsilon:
		delete(positions, symbol)
	default:
		pos.Quantity -= qty
		pos.MarkPrice = price
	}
	return gross
}

// CancelOrder cancels one open order by id.
func (e *Engine) CancelOrder(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, o := range e.open {
		if o.ID == id {
			o.Status = StatusCancelled
			e.open = append(e.open[:i], e.open[i+1:]...)
			e.history = append(e.history, o)
			return nil
		}
	}
	return fmt.Errorf("paper: open order %s not found", id)
}

// CancelAll cancels every open order and returns how many were cancelled.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.open)
	for _, o := range e.open {
		o.Status = StatusCancelled
		e.history = append(e.history, o)
	}
	e.open = nil
	return n
}

// UpdatePrice refreshes a symbol's mark price and unrealized PnL. It never
// touches orders or cash and is safe to call from a price-feed timer.
func (e *Engine) UpdatePrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markLocked(symbol, price)
}

func (e *Engine) markLocked(symbol string, price float64) {
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

// Equity returns cash plus signed position market value.
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	eq := e.cash
	for _, pos := range e.positions {
		signed := pos.Quantity
		if pos.Side == "SHORT" {
			signed = -signed
		}
		eq += signed * pos.MarkPrice
	}
	return eq
}

// Cash returns the free cash balance.
func (e *Engine) Cash() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cash
}

// RealizedPnL returns the cumulative realized PnL net of fees.
func (e *Engine) RealizedPnL() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.realizedPnL
}

// Position returns a copy of the position for a symbol, if any.
func (e *Engine) Position(symbol string) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of all open positions.
func (e *Engine) Positions() []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenOrders returns copies of the queued orders.
func (e *Engine) OpenOrders() []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Order, 0, len(e.open))
	for _, o := range e.open {
		out = append(out, *o)
	}
	return out
}

// Trades returns the fill ledger.
func (e *Engine) Trades() []Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// Costs returns aggregate fees, traded volume, and slippage cost.
func (e *Engine) Costs() (fees, volume, slippage float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalFees, e.totalVolume, e.slippageCost
}

// Snapshot captures a serializable copy of the whole book.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := State{
		Cash:           e.cash,
		InitialCapital: e.initialCapital,
		RealizedPnL:    e.realizedPnL,
		TotalFees:      e.totalFees,
		TotalVolume:    e.totalVolume,
		Positions:      make(map[string]*Position, len(e.positions)),
		Trades:         append([]Trade(nil), e.trades...),
	}
	for sym, pos := range e.positions {
		cp := *pos
		st.Positions[sym] = &cp
	}
	for _, o := range e.open {
		cp := *o
		st.OpenOrders = append(st.OpenOrders, &cp)
	}
	for _, o := range e.history {
		cp := *o
		st.History = append(st.History, &cp)
	}
	return st
}

// Restore replaces the book with a previously captured snapshot.
func (e *Engine) Restore(st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cash = st.Cash
	e.initialCapital = st.InitialCapital
	e.realizedPnL = st.RealizedPnL
	e.totalFees = st.TotalFees
	e.totalVolume = st.TotalVolume
	e.positions = st.Positions
	if e.positions == nil {
		e.positions = make(map[string]*Position)
	}
	e.open = st.OpenOrders
	e.history = st.History
	e.trades = st.Trades
}
