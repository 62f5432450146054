// Package paper implements the simulated trading book: cash, positions,
// open orders, and realized PnL for non-real execution. The backtest engine
// shares this accounting so paper and backtest fills behave identically.
package paper

import "time"

// OrderStatus is the lifecycle state of a paper order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusFailed    OrderStatus = "failed"
)

// Order is a simulated order owned by the engine.
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"` // BUY or SELL
	Kind      string      `json:"kind"` // market, limit, stop, stop_limit
	Price     float64     `json:"price,omitempty"`
	StopPrice float64     `json:"stop_price,omitempty"`
	Quantity  float64     `json:"quantity"`
	FilledQty float64     `json:"filled_qty"`
	Status    OrderStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	FilledAt  *time.Time  `json:"filled_at,omitempty"`
}

// Position is one simulated position; quantity is always positive, the side
// carries the direction.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // LONG or SHORT
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Trade records one fill with its realized PnL contribution.
type Trade struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Fee         float64   `json:"fee"`
	RealizedPnL float64   `json:"realized_pnl"` // gross, before fees
	Timestamp   time.Time `json:"timestamp"`
}

// Request describes an order submitted to the simulator.
type Request struct {
	Symbol    string
	Side      string // BUY or SELL
	Kind      string // market, limit
	Quantity  float64
	Price     float64 // limit price, or mark for market orders
	StopPrice float64
	Reason    string
	Timestamp time.Time
}

// State is the serializable snapshot persisted between sessions.
type State struct {
	Cash           float64              `json:"cash"`
	InitialCapital float64              `json:"initial_capital"`
	RealizedPnL    float64              `json:"realized_pnl"`
	TotalFees      float64              `json:"total_fees"`
	TotalVolume    float64              `json:"total_volume"`
	Positions      map[string]*Position `json:"positions"`
	OpenOrders     []*Order             `json:"open_orders"`
	History        []*Order             `json:"history"`
	Trades         []Trade              `json:"trades"`
}
