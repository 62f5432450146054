// Package executor places live orders with an external venue gateway,
// scaling prices and quantities to each market's fixed-point precision and
// tracking the resulting live positions.
package executor

import (
	"context"
	"time"

	"strategy-core/internal/paper"
)

// Market describes a tradable instrument's fixed-point representation.
// Prices and quantities sent to the gateway are integers scaled by
// 10^precision, truncated, never rounded up.
type Market struct {
	Symbol            string `json:"symbol"`
	PricePrecision    int32  `json:"price_precision"`
	QuantityPrecision int32  `json:"quantity_precision"`
}

// PlacementStatus is the status space reported by the venue.
type PlacementStatus string

const (
	PlacementOpen      PlacementStatus = "open"
	PlacementPartial   PlacementStatus = "partially-filled"
	PlacementFilled    PlacementStatus = "filled"
	PlacementCancelled PlacementStatus = "cancelled"
)

// PlacementRequest is the fixed-point order sent to the venue gateway.
// Price and Quantity are integers scaled by 10^precision so gateways can
// format exact decimal strings.
type PlacementRequest struct {
	Symbol            string `json:"symbol"`
	Side              string `json:"side"` // BUY or SELL
	Kind              string `json:"kind"` // market, limit, stop, stop_limit
	Price             int64  `json:"price"`
	Quantity          int64  `json:"quantity"`
	PricePrecision    int32  `json:"price_precision"`
	QuantityPrecision int32  `json:"quantity_precision"`
	ClientID          string `json:"client_id"`
	Account           string `json:"account"`
}

// PlacementResult is what the venue returns on successful placement.
type PlacementResult struct {
	VenueOrderID string          `json:"venue_order_id"`
	Status       PlacementStatus `json:"status"`
	FilledQty    int64           `json:"filled_qty"`
	AvgPrice     int64           `json:"avg_price"`
}

// OrderPlacer is the external order-placement collaborator.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req PlacementRequest) (PlacementResult, error)
}

// SessionChecker is the external session/authentication collaborator. The
// executor refuses to place orders without an affirmative answer.
type SessionChecker interface {
	HasActiveSession(account string) bool
}

// Order is a live order owned by the executor; never shared with the paper
// book.
type Order struct {
	ID           string            `json:"id"`
	VenueOrderID string            `json:"venue_order_id,omitempty"`
	Symbol       string            `json:"symbol"`
	Side         string            `json:"side"`
	Kind         string            `json:"kind"`
	Price        float64           `json:"price"`
	Quantity     float64           `json:"quantity"`
	FilledQty    float64           `json:"filled_qty"`
	Status       paper.OrderStatus `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	FilledAt     *time.Time        `json:"filled_at,omitempty"`
}

// Result is the outcome of processing one signal.
type Result struct {
	Success bool   `json:"success"`
	Order   *Order `json:"order,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CloseSummary counts the outcomes of a close-all sweep.
type CloseSummary struct {
	Closed int `json:"closed"`
	Failed int `json:"failed"`
}
