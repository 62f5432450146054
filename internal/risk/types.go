package risk

import "time"

// Limits is a configuration snapshot of every enforced risk ceiling. A zero
// value for any field disables that particular check.
type Limits struct {
	MaxPositionSize    float64 `json:"max_position_size"`     // base units
	MaxPositionValue   float64 `json:"max_position_value"`    // quote currency
	MaxExposure        float64 `json:"max_exposure"`          // absolute, quote currency
	MaxExposurePct     float64 `json:"max_exposure_pct"`      // % of current equity
	MaxDailyLoss       float64 `json:"max_daily_loss"`        // absolute
	MaxDailyLossPct    float64 `json:"max_daily_loss_pct"`    // % of daily baseline
	MaxTotalLoss       float64 `json:"max_total_loss"`        // absolute
	MaxTotalLossPct    float64 `json:"max_total_loss_pct"`    // % of initial capital
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`      // % of peak equity
	MaxOrderValue      float64 `json:"max_order_value"`       // per-order notional
	MaxOrdersPerMinute int     `json:"max_orders_per_minute"` // rolling 60s window
}

// DefaultLimits returns a conservative limit set for new sessions.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionValue:   50_000,
		MaxExposure:        100_000,
		MaxExposurePct:     200,
		MaxDailyLoss:       1_000,
		MaxDrawdownPct:     25,
		MaxOrderValue:      10_000,
		MaxOrdersPerMinute: 30,
	}
}

// Status is the live-computed risk state.
type Status struct {
	InitialCapital float64   `json:"initial_capital"`
	CurrentEquity  float64   `json:"current_equity"`
	PeakEquity     float64   `json:"peak_equity"`
	Drawdown       float64   `json:"drawdown"`
	DrawdownPct    float64   `json:"drawdown_pct"`
	DailyPnL       float64   `json:"daily_pnl"`
	TotalPnL       float64   `json:"total_pnl"`
	Exposure       float64   `json:"exposure"`
	Halted         bool      `json:"halted"`
	HaltReason     string    `json:"halt_reason,omitempty"`
	HaltedAt       time.Time `json:"halted_at,omitempty"`
}

// Position is the manager's view of one open position, fed in by the runner.
type Position struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // LONG or SHORT
	Quantity  float64 `json:"quantity"`
	MarkPrice float64 `json:"mark_price"`
}

// Value returns the absolute mark-to-market notional.
func (p Position) Value() float64 {
	v := p.Quantity * p.MarkPrice
	if v < 0 {
		return -v
	}
	return v
}

// ProposedOrder is the order candidate submitted to CheckOrder.
type ProposedOrder struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // BUY or SELL
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// Violation records one failed risk check.
type Violation struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Violation codes.
const (
	CodeHalted        = "halted"
	CodeOrderValue    = "max_order_value"
	CodePositionSize  = "max_position_size"
	CodePositionValue = "max_position_value"
	CodeExposure      = "max_exposure"
	CodeOrderRate     = "max_order_rate"
)

// Decision is the outcome of a CheckOrder call. A rejected order carries the
// full violation list; it is a negative result, not an error.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}
