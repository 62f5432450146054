// Package backtest drives a strategy script across a historical bar series
// and derives an equity curve, trade ledger, and performance metrics. Fills
// go through the same paper accounting as live paper trading.
package backtest

import (
	"time"

	"strategy-core/internal/paper"
)

// Status is the lifecycle state of one backtest run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Config parameterizes one run.
type Config struct {
	StrategyID     string         `json:"strategy_id"`
	Symbol         string         `json:"symbol"`
	InitialCapital float64        `json:"initial_capital"`
	FeeRate        float64        `json:"fee_rate"`
	SlippagePct    float64        `json:"slippage_pct"`
	Params         map[string]any `json:"params,omitempty"`
}

// EquityPoint is one bar's snapshot of the simulated account.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	Drawdown      float64   `json:"drawdown"`
}

// Metrics are derived once a run finishes.
type Metrics struct {
	TotalReturn         float64 `json:"total_return"`
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	MaxDrawdownDuration string  `json:"max_drawdown_duration"`
	TotalTrades         int     `json:"total_trades"`
	WinningTrades       int     `json:"winning_trades"`
	LosingTrades        int     `json:"losing_trades"`
	WinRate             float64 `json:"win_rate"`
	ProfitFactor        float64 `json:"profit_factor"`
	AvgWin              float64 `json:"avg_win"`
	AvgLoss             float64 `json:"avg_loss"`
	LargestWin          float64 `json:"largest_win"`
	LargestLoss         float64 `json:"largest_loss"`
	Expectancy          float64 `json:"expectancy"`
	TotalVolume         float64 `json:"total_volume"`
	TotalFees           float64 `json:"total_fees"`
	TotalSlippage       float64 `json:"total_slippage"`
}

// Result is one run's full output. Immutable once the status is terminal;
// failed and cancelled runs keep whatever partial curve and trades existed.
type Result struct {
	ID          string        `json:"id"`
	Config      Config        `json:"config"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	BarsTotal   int           `json:"bars_total"`
	SignalCount int           `json:"signal_count"`
	Trades      []paper.Trade `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Metrics     Metrics       `json:"metrics"`
}

// clone deep-copies the run so readers never share slices with the run
// goroutine still appending to them.
func (r *Result) clone() *Result {
	cp := *r
	cp.Trades = append([]paper.Trade(nil), r.Trades...)
	cp.EquityCurve = append([]EquityPoint(nil), r.EquityCurve...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
