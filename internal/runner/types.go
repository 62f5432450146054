// Package runner owns one live strategy session: it feeds bars through the
// sandbox bridge, risk-checks the resulting signals, and dispatches approved
// orders to the paper book or the live executor.
package runner

import (
	"strategy-core/internal/executor"
	"strategy-core/internal/paper"
	"strategy-core/internal/risk"
	"strategy-core/internal/sandbox"
)

// Mode selects where approved orders go.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// State is the runner lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Config parameterizes one strategy session.
type Config struct {
	Symbol         string         `json:"symbol"`
	Mode           Mode           `json:"mode"`
	InitialCapital float64        `json:"initial_capital"`
	FeeRate        float64        `json:"fee_rate"`
	SlippagePct    float64        `json:"slippage_pct"`
	QueueSize      int            `json:"queue_size"`
	Account        string         `json:"account,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Policy         sandbox.Policy `json:"policy"`
	Limits         risk.Limits    `json:"limits"`
}

const defaultQueueSize = 256

// Counters accumulate over a session's lifetime.
type Counters struct {
	BarsProcessed    int64 `json:"bars_processed"`
	SignalsGenerated int64 `json:"signals_generated"`
	OrdersPlaced     int64 `json:"orders_placed"`
	TradesExecuted   int64 `json:"trades_executed"`
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	State      State            `json:"state"`
	Mode       Mode             `json:"mode"`
	Symbol     string           `json:"symbol"`
	Error      string           `json:"error,omitempty"`
	Counters   Counters         `json:"counters"`
	Risk       risk.Status      `json:"risk"`
	Equity     float64          `json:"equity"`
	Positions  []paper.Position `json:"positions"`
	OpenOrders []paper.Order    `json:"open_orders,omitempty"`
	LiveOrders []executor.Order `json:"live_orders,omitempty"`
}
