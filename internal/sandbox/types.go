// Package sandbox hosts an isolated Starlark interpreter for user strategy
// scripts. All execution happens inside a worker goroutine reached through
// id-correlated request/response messages; scripts have no filesystem,
// network, or process access.
package sandbox

import (
	"time"
)

// ErrorType classifies script failures.
type ErrorType string

const (
	ErrSyntax    ErrorType = "syntax"
	ErrSecurity  ErrorType = "security"
	ErrInterface ErrorType = "interface"
	ErrRuntime   ErrorType = "runtime"
	ErrTimeout   ErrorType = "timeout"
)

// ScriptError is a classified script failure with a human-readable message.
type ScriptError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
}

func (e ScriptError) Error() string {
	return string(e.Type) + ": " + e.Message
}

// SignalAction is the kind of instruction a script emits.
type SignalAction string

const (
	ActionBuy    SignalAction = "buy"
	ActionSell   SignalAction = "sell"
	ActionClose  SignalAction = "close"
	ActionCancel SignalAction = "cancel"
)

// OrderKind is the order type a signal requests.
type OrderKind string

const (
	KindMarket    OrderKind = "market"
	KindLimit     OrderKind = "limit"
	KindStop      OrderKind = "stop"
	KindStopLimit OrderKind = "stop_limit"
)

// Signal is one instruction emitted by the strategy script for a bar.
type Signal struct {
	Action    SignalAction `json:"action"`
	Quantity  float64      `json:"quantity"`
	Price     float64      `json:"price,omitempty"`
	StopPrice float64      `json:"stop_price,omitempty"`
	Kind      OrderKind    `json:"kind"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// PositionView is the evolving position the script sees before each bar.
type PositionView struct {
	Side          string  `json:"side"` // LONG or SHORT, empty when flat
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Policy bounds what a script may do. The zero value falls back to the
// defaults below.
type Policy struct {
	AllowedModules []string      `json:"allowed_modules"`
	ExecTimeout    time.Duration `json:"exec_timeout"`
	MaxSteps       uint64        `json:"max_steps"`
}

// Default sandbox ceilings.
const (
	DefaultExecTimeout = 30 * time.Second
	DefaultRoundTrip   = 60 * time.Second
	DefaultInitTimeout = 60 * time.Second
	DefaultMaxSteps    = 50_000_000
)

// DefaultAllowedModules is the load() allow-list: numeric, statistics, date,
// and collection helpers only.
func DefaultAllowedModules() []string {
	return []string{"math", "stats", "time", "json"}
}

// DefaultPolicy returns the policy applied when a strategy declares none.
func DefaultPolicy() Policy {
	return Policy{
		AllowedModules: DefaultAllowedModules(),
		ExecTimeout:    DefaultExecTimeout,
		MaxSteps:       DefaultMaxSteps,
	}
}

func (p Policy) withDefaults() Policy {
	if len(p.AllowedModules) == 0 {
		p.AllowedModules = DefaultAllowedModules()
	}
	if p.ExecTimeout <= 0 {
		p.ExecTimeout = DefaultExecTimeout
	}
	if p.MaxSteps == 0 {
		p.MaxSteps = DefaultMaxSteps
	}
	return p
}

// ValidationResult is the outcome of the static policy check.
type ValidationResult struct {
	Valid  bool          `json:"is_valid"`
	Errors []ScriptError `json:"errors,omitempty"`
}

// ExecResult is the outcome of replaying a bar series through a script.
type ExecResult struct {
	Signals []Signal      `json:"signals"`
	Err     *ScriptError  `json:"error,omitempty"`
	Final   *PositionView `json:"final_position,omitempty"`
}
