package events

// Event enumerates high-level topics inside the strategy core.
type Event string

const (
	EventBar           Event = "bar"
	EventSignal        Event = "signal"
	EventOrderFilled   Event = "order.filled"
	EventOrderRejected Event = "order.rejected"
	EventRiskAlert     Event = "risk_alert"
	EventRunnerState   Event = "runner.state"
	EventBacktestDone  Event = "backtest.done"
)
