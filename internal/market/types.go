package market

import (
	"context"
	"time"
)

// Bar is one OHLCV observation for a fixed interval. Timestamps are
// monotonically increasing within a series.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Tick pairs a bar with its symbol for bus fan-out, so subscribers can
// filter streams from feeds covering different markets.
type Tick struct {
	Symbol string `json:"symbol"`
	Bar    Bar    `json:"bar"`
}

// HistoricalProvider supplies bars for a market/time-range/resolution.
// Implementations live outside the core; the mock feed below covers local runs.
type HistoricalProvider interface {
	GetBars(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Bar, error)
}
