package market

import (
	"context"
	"log"
	"math/rand"
	"time"

	"strategy-core/internal/events"
)

// MockFeed generates synthetic OHLCV bars for local development.
type MockFeed struct {
	Bus        *events.Bus
	Symbol     string
	StartPrice float64
	Step       float64
	Interval   time.Duration
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return
	}
	price := m.StartPrice
	if price == 0 {
		price = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				// simple random walk, bar range spread around open/close
				open := price
				price += (rand.Float64()*2 - 1) * m.Step
				high := open
				low := open
				if price > high {
					high = price
				}
				if price < low {
					low = price
				}
				high += rand.Float64() * m.Step / 2
				low -= rand.Float64() * m.Step / 2
				m.Bus.Publish(events.EventBar, Tick{
					Symbol: m.Symbol,
					Bar: Bar{
						Timestamp: now.UTC(),
						Open:      open,
						High:      high,
						Low:       low,
						Close:     price,
						Volume:    100 + rand.Float64()*900,
					},
				})
			}
		}
	}()
}

// GenerateBars produces a deterministic synthetic series, useful for
// backtests without an external data provider.
func GenerateBars(start time.Time, interval time.Duration, count int, startPrice, step float64, seed int64) []Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]Bar, 0, count)
	price := startPrice
	ts := start
	for i := 0; i < count; i++ {
		open := price
		price += (rng.Float64()*2 - 1) * step
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		bars = append(bars, Bar{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    100 + rng.Float64()*900,
		})
		ts = ts.Add(interval)
	}
	return bars
}
