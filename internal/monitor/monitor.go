package monitor

import (
	"context"
	"log"

	"strategy-core/internal/events"
)

// Watch counts bus traffic per topic into the collector, and logs risk
// alerts as they arrive. Runs until the context is cancelled or the bus
// closes.
func Watch(ctx context.Context, bus *events.Bus, m *Metrics) {
	topics := []events.Event{
		events.EventBar,
		events.EventSignal,
		events.EventOrderFilled,
		events.EventOrderRejected,
		events.EventRiskAlert,
		events.EventRunnerState,
		events.EventBacktestDone,
	}
	for _, topic := range topics {
		stream, unsub := bus.Subscribe(topic, 100)
		go func(topic events.Event, stream <-chan any) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					m.Inc(string(topic))
					if topic == events.EventRiskAlert {
						log.Printf("monitor: risk alert: %v", msg)
					}
				}
			}
		}(topic, stream)
	}
}
