package risk

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const violationHistoryCap = 100

// Manager is the risk-limit state machine. It is Active until a loss or
// drawdown breach halts it; only an explicit Resume returns it to Active.
// All mutation happens on the runner's processing loop; the mutex guards
// concurrent reads from the API surface.
type Manager struct {
	mu     sync.RWMutex
	limits Limits
	status Status

	dayMarker     time.Time
	dailyBaseline float64

	orderTimes []time.Time
	history    []Violation

	now func() time.Time
}

// NewManager creates a risk manager seeded with the initial capital.
func NewManager(initialCapital float64, limits Limits) *Manager {
	now := time.Now
	start := now().UTC()
	return &Manager{
		limits: limits,
		status: Status{
			InitialCapital: initialCapital,
			CurrentEquity:  initialCapital,
			PeakEquity:     initialCapital,
		},
		dayMarker:     start.Truncate(24 * time.Hour),
		dailyBaseline: initialCapital,
		now:           now,
	}
}

// Limits returns the configured limit snapshot.
func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// Status returns a copy of the live risk status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Violations returns the bounded violation history, newest last.
func (m *Manager) Violations() []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Violation, len(m.history))
	copy(out, m.history)
	return out
}

// CheckOrder evaluates a proposed order against every limit, in a fixed
// order: halt flag, per-order value, resulting position caps (buy side
// only), total exposure, then the rolling order-rate window. Approved orders
// consume one slot of the rate window.
func (m *Manager) CheckOrder(order ProposedOrder, positions []Position) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var violations []Violation
	add := func(code, format string, args ...any) {
		violations = append(violations, Violation{
			Code:      code,
			Message:   fmt.Sprintf(format, args...),
			Timestamp: now,
		})
	}

	if m.status.Halted {
		add(CodeHalted, "trading halted: %s", m.status.HaltReason)
	}

	orderValue := order.Quantity * order.Price
	if m.limits.MaxOrderValue > 0 && orderValue > m.limits.MaxOrderValue {
		add(CodeOrderValue, "order value %.2f exceeds limit %.2f", orderValue, m.limits.MaxOrderValue)
	}

	// Position caps apply to the buy side only; sells reduce exposure.
	if order.Side == "BUY" {
		existing := 0.0
		for _, p := range positions {
			if p.Symbol == order.Symbol {
				existing = p.Quantity
			}
		}
		resulting := existing + order.Quantity
		if m.limits.MaxPositionSize > 0 && resulting > m.limits.MaxPositionSize {
			add(CodePositionSize, "resulting position size %.4f exceeds limit %.4f", resulting, m.limits.MaxPositionSize)
		}
		if m.limits.MaxPositionValue > 0 && resulting*order.Price > m.limits.MaxPositionValue {
			add(CodePositionValue, "resulting position value %.2f exceeds limit %.2f", resulting*order.Price, m.limits.MaxPositionValue)
		}
	}

	exposure := orderValue
	for _, p := range positions {
		exposure += p.Value()
	}
	if m.limits.MaxExposure > 0 && exposure > m.limits.MaxExposure {
		add(CodeExposure, "resulting exposure %.2f exceeds limit %.2f", exposure, m.limits.MaxExposure)
	}
	if m.limits.MaxExposurePct > 0 && m.status.CurrentEquity > 0 {
		pct := exposure / m.status.CurrentEquity * 100
		if pct > m.limits.MaxExposurePct {
			add(CodeExposure, "resulting exposure %.1f%% exceeds limit %.1f%%", pct, m.limits.MaxExposurePct)
		}
	}

	if m.limits.MaxOrdersPerMinute > 0 {
		m.evictOrderTimes(now)
		if len(m.orderTimes) >= m.limits.MaxOrdersPerMinute {
			add(CodeOrderRate, "order rate limit reached: %d orders in the last minute", len(m.orderTimes))
		}
	}

	if len(violations) > 0 {
		m.record(violations)
		return Decision{Allowed: false, Violations: violations}
	}

	if m.limits.MaxOrdersPerMinute > 0 {
		m.orderTimes = append(m.orderTimes, now)
	}
	return Decision{Allowed: true}
}

// evictOrderTimes drops timestamps older than the 60s sliding window.
func (m *Manager) evictOrderTimes(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for ; i < len(m.orderTimes); i++ {
		if m.orderTimes[i].After(cutoff) {
			break
		}
	}
	m.orderTimes = m.orderTimes[i:]
}

func (m *Manager) record(violations []Violation) {
	m.history = append(m.history, violations...)
	if len(m.history) > violationHistoryCap {
		m.history = m.history[len(m.history)-violationHistoryCap:]
	}
}

// UpdateEquity recomputes the derived risk status after fills or price moves
// and halts on the first breached critical limit. Daily-loss and total-loss
// breaches are evaluated ahead of drawdown, which fixes the reported reason
// when several are simultaneously true.
func (m *Manager) UpdateEquity(equity float64, positions []Position) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()

	// Daily baseline rolls over at UTC midnight.
	day := now.Truncate(24 * time.Hour)
	if day.After(m.dayMarker) {
		m.dayMarker = day
		m.dailyBaseline = m.status.CurrentEquity
		log.Printf("risk: daily baseline reset to %.2f", m.dailyBaseline)
	}

	m.status.CurrentEquity = equity
	if equity > m.status.PeakEquity {
		m.status.PeakEquity = equity
	}
	m.status.Drawdown = m.status.PeakEquity - equity
	if m.status.PeakEquity > 0 {
		m.status.DrawdownPct = m.status.Drawdown / m.status.PeakEquity * 100
	}
	m.status.DailyPnL = equity - m.dailyBaseline
	m.status.TotalPnL = equity - m.status.InitialCapital

	exposure := 0.0
	for _, p := range positions {
		exposure += p.Value()
	}
	m.status.Exposure = exposure

	m.checkBreaches(now)
	return m.status
}

func (m *Manager) checkBreaches(now time.Time) {
	if m.status.Halted {
		return
	}
	switch {
	case m.limits.MaxDailyLoss > 0 && -m.status.DailyPnL >= m.limits.MaxDailyLoss:
		m.haltLocked(now, fmt.Sprintf("Daily loss %.2f reached limit %.2f", -m.status.DailyPnL, m.limits.MaxDailyLoss))
	case m.limits.MaxDailyLossPct > 0 && m.dailyBaseline > 0 && -m.status.DailyPnL/m.dailyBaseline*100 >= m.limits.MaxDailyLossPct:
		m.haltLocked(now, fmt.Sprintf("Daily loss %.1f%% reached limit %.1f%%", -m.status.DailyPnL/m.dailyBaseline*100, m.limits.MaxDailyLossPct))
	case m.limits.MaxTotalLoss > 0 && -m.status.TotalPnL >= m.limits.MaxTotalLoss:
		m.haltLocked(now, fmt.Sprintf("Total loss %.2f reached limit %.2f", -m.status.TotalPnL, m.limits.MaxTotalLoss))
	case m.limits.MaxTotalLossPct > 0 && m.status.InitialCapital > 0 && -m.status.TotalPnL/m.status.InitialCapital*100 >= m.limits.MaxTotalLossPct:
		m.haltLocked(now, fmt.Sprintf("Total loss %.1f%% reached limit %.1f%%", -m.status.TotalPnL/m.status.InitialCapital*100, m.limits.MaxTotalLossPct))
	case m.limits.MaxDrawdownPct > 0 && m.status.DrawdownPct >= m.limits.MaxDrawdownPct:
		m.haltLocked(now, fmt.Sprintf("Drawdown %.1f%% reached limit %.1f%%", m.status.DrawdownPct, m.limits.MaxDrawdownPct))
	}
}

// Halt manually stops all order approval. Halting is idempotent: the first
// reason wins.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltLocked(m.now().UTC(), reason)
}

func (m *Manager) haltLocked(now time.Time, reason string) {
	if m.status.Halted {
		return
	}
	m.status.Halted = true
	m.status.HaltReason = reason
	m.status.HaltedAt = now
	log.Printf("risk: HALTED: %s", reason)
}

// Resume is the only transition back to Active.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.status.Halted {
		return
	}
	m.status.Halted = false
	m.status.HaltReason = ""
	m.status.HaltedAt = time.Time{}
	log.Printf("risk: resumed")
}
