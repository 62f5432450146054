package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"strategy-core/internal/events"
	"strategy-core/internal/executor"
	"strategy-core/internal/market"
	"strategy-core/internal/paper"
	"strategy-core/internal/risk"
	"strategy-core/internal/sandbox"
)

// Runner drives one strategy session. Bars are pushed into a FIFO queue and
// drained by a single consumer, so signal generation, risk checks, and order
// submission for one bar always finish before the next bar starts.
type Runner struct {
	cfg  Config
	code string
	bus  *events.Bus

	live     *executor.Executor
	sessions executor.SessionChecker

	mu   sync.Mutex
	cond *sync.Cond

	state     State
	errMsg    string
	counters  Counters
	lastPrice float64

	bridge  *sandbox.Bridge
	riskMgr *risk.Manager
	book    *paper.Engine
	barCh   chan market.Bar
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an idle runner for the given script.
func New(cfg Config, code string, bus *events.Bus) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	r := &Runner{cfg: cfg, code: code, bus: bus, state: StateIdle}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// SetLive attaches the live executor and session collaborator. Required
// before starting in live mode.
func (r *Runner) SetLive(exec *executor.Executor, sessions executor.SessionChecker) {
	r.live = exec
	r.sessions = sessions
}

// Start validates the script, builds the session's owned resources, and
// launches the consuming loop. Startup failures transition to the error
// state; they are the only fatal failure class.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("runner: cannot start from state %s", st)
	}
	r.state = StateStarting
	r.mu.Unlock()
	r.publishState()

	if r.cfg.Mode == ModeLive {
		if r.live == nil || r.sessions == nil || !r.sessions.HasActiveSession(r.cfg.Account) {
			return r.fail("no active trading session for live mode")
		}
	}

	bridge, err := sandbox.NewBridge()
	if err != nil {
		return r.fail(fmt.Sprintf("sandbox init: %v", err))
	}
	validation, err := bridge.Validate(ctx, r.code, r.cfg.Policy)
	if err != nil {
		bridge.Close()
		return r.fail(fmt.Sprintf("script validation: %v", err))
	}
	if !validation.Valid {
		bridge.Close()
		return r.fail(fmt.Sprintf("script rejected: %s", validation.Errors[0].Message))
	}

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.bridge = bridge
	r.riskMgr = risk.NewManager(r.cfg.InitialCapital, r.cfg.Limits)
	r.book = paper.NewEngine(r.cfg.InitialCapital, r.cfg.FeeRate, r.cfg.SlippagePct)
	r.barCh = make(chan market.Bar, r.cfg.QueueSize)
	r.cancel = cancel
	r.state = StateRunning
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(runCtx)

	log.Printf("runner: started %s session for %s", r.cfg.Mode, r.cfg.Symbol)
	r.publishState()
	return nil
}

func (r *Runner) fail(msg string) error {
	r.mu.Lock()
	r.state = StateError
	r.errMsg = msg
	r.mu.Unlock()
	log.Printf("runner: startup failed: %s", msg)
	r.publishState()
	return errors.New(msg)
}

// OnBar enqueues a bar. Bars are accepted while running or paused; a paused
// session accumulates them without processing.
func (r *Runner) OnBar(bar market.Bar) error {
	r.mu.Lock()
	st, ch := r.state, r.barCh
	r.mu.Unlock()
	if st != StateRunning && st != StatePaused {
		return fmt.Errorf("runner: not accepting bars in state %s", st)
	}
	select {
	case ch <- bar:
		return nil
	default:
		return errors.New("runner: bar queue full")
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case bar := <-r.barCh:
			// A pause can land while the loop is parked on the queue; the
			// dequeued bar waits out the pause before it is processed.
			if !r.waitRunnable() {
				return
			}
			r.processBar(ctx, bar)
		}
	}
}

// waitRunnable blocks while paused and reports whether the loop should keep
// consuming.
func (r *Runner) waitRunnable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.state == StatePaused {
		r.cond.Wait()
	}
	return r.state == StateRunning
}

// processBar runs the whole per-bar pipeline sequentially: current position
// view → script → per-signal risk check and dispatch → equity feedback →
// state notification.
func (r *Runner) processBar(ctx context.Context, bar market.Bar) {
	if r.cfg.Mode == ModePaper {
		filled := r.book.ProcessBar(r.cfg.Symbol, bar)
		for _, o := range filled {
			r.bumpTrades()
			if r.bus != nil {
				r.bus.Publish(events.EventOrderFilled, *o)
			}
		}
	} else {
		r.live.UpdatePrice(r.cfg.Symbol, bar.Close)
	}

	res := r.bridge.ExecuteBar(ctx, r.code, bar, r.positionView(), r.cfg.Params, r.cfg.Policy, 0)

	r.mu.Lock()
	r.counters.BarsProcessed++
	r.counters.SignalsGenerated += int64(len(res.Signals))
	r.lastPrice = bar.Close
	r.mu.Unlock()

	if res.Err != nil {
		// Per-bar failures are recovered locally; the session continues.
		log.Printf("runner: bar %s script error: %v", bar.Timestamp.Format("2006-01-02T15:04:05"), res.Err)
	}

	for _, sig := range res.Signals {
		if sig.Action == sandbox.ActionCancel {
			continue
		}
		if r.bus != nil {
			r.bus.Publish(events.EventSignal, sig)
		}
		r.dispatch(ctx, sig, bar)
	}

	r.riskMgr.UpdateEquity(r.equity(), r.riskPositions())
	r.publishState()
}

func (r *Runner) dispatch(ctx context.Context, sig sandbox.Signal, bar market.Bar) {
	side, qty, err := r.resolveSide(sig)
	if err != nil {
		log.Printf("runner: signal skipped: %v", err)
		return
	}
	price := sig.Price
	if price <= 0 {
		price = bar.Close
	}

	decision := r.riskMgr.CheckOrder(risk.ProposedOrder{
		Symbol:   r.cfg.Symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
	}, r.riskPositions())
	if !decision.Allowed {
		log.Printf("runner: order rejected by risk manager: %s", decision.Violations[0].Message)
		if r.bus != nil {
			r.bus.Publish(events.EventRiskAlert, decision.Violations)
		}
		return
	}

	if r.cfg.Mode == ModeLive {
		res := r.live.ProcessSignal(ctx, sig, r.cfg.Symbol, bar.Close)
		if res.Order != nil {
			r.bumpOrders()
			if res.Order.Status == paper.StatusFilled {
				r.bumpTrades()
			}
		}
		if res.Error != "" {
			log.Printf("runner: live order failed: %s", res.Error)
		}
		return
	}

	kind := string(sig.Kind)
	if kind == "" {
		kind = "market"
	}
	order, err := r.book.Submit(paper.Request{
		Symbol:    r.cfg.Symbol,
		Side:      side,
		Kind:      kind,
		Quantity:  qty,
		Price:     price,
		StopPrice: sig.StopPrice,
		Reason:    sig.Reason,
		Timestamp: bar.Timestamp,
	})
	if err != nil {
		log.Printf("runner: paper order failed: %v", err)
		return
	}
	r.bumpOrders()
	if order.Status == paper.StatusFilled {
		r.bumpTrades()
		if r.bus != nil {
			r.bus.Publish(events.EventOrderFilled, *order)
		}
	}
}

// resolveSide maps a signal to an order side and quantity; close targets the
// full current position.
func (r *Runner) resolveSide(sig sandbox.Signal) (string, float64, error) {
	switch sig.Action {
	case sandbox.ActionBuy:
		return "BUY", sig.Quantity, nil
	case sandbox.ActionSell:
		return "SELL", sig.Quantity, nil
	case sandbox.ActionClose:
		var pos paper.Position
		var ok bool
		if r.cfg.Mode == ModeLive {
			pos, ok = r.live.Position(r.cfg.Symbol)
		} else {
			pos, ok = r.book.Position(r.cfg.Symbol)
		}
		if !ok {
			return "", 0, fmt.Errorf("close signal with no open position in %s", r.cfg.Symbol)
		}
		side := "SELL"
		if pos.Side == "SHORT" {
			side = "BUY"
		}
		return side, pos.Quantity, nil
	default:
		return "", 0, fmt.Errorf("unsupported signal action %q", sig.Action)
	}
}

func (r *Runner) positionView() sandbox.PositionView {
	var pos paper.Position
	var ok bool
	if r.cfg.Mode == ModeLive {
		pos, ok = r.live.Position(r.cfg.Symbol)
	} else {
		pos, ok = r.book.Position(r.cfg.Symbol)
	}
	if !ok {
		return sandbox.PositionView{}
	}
	return sandbox.PositionView{
		Side:          pos.Side,
		Quantity:      pos.Quantity,
		AvgPrice:      pos.AvgPrice,
		UnrealizedPnL: pos.UnrealizedPnL,
	}
}

func (r *Runner) positions() []paper.Position {
	if r.cfg.Mode == ModeLive {
		return r.live.Positions()
	}
	return r.book.Positions()
}

func (r *Runner) riskPositions() []risk.Position {
	positions := r.positions()
	out := make([]risk.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, risk.Position{
			Symbol:    p.Symbol,
			Side:      p.Side,
			Quantity:  p.Quantity,
			MarkPrice: p.MarkPrice,
		})
	}
	return out
}

// equity is exact for paper sessions. Live sessions have no local cash
// ledger, so equity is estimated as initial capital plus open unrealized PnL.
func (r *Runner) equity() float64 {
	if r.cfg.Mode == ModePaper {
		return r.book.Equity()
	}
	eq := r.cfg.InitialCapital
	for _, p := range r.live.Positions() {
		eq += p.UnrealizedPnL
	}
	return eq
}

// Pause holds bar consumption; queued bars are kept.
func (r *Runner) Pause() error {
	r.mu.Lock()
	if r.state != StateRunning {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("runner: cannot pause from state %s", st)
	}
	r.state = StatePaused
	r.mu.Unlock()
	r.publishState()
	return nil
}

// Resume continues consumption after a pause.
func (r *Runner) Resume() error {
	r.mu.Lock()
	if r.state != StatePaused {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("runner: cannot resume from state %s", st)
	}
	r.state = StateRunning
	r.cond.Broadcast()
	r.mu.Unlock()
	r.publishState()
	return nil
}

// Stop finishes any in-flight bar, cancels outstanding orders, and
// transitions to stopped.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.state != StateRunning && r.state != StatePaused {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("runner: cannot stop from state %s", st)
	}
	r.state = StateStopping
	cancel := r.cancel
	r.cond.Broadcast()
	r.mu.Unlock()
	r.publishState()

	cancel()
	r.wg.Wait()

	if r.cfg.Mode == ModePaper {
		if n := r.book.CancelAll(); n > 0 {
			log.Printf("runner: cancelled %d open paper orders", n)
		}
	}

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	log.Printf("runner: stopped %s session for %s", r.cfg.Mode, r.cfg.Symbol)
	r.publishState()
	return nil
}

// EmergencyStop halts the risk manager and attempts to close every open
// position before stopping. The session ends up stopped regardless of how
// the close attempts fare.
func (r *Runner) EmergencyStop() error {
	r.mu.Lock()
	if r.riskMgr == nil {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("runner: cannot emergency stop from state %s", st)
	}
	r.mu.Unlock()
	r.riskMgr.Halt("emergency stop")

	r.mu.Lock()
	price := r.lastPrice
	r.mu.Unlock()

	if r.cfg.Mode == ModeLive {
		prices := make(map[string]float64)
		for _, p := range r.live.Positions() {
			prices[p.Symbol] = p.MarkPrice
		}
		sum := r.live.CloseAllPositions(context.Background(), prices)
		log.Printf("runner: emergency close closed=%d failed=%d", sum.Closed, sum.Failed)
	} else {
		for _, p := range r.book.Positions() {
			side := "SELL"
			if p.Side == "SHORT" {
				side = "BUY"
			}
			mark := p.MarkPrice
			if price > 0 {
				mark = price
			}
			if _, err := r.book.Submit(paper.Request{
				Symbol: p.Symbol, Side: side, Kind: "market",
				Quantity: p.Quantity, Price: mark, Reason: "emergency stop",
			}); err != nil {
				log.Printf("runner: emergency close %s failed: %v", p.Symbol, err)
			}
		}
	}

	return r.Stop()
}

// Destroy tears down all owned resources and returns the runner to idle.
// It is the only path back to an uninitialized session.
func (r *Runner) Destroy() {
	r.mu.Lock()
	st := r.state
	r.mu.Unlock()
	if st == StateRunning || st == StatePaused {
		if err := r.Stop(); err != nil {
			log.Printf("runner: stop during destroy: %v", err)
		}
	}

	r.mu.Lock()
	if r.bridge != nil {
		r.bridge.Close()
	}
	r.bridge = nil
	r.riskMgr = nil
	r.book = nil
	r.barCh = nil
	r.cancel = nil
	r.counters = Counters{}
	r.errMsg = ""
	r.state = StateIdle
	r.mu.Unlock()
	r.publishState()
}

// SnapshotPaper captures the paper book for persistence. ok is false for
// live sessions and for sessions that never started.
func (r *Runner) SnapshotPaper() (paper.State, bool) {
	r.mu.Lock()
	book := r.book
	r.mu.Unlock()
	if r.cfg.Mode != ModePaper || book == nil {
		return paper.State{}, false
	}
	return book.Snapshot(), true
}

// RestorePaper loads a persisted paper book into a session that has already
// started. Restoring a live or unstarted session is an error.
func (r *Runner) RestorePaper(st paper.State) error {
	r.mu.Lock()
	book := r.book
	r.mu.Unlock()
	if r.cfg.Mode != ModePaper {
		return errors.New("runner: cannot restore paper state into a live session")
	}
	if book == nil {
		return errors.New("runner: session not started")
	}
	book.Restore(st)
	return nil
}

// Risk exposes the session's risk manager for manual resume and inspection.
func (r *Runner) Risk() *risk.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.riskMgr
}

// Status returns a point-in-time snapshot of the session.
func (r *Runner) Status() Snapshot {
	r.mu.Lock()
	state, errMsg, counters := r.state, r.errMsg, r.counters
	riskMgr, book := r.riskMgr, r.book
	r.mu.Unlock()

	snap := Snapshot{
		State:    state,
		Mode:     r.cfg.Mode,
		Symbol:   r.cfg.Symbol,
		Error:    errMsg,
		Counters: counters,
	}
	if riskMgr != nil {
		snap.Risk = riskMgr.Status()
	}
	if r.cfg.Mode == ModeLive && r.live != nil {
		snap.Positions = r.live.Positions()
		snap.LiveOrders = r.live.Orders()
		snap.Equity = r.equity()
	} else if book != nil {
		snap.Positions = book.Positions()
		snap.OpenOrders = book.OpenOrders()
		snap.Equity = book.Equity()
	}
	return snap
}

func (r *Runner) bumpOrders() {
	r.mu.Lock()
	r.counters.OrdersPlaced++
	r.mu.Unlock()
}

func (r *Runner) bumpTrades() {
	r.mu.Lock()
	r.counters.TradesExecuted++
	r.mu.Unlock()
}

func (r *Runner) publishState() {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.EventRunnerState, r.Status())
}
