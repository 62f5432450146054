package backtest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"strategy-core/internal/events"
	"strategy-core/internal/market"
	"strategy-core/internal/paper"
	"strategy-core/internal/sandbox"
)

// Engine owns backtest runs: it creates a dedicated sandbox bridge per run,
// replays the returned signals through paper accounting, and keeps finished
// results for inspection.
type Engine struct {
	bus *events.Bus

	mu      sync.RWMutex
	runs    map[string]*Result
	cancels map[string]context.CancelFunc
}

func NewEngine(bus *events.Bus) *Engine {
	return &Engine{
		bus:     bus,
		runs:    make(map[string]*Result),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run executes one backtest synchronously and returns its result.
func (e *Engine) Run(ctx context.Context, cfg Config, code string, policy sandbox.Policy, bars []market.Bar) *Result {
	res := e.register(cfg, len(bars))
	e.run(ctx, res, cfg, code, policy, bars)
	return res
}

// Start launches a run in the background and returns its id immediately.
// done, when non-nil, is invoked with the finished result.
func (e *Engine) Start(ctx context.Context, cfg Config, code string, policy sandbox.Policy, bars []market.Bar, done func(*Result)) string {
	res := e.register(cfg, len(bars))
	go func() {
		e.run(ctx, res, cfg, code, policy, bars)
		if done != nil {
			done(res)
		}
	}()
	return res.ID
}

func (e *Engine) register(cfg Config, barCount int) *Result {
	res := &Result{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		BarsTotal: barCount,
	}
	e.mu.Lock()
	e.runs[res.ID] = res
	e.mu.Unlock()
	return res
}

func (e *Engine) run(ctx context.Context, res *Result, cfg Config, code string, policy sandbox.Policy, bars []market.Bar) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[res.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, res.ID)
		e.mu.Unlock()
	}()

	e.execute(runCtx, res, cfg, code, policy, bars)

	e.mu.Lock()
	now := time.Now().UTC()
	res.FinishedAt = &now
	snap := *res
	e.mu.Unlock()
	log.Printf("backtest: run %s finished status=%s bars=%d trades=%d",
		snap.ID, snap.Status, snap.BarsTotal, len(snap.Trades))
	if e.bus != nil {
		e.bus.Publish(events.EventBacktestDone, snap)
	}
}

// fail marks a run failed. Result mutation always happens under the engine
// mutex so concurrent Get calls observe a consistent run.
func (e *Engine) fail(res *Result, msg string) {
	e.mu.Lock()
	res.Status = StatusFailed
	res.Error = msg
	e.mu.Unlock()
}

func (e *Engine) execute(ctx context.Context, res *Result, cfg Config, code string, policy sandbox.Policy, bars []market.Bar) {
	if len(bars) == 0 {
		e.fail(res, "no bars supplied")
		return
	}
	if cfg.InitialCapital <= 0 {
		e.fail(res, fmt.Sprintf("initial capital must be positive, got %v", cfg.InitialCapital))
		return
	}

	bridge, err := sandbox.NewBridge()
	if err != nil {
		e.fail(res, fmt.Sprintf("sandbox init: %v", err))
		return
	}
	defer bridge.Close()

	// One pass of the whole series through the script.
	exec := bridge.Execute(ctx, code, bars, cfg.Params, policy, sandbox.DefaultExecTimeout)
	if exec.Err != nil {
		e.fail(res, exec.Err.Error())
		return
	}
	e.mu.Lock()
	res.SignalCount = len(exec.Signals)
	e.mu.Unlock()

	// Replay the signals through paper accounting, bar by bar.
	byBar := make(map[int64][]sandbox.Signal, len(exec.Signals))
	for _, sig := range exec.Signals {
		key := sig.Timestamp.UnixNano()
		byBar[key] = append(byBar[key], sig)
	}

	book := paper.NewEngine(cfg.InitialCapital, cfg.FeeRate, cfg.SlippagePct)
	peak := cfg.InitialCapital
	for _, bar := range bars {
		if ctx.Err() != nil {
			e.mu.Lock()
			res.Status = StatusCancelled
			res.Error = ctx.Err().Error()
			e.mu.Unlock()
			e.finish(res, book, cfg)
			return
		}

		// Queued conditional orders fill against this bar's range first.
		book.ProcessBar(cfg.Symbol, bar)

		for _, sig := range byBar[bar.Timestamp.UnixNano()] {
			if err := e.applySignal(book, cfg.Symbol, sig, bar); err != nil {
				log.Printf("backtest: run %s signal skipped: %v", res.ID, err)
			}
		}

		eq := book.Equity()
		if eq > peak {
			peak = eq
		}
		e.mu.Lock()
		res.EquityCurve = append(res.EquityCurve, EquityPoint{
			Timestamp:     bar.Timestamp,
			Equity:        eq,
			Cash:          book.Cash(),
			PositionValue: eq - book.Cash(),
			Drawdown:      peak - eq,
		})
		e.mu.Unlock()
	}

	e.mu.Lock()
	res.Status = StatusCompleted
	e.mu.Unlock()
	e.finish(res, book, cfg)
}

func (e *Engine) applySignal(book *paper.Engine, symbol string, sig sandbox.Signal, bar market.Bar) error {
	switch sig.Action {
	case sandbox.ActionCancel:
		book.CancelAll()
		return nil
	case sandbox.ActionClose:
		pos, ok := book.Position(symbol)
		if !ok {
			return fmt.Errorf("close with no open position at %s", bar.Timestamp.Format(time.RFC3339))
		}
		side := "SELL"
		if pos.Side == "SHORT" {
			side = "BUY"
		}
		_, err := book.Submit(paper.Request{
			Symbol: symbol, Side: side, Kind: "market",
			Quantity: pos.Quantity, Price: bar.Close,
			Reason: sig.Reason, Timestamp: bar.Timestamp,
		})
		return err
	case sandbox.ActionBuy, sandbox.ActionSell:
		side := "BUY"
		if sig.Action == sandbox.ActionSell {
			side = "SELL"
		}
		kind := string(sig.Kind)
		if kind == "" {
			kind = "market"
		}
		price := sig.Price
		if price <= 0 {
			price = bar.Close
		}
		_, err := book.Submit(paper.Request{
			Symbol: symbol, Side: side, Kind: kind,
			Quantity: sig.Quantity, Price: price, StopPrice: sig.StopPrice,
			Reason: sig.Reason, Timestamp: bar.Timestamp,
		})
		return err
	default:
		return fmt.Errorf("unknown signal action %q", sig.Action)
	}
}

func (e *Engine) finish(res *Result, book *paper.Engine, cfg Config) {
	trades := book.Trades()
	fees, volume, slippage := book.Costs()
	e.mu.Lock()
	res.Trades = trades
	res.Metrics = ComputeMetrics(res.EquityCurve, trades, cfg.InitialCapital, fees, volume, slippage)
	e.mu.Unlock()
}

// Get returns a snapshot of a run by id. Running backtests keep mutating
// their stored result, so callers always get a detached copy.
func (e *Engine) Get(id string) (*Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.runs[id]
	if !ok {
		return nil, false
	}
	return res.clone(), true
}

// List returns snapshots of all known runs.
func (e *Engine) List() []*Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Result, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, r.clone())
	}
	return out
}

// Cancel requests cooperative cancellation of a running backtest.
func (e *Engine) Cancel(id string) error {
	e.mu.RLock()
	cancel, ok := e.cancels[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("backtest: no running backtest %s", id)
	}
	cancel()
	return nil
}
