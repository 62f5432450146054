package sandbox

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"strategy-core/internal/indicators"
	"strategy-core/internal/market"
)

const entryPoint = "on_bar"

// scriptCtx is the object handed to on_bar as its first argument. It exposes
// the current position view, the declared parameters, signal emitters, and
// indicator access over the bars seen so far.
type scriptCtx struct {
	position *PositionView
	params   *starlark.Dict
	bars     []market.Bar
	barIdx   int
	pending  []Signal
}

var _ starlark.HasAttrs = (*scriptCtx)(nil)

func (c *scriptCtx) String() string        { return "<strategy context>" }
func (c *scriptCtx) Type() string          { return "strategy_context" }
func (c *scriptCtx) Freeze()               {}
func (c *scriptCtx) Truth() starlark.Bool  { return starlark.True }
func (c *scriptCtx) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: strategy_context") }

func (c *scriptCtx) AttrNames() []string {
	return []string{"buy", "cancel", "close", "indicator", "params", "position", "sell"}
}

func (c *scriptCtx) Attr(name string) (starlark.Value, error) {
	switch name {
	case "position":
		if c.position == nil || c.position.Quantity == 0 {
			return starlark.None, nil
		}
		return starlarkstruct.FromStringDict(starlark.String("position"), starlark.StringDict{
			"side":           starlark.String(c.position.Side),
			"quantity":       starlark.Float(c.position.Quantity),
			"avg_price":      starlark.Float(c.position.AvgPrice),
			"unrealized_pnl": starlark.Float(c.position.UnrealizedPnL),
		}), nil
	case "params":
		return c.params, nil
	case "buy":
		return c.signalBuiltin("buy", ActionBuy), nil
	case "sell":
		return c.signalBuiltin("sell", ActionSell), nil
	case "close":
		return c.signalBuiltin("close", ActionClose), nil
	case "cancel":
		return c.signalBuiltin("cancel", ActionCancel), nil
	case "indicator":
		return starlark.NewBuiltin("indicator", c.indicator), nil
	}
	return nil, nil
}

func (c *scriptCtx) signalBuiltin(name string, action SignalAction) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var quantity, price, stop starlark.Value
		kind := string(KindMarket)
		reason := ""
		if err := starlark.UnpackArgs(name, args, kwargs,
			"quantity?", &quantity, "price?", &price, "stop?", &stop,
			"kind?", &kind, "reason?", &reason); err != nil {
			return nil, err
		}

		sig := Signal{
			Action: action,
			Kind:   OrderKind(strings.ToLower(kind)),
			Reason: reason,
		}
		var err error
		if sig.Quantity, err = floatOrZero(quantity); err != nil {
			return nil, fmt.Errorf("%s: quantity: %w", name, err)
		}
		if sig.Price, err = floatOrZero(price); err != nil {
			return nil, fmt.Errorf("%s: price: %w", name, err)
		}
		if sig.StopPrice, err = floatOrZero(stop); err != nil {
			return nil, fmt.Errorf("%s: stop: %w", name, err)
		}
		if action == ActionClose && sig.Quantity == 0 && c.position != nil {
			sig.Quantity = c.position.Quantity
		}
		sig.Timestamp = c.bars[c.barIdx].Timestamp
		c.pending = append(c.pending, sig)
		return starlark.None, nil
	})
}

// indicator computes a named indicator over the bars up to and including the
// current one, returning the latest value (or values for multi-line
// indicators). NaN warm-up values come back as None.
func (c *scriptCtx) indicator(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("indicator: want exactly one positional argument (name)")
	}
	name, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("indicator: name must be a string")
	}

	params := make(map[string]float64, len(kwargs))
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		v, err := floatOrZero(kv[1])
		if err != nil {
			return nil, fmt.Errorf("indicator %s: parameter %s: %w", name, key, err)
		}
		params[key] = v
	}

	window := c.bars[:c.barIdx+1]
	in := indicators.Input{
		High:   make([]float64, len(window)),
		Low:    make([]float64, len(window)),
		Close:  make([]float64, len(window)),
		Volume: make([]float64, len(window)),
	}
	for i, bar := range window {
		in.High[i] = bar.High
		in.Low[i] = bar.Low
		in.Close[i] = bar.Close
		in.Volume[i] = bar.Volume
	}

	out, err := indicators.Calculate(name, in, params)
	if err != nil {
		return nil, err
	}
	if values, ok := out["values"]; ok && len(out) == 1 {
		return floatOrNone(values[len(values)-1]), nil
	}
	d := starlark.NewDict(len(out))
	for line, values := range out {
		_ = d.SetKey(starlark.String(line), floatOrNone(values[len(values)-1]))
	}
	return d, nil
}

func floatOrNone(v float64) starlark.Value {
	if math.IsNaN(v) {
		return starlark.None
	}
	return starlark.Float(v)
}

func floatOrZero(v starlark.Value) (float64, error) {
	if v == nil || v == starlark.None {
		return 0, nil
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("got %s, want a number", v.Type())
	}
	return f, nil
}

func barStruct(bar market.Bar, index int) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlark.String("bar"), starlark.StringDict{
		"timestamp": starlark.Float(float64(bar.Timestamp.UnixMilli()) / 1000),
		"open":      starlark.Float(bar.Open),
		"high":      starlark.Float(bar.High),
		"low":       starlark.Float(bar.Low),
		"close":     starlark.Float(bar.Close),
		"volume":    starlark.Float(bar.Volume),
		"index":     starlark.MakeInt(index),
	})
}

func paramsDict(params map[string]any) *starlark.Dict {
	d := starlark.NewDict(len(params))
	for k, v := range params {
		var sv starlark.Value
		switch t := v.(type) {
		case bool:
			sv = starlark.Bool(t)
		case int:
			sv = starlark.MakeInt(t)
		case int64:
			sv = starlark.MakeInt64(t)
		case float64:
			sv = starlark.Float(t)
		case string:
			sv = starlark.String(t)
		default:
			sv = starlark.String(fmt.Sprintf("%v", t))
		}
		_ = d.SetKey(starlark.String(k), sv)
	}
	return d
}

// statsModule is a small statistics helper library exposed to scripts via
// load("stats", ...).
var statsModule = &starlarkstruct.Module{
	Name: "stats",
	Members: starlark.StringDict{
		"mean":   starlark.NewBuiltin("mean", statsReduce(mean)),
		"median": starlark.NewBuiltin("median", statsReduce(median)),
		"stdev":  starlark.NewBuiltin("stdev", statsReduce(stdev)),
		"sum":    starlark.NewBuiltin("sum", statsReduce(sum)),
	},
}

func statsReduce(fn func([]float64) float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var list *starlark.List
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &list); err != nil {
			return nil, err
		}
		values := make([]float64, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			f, ok := starlark.AsFloat(list.Index(i))
			if !ok {
				return nil, fmt.Errorf("%s: element %d is not a number", b.Name(), i)
			}
			values = append(values, f)
		}
		if len(values) == 0 {
			return starlark.None, nil
		}
		return starlark.Float(fn(values)), nil
	}
}

func sum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}

func mean(values []float64) float64 { return sum(values) / float64(len(values)) }

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stdev(values []float64) float64 {
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// loadModule serves load() statements from the allow-list. Validation has
// already rejected anything else, but the loader re-checks so execution is
// safe even for scripts that skipped validation.
func loadModule(allowed []string) func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	allowedSet := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		allowedSet[m] = true
	}
	return func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
		if !allowedSet[module] {
			return nil, fmt.Errorf("module %q is not on the import allow-list", module)
		}
		switch module {
		case "math":
			return starlark.StringDict{"math": starlarkmath.Module}, nil
		case "stats":
			return starlark.StringDict{"stats": statsModule}, nil
		case "time":
			return starlark.StringDict{"time": starlarktime.Module}, nil
		case "json":
			return starlark.StringDict{"json": json.Module}, nil
		}
		return nil, fmt.Errorf("module %q is not available", module)
	}
}

// execScript runs the full bar series through a script on the given thread.
// A runtime failure inside one bar's callback is logged and yields no signal
// for that bar; cancellation (timeout or step budget) aborts the run.
func execScript(thread *starlark.Thread, code string, bars []market.Bar, params map[string]any, policy Policy, seed *PositionView) ExecResult {
	thread.Load = loadModule(policy.AllowedModules)

	globals, err := starlark.ExecFile(thread, "strategy.star", code, starlark.StringDict{})
	if err != nil {
		return ExecResult{Err: classifyError(err)}
	}

	fn, ok := globals[entryPoint].(*starlark.Function)
	if !ok {
		return ExecResult{Err: &ScriptError{
			Type:    ErrInterface,
			Message: fmt.Sprintf("script must define a %s(ctx, bar) function", entryPoint),
		}}
	}

	view := &PositionView{}
	if seed != nil {
		*view = *seed
	}
	ctx := &scriptCtx{
		position: view,
		params:   paramsDict(params),
		bars:     bars,
	}

	var signals []Signal
	for i, bar := range bars {
		// Refresh derived fields before the callback sees the position.
		markPosition(view, bar.Close)
		ctx.barIdx = i
		ctx.pending = ctx.pending[:0]

		if _, err := starlark.Call(thread, fn, starlark.Tuple{ctx, barStruct(bar, i)}, nil); err != nil {
			if cancelled(err) {
				return ExecResult{Signals: signals, Err: &ScriptError{
					Type:    ErrTimeout,
					Message: fmt.Sprintf("execution aborted at bar %d: %v", i, err),
				}}
			}
			log.Printf("sandbox: bar %d callback error: %v", i, err)
			continue
		}

		for _, sig := range ctx.pending {
			signals = append(signals, sig)
			applySignal(view, sig, bar.Close)
		}
	}
	final := *view
	return ExecResult{Signals: signals, Final: &final}
}

func cancelled(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "cancelled") || strings.Contains(msg, "too many steps")
}

func classifyError(err error) *ScriptError {
	if cancelled(err) {
		return &ScriptError{Type: ErrTimeout, Message: err.Error()}
	}
	if _, ok := err.(*starlark.EvalError); ok {
		return &ScriptError{Type: ErrRuntime, Message: err.Error()}
	}
	return &ScriptError{Type: ErrSyntax, Message: err.Error()}
}

// markPosition recomputes unrealized PnL at the given mark price.
func markPosition(view *PositionView, price float64) {
	if view.Quantity == 0 {
		view.UnrealizedPnL = 0
		return
	}
	sign := 1.0
	if view.Side == "SHORT" {
		sign = -1
	}
	view.UnrealizedPnL = (price - view.AvgPrice) * view.Quantity * sign
}

// applySignal evolves the script-visible position the same way the paper
// simulator would fill it: volume-weighted extension, reduction with flip on
// overshoot.
func applySignal(view *PositionView, sig Signal, markPrice float64) {
	price := sig.Price
	if price == 0 {
		price = markPrice
	}
	switch sig.Action {
	case ActionBuy:
		applyFill(view, "LONG", sig.Quantity, price)
	case ActionSell:
		applyFill(view, "SHORT", sig.Quantity, price)
	case ActionClose:
		qty := sig.Quantity
		if qty == 0 || qty > view.Quantity {
			qty = view.Quantity
		}
		if view.Side == "LONG" {
			applyFill(view, "SHORT", qty, price)
		} else if view.Side == "SHORT" {
			applyFill(view, "LONG", qty, price)
		}
	}
	markPosition(view, markPrice)
}

func applyFill(view *PositionView, side string, qty, price float64) {
	if qty <= 0 {
		return
	}
	if view.Quantity == 0 || view.Side == side {
		total := view.AvgPrice*view.Quantity + price*qty
		view.Quantity += qty
		view.Side = side
		if view.Quantity > 0 {
			view.AvgPrice = total / view.Quantity
		}
		return
	}
	// Opposite direction: reduce, flipping on overshoot.
	if qty < view.Quantity {
		view.Quantity -= qty
		return
	}
	over := qty - view.Quantity
	if over == 0 {
		*view = PositionView{}
		return
	}
	view.Side = side
	view.Quantity = over
	view.AvgPrice = price
}
