package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"strategy-core/internal/indicators"
	"strategy-core/internal/market"
)

// Bridge is the caller-facing handle to the sandbox worker. It correlates
// requests to responses by id and enforces round-trip timeouts. One bridge
// owns exactly one worker; Close tears it down.
type Bridge struct {
	w         *worker
	roundTrip time.Duration

	mu      sync.Mutex
	pending map[string]chan Response
	sends   sync.WaitGroup
	closed  bool
}

// NewBridge starts a sandbox worker and returns its bridge. The worker is
// initialized synchronously; a worker that cannot come up within the init
// timeout is a startup failure.
func NewBridge() (*Bridge, error) {
	b := &Bridge{
		w:         newWorker(8),
		roundTrip: DefaultRoundTrip,
		pending:   make(map[string]chan Response),
	}
	go b.demux()

	if _, err := b.request(context.Background(), MsgInit, nil, DefaultInitTimeout); err != nil {
		b.Close()
		return nil, fmt.Errorf("sandbox init: %w", err)
	}
	return b, nil
}

func (b *Bridge) demux() {
	for resp := range b.w.out {
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (b *Bridge) request(ctx context.Context, typ MessageType, payload any, timeout time.Duration) (Response, error) {
	id := uuid.NewString()
	ch := make(chan Response, 1)

	// The send guard is taken under the same lock as the closed check, so
	// Close can wait out any sender that saw the bridge still open before it
	// closes the worker's inbox.
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Response{}, fmt.Errorf("sandbox bridge is closed")
	}
	b.pending[id] = ch
	b.sends.Add(1)
	b.mu.Unlock()

	select {
	case b.w.in <- Request{ID: id, Type: typ, Payload: payload}:
		b.sends.Done()
	case <-ctx.Done():
		b.sends.Done()
		b.drop(id)
		return Response{}, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		b.drop(id)
		return Response{}, fmt.Errorf("sandbox round trip timed out after %s", timeout)
	case <-ctx.Done():
		b.drop(id)
		return Response{}, ctx.Err()
	}
}

func (b *Bridge) drop(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Validate statically checks a script against the security policy.
func (b *Bridge) Validate(ctx context.Context, code string, policy Policy) (ValidationResult, error) {
	resp, err := b.request(ctx, MsgValidate, ValidatePayload{Code: code, Policy: policy}, b.roundTrip)
	if err != nil {
		return ValidationResult{}, err
	}
	if resp.Type == MsgError {
		return ValidationResult{}, fmt.Errorf("validate: %v", resp.Payload)
	}
	return resp.Payload.(ValidationResult), nil
}

// Execute replays the bar series through the script once and collects every
// emitted signal. Scripts failing validation are rejected without executing.
func (b *Bridge) Execute(ctx context.Context, code string, bars []market.Bar, params map[string]any, policy Policy, timeout time.Duration) ExecResult {
	validation, err := b.Validate(ctx, code, policy)
	if err != nil {
		return ExecResult{Err: &ScriptError{Type: ErrRuntime, Message: err.Error()}}
	}
	if !validation.Valid {
		first := validation.Errors[0]
		return ExecResult{Err: &first}
	}

	if timeout <= 0 {
		timeout = policy.withDefaults().ExecTimeout
	}
	// The round trip allows for the execution budget plus protocol overhead.
	rt := timeout + b.roundTrip
	resp, err := b.request(ctx, MsgExecute, ExecPayload{
		Code:    code,
		Bars:    bars,
		Params:  params,
		Policy:  policy,
		Timeout: timeout,
	}, rt)
	if err != nil {
		return ExecResult{Err: &ScriptError{Type: ErrTimeout, Message: err.Error()}}
	}
	if resp.Type == MsgError {
		return ExecResult{Err: &ScriptError{Type: ErrRuntime, Message: fmt.Sprintf("%v", resp.Payload)}}
	}
	return resp.Payload.(ExecResult)
}

// ExecuteBar runs the script for a single bar with the caller's current
// position seeded into the script-visible view. The code is assumed to have
// been validated once at session start.
func (b *Bridge) ExecuteBar(ctx context.Context, code string, bar market.Bar, pos PositionView, params map[string]any, policy Policy, timeout time.Duration) ExecResult {
	if timeout <= 0 {
		timeout = policy.withDefaults().ExecTimeout
	}
	rt := timeout + b.roundTrip
	resp, err := b.request(ctx, MsgExecute, ExecPayload{
		Code:     code,
		Bars:     []market.Bar{bar},
		Params:   params,
		Policy:   policy,
		Timeout:  timeout,
		Position: &pos,
	}, rt)
	if err != nil {
		return ExecResult{Err: &ScriptError{Type: ErrTimeout, Message: err.Error()}}
	}
	if resp.Type == MsgError {
		return ExecResult{Err: &ScriptError{Type: ErrRuntime, Message: fmt.Sprintf("%v", resp.Payload)}}
	}
	return resp.Payload.(ExecResult)
}

// CalculateIndicator evaluates one indicator over a series.
func (b *Bridge) CalculateIndicator(ctx context.Context, name string, input indicators.Input, params map[string]float64) (map[string][]float64, error) {
	resp, err := b.request(ctx, MsgIndicator, IndicatorPayload{Name: name, Input: input, Params: params}, b.roundTrip)
	if err != nil {
		return nil, err
	}
	if resp.Type == MsgError {
		return nil, fmt.Errorf("calculate_indicator: %v", resp.Payload)
	}
	return resp.Payload.(map[string][]float64), nil
}

// Close terminates the worker. Safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	// Drain in-flight senders before the inbox closes; the worker keeps
	// consuming until then, so they cannot block forever.
	b.sends.Wait()
	select {
	case b.w.in <- Request{ID: uuid.NewString(), Type: MsgTerminate}:
	default:
	}
	close(b.w.in)
	<-b.w.done
}
