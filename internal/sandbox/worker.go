package sandbox

import (
	"log"
	"time"

	"go.starlark.net/starlark"

	"strategy-core/internal/indicators"
	"strategy-core/internal/market"
)

// Request/response message types for the worker protocol.
type MessageType string

const (
	MsgInit      MessageType = "init"
	MsgExecute   MessageType = "execute"
	MsgValidate  MessageType = "validate"
	MsgIndicator MessageType = "calculate_indicator"
	MsgTerminate MessageType = "terminate"

	MsgSuccess  MessageType = "success"
	MsgError    MessageType = "error"
	MsgProgress MessageType = "progress"
)

// Request is one message sent into the worker. Payload depends on Type.
type Request struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// Response is the worker's reply, correlated to its Request by ID.
type Response struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// ExecPayload is the payload of an execute request. Position seeds the
// script-visible view; nil starts flat.
type ExecPayload struct {
	Code     string
	Bars     []market.Bar
	Params   map[string]any
	Policy   Policy
	Timeout  time.Duration
	Position *PositionView
}

// ValidatePayload is the payload of a validate request.
type ValidatePayload struct {
	Code   string
	Policy Policy
}

// IndicatorPayload is the payload of a calculate_indicator request.
type IndicatorPayload struct {
	Name   string
	Input  indicators.Input
	Params map[string]float64
}

// worker runs the interpreter loop. Requests are handled strictly one at a
// time; the bridge's single-caller discipline means there is never more than
// one outstanding execute anyway.
type worker struct {
	in   chan Request
	out  chan Response
	done chan struct{}
}

func newWorker(queueSize int) *worker {
	w := &worker{
		in:   make(chan Request, queueSize),
		out:  make(chan Response, queueSize),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	defer close(w.out)
	for req := range w.in {
		switch req.Type {
		case MsgTerminate:
			w.out <- Response{ID: req.ID, Type: MsgSuccess}
			return
		case MsgInit:
			// Nothing to warm up; the interpreter is created per execute.
			w.out <- Response{ID: req.ID, Type: MsgSuccess}
		case MsgValidate:
			p, ok := req.Payload.(ValidatePayload)
			if !ok {
				w.out <- errResponse(req.ID, "validate: bad payload")
				continue
			}
			w.out <- Response{ID: req.ID, Type: MsgSuccess, Payload: Validate(p.Code, p.Policy)}
		case MsgIndicator:
			p, ok := req.Payload.(IndicatorPayload)
			if !ok {
				w.out <- errResponse(req.ID, "calculate_indicator: bad payload")
				continue
			}
			values, err := indicators.Calculate(p.Name, p.Input, p.Params)
			if err != nil {
				w.out <- errResponse(req.ID, err.Error())
				continue
			}
			w.out <- Response{ID: req.ID, Type: MsgSuccess, Payload: values}
		case MsgExecute:
			p, ok := req.Payload.(ExecPayload)
			if !ok {
				w.out <- errResponse(req.ID, "execute: bad payload")
				continue
			}
			w.out <- Response{ID: req.ID, Type: MsgSuccess, Payload: w.execute(p)}
		default:
			w.out <- errResponse(req.ID, "unknown request type "+string(req.Type))
		}
	}
}

// execute runs a script over a bar series under the policy's ceilings. A
// wall-clock timer cancels the interpreter thread when the timeout fires.
func (w *worker) execute(p ExecPayload) ExecResult {
	policy := p.Policy.withDefaults()
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = policy.ExecTimeout
	}

	thread := &starlark.Thread{Name: "strategy"}
	thread.SetMaxExecutionSteps(policy.MaxSteps)

	timer := time.AfterFunc(timeout, func() {
		log.Printf("sandbox: execution timeout after %s, cancelling", timeout)
		thread.Cancel("execution timeout")
	})
	defer timer.Stop()

	return execScript(thread, p.Code, p.Bars, p.Params, policy, p.Position)
}

func errResponse(id, msg string) Response {
	return Response{ID: id, Type: MsgError, Payload: msg}
}
