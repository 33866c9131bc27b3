package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/transport"
)

type token struct {
	s        *Session
	once     sync.Once
	released atomic.Bool
}

// Release gives up exclusive access. It is safe to call more than once and
// from a defer on every exit path.
func (t *token) Release() {
	t.once.Do(func() {
		t.released.Store(true)
		t.s.gate.release()
	})
}

// Released reports whether Release has been called
func (t *token) Released() bool {
	return t.released.Load()
}

func (t *token) call(ctx context.Context, name string, params any) (json.RawMessage, error) {
	if t.released.Load() {
		return nil, ErrTokenReleased
	}
	return t.s.call(ctx, name, params)
}

// EvaluationToken grants exclusive access for programmatic evaluation
type EvaluationToken struct {
	token
}

// DescribeOptions controls a described evaluation
type DescribeOptions struct {
	Properties inspect.Properties
	Kind       EvaluationKind
	// Frame targets a stack frame while the worker is stopped; nil is global
	Frame *int
	// Name is the display name of the result; defaults to the expression
	Name string
	// Requester serves follow-up requests of the result; defaults to the session
	Requester inspect.Requester
}

// Evaluate returns the JSON value of expr. An expression that raises an
// error returns *InterpreterError.
func (t *EvaluationToken) Evaluate(ctx context.Context, expr string, kind EvaluationKind) (json.RawMessage, error) {
	raw, err := t.call(ctx, transport.RequestEvaluate, transport.EvaluateParams{
		Expression: expr,
		Kind:       uint32(kind),
	})
	if err != nil {
		return nil, err
	}

	var res transport.EvaluateResult
	if err := transport.Unmarshal(raw, &res); err != nil {
		return nil, &transport.ProtocolError{Request: transport.RequestEvaluate, Code: transport.CodeBadRequest, Message: err.Error()}
	}
	if res.Error != "" {
		return nil, &InterpreterError{Expression: expr, Message: res.Error}
	}
	return res.Value, nil
}

// Execute evaluates code for its side effects
func (t *EvaluationToken) Execute(ctx context.Context, code string) error {
	_, err := t.Evaluate(ctx, code, Mutating)
	return err
}

// Describe evaluates expr and decodes the description. Interpreter errors
// are returned as *inspect.Error results.
func (t *EvaluationToken) Describe(ctx context.Context, expr string, opts DescribeOptions) (inspect.Result, error) {
	props := opts.Properties
	if props == 0 {
		props = inspect.AllProperties
	}
	requester := opts.Requester
	if requester == nil {
		requester = t.s
	}

	raw, err := t.call(ctx, transport.RequestEvaluate, transport.EvaluateParams{
		Expression: expr,
		Kind:       uint32(opts.Kind),
		Frame:      opts.Frame,
		Describe:   true,
		Name:       opts.Name,
		Properties: props.Fields(),
	})
	if err != nil {
		return nil, err
	}

	return inspect.Decode(raw, inspect.Context{
		Requester:  requester,
		Frame:      opts.Frame,
		Properties: props,
		Expression: expr,
		Name:       opts.Name,
	}), nil
}

// InteractionToken grants exclusive access for REPL input
type InteractionToken struct {
	token
}

// Interaction is the outcome of one block of REPL input
type Interaction struct {
	Output   string `json:"output"`
	Prompt   string `json:"prompt"`
	Browsing bool   `json:"browsing"`
	// Error is the interpreter error raised by the input, if any
	Error string `json:"error,omitempty"`
}

// Respond sends text as console input and waits for the next prompt,
// which is a browse prompt if the input stopped in the debugger
func (t *InteractionToken) Respond(ctx context.Context, text string) (*Interaction, error) {
	return t.interact(ctx, transport.RequestInteract, transport.InteractParams{Text: text})
}

// Step resumes a stopped worker in mode and waits for the next prompt
func (t *InteractionToken) Step(ctx context.Context, mode string) (*Interaction, error) {
	return t.interact(ctx, transport.RequestStep, transport.StepParams{Mode: mode})
}

// Continue resumes a stopped worker and waits for the next prompt
func (t *InteractionToken) Continue(ctx context.Context) (*Interaction, error) {
	return t.interact(ctx, transport.RequestContinue, nil)
}

func (t *InteractionToken) interact(ctx context.Context, name string, params any) (*Interaction, error) {
	raw, err := t.call(ctx, name, params)
	if err != nil {
		return nil, err
	}

	var res transport.InteractResult
	if err := transport.Unmarshal(raw, &res); err != nil {
		return nil, &transport.ProtocolError{Request: name, Code: transport.CodeBadRequest, Message: err.Error()}
	}
	return &Interaction{
		Output:   res.Output,
		Prompt:   res.Prompt,
		Browsing: res.Browsing,
		Error:    res.Error,
	}, nil
}
