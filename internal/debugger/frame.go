package debugger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/transport"
)

// Frame is one stack frame of a stop. Index 0 is the innermost call.
type Frame struct {
	Index        int    `json:"index"`
	FunctionName string `json:"function"`
	Call         string `json:"call,omitempty"`
	Source       string `json:"source,omitempty"`

	tracer     *Tracer
	generation uint64
}

func newFrame(t *Tracer, generation uint64, info transport.FrameInfo) *Frame {
	f := &Frame{
		Index:        info.Index,
		FunctionName: info.Function,
		Call:         info.Call,
		tracer:       t,
		generation:   generation,
	}
	if info.File != "" {
		f.Source = fmt.Sprintf("%s:%d", info.File, info.Line)
	}
	return f
}

// Valid reports whether the stop that produced f is still current
func (f *Frame) Valid() bool {
	return f.tracer.valid(f.generation)
}

// Describe evaluates expr in the frame's scope. Children fetched from the
// result are evaluated in the same frame and fail once it is invalidated.
func (f *Frame) Describe(ctx context.Context, expr string, props inspect.Properties) (inspect.Result, error) {
	if !f.Valid() {
		return nil, ErrFrameInvalidated
	}
	tok, err := f.tracer.host.BeginEvaluation(ctx)
	if err != nil {
		return nil, err
	}
	defer tok.Release()

	if !f.Valid() {
		return nil, ErrFrameInvalidated
	}
	index := f.Index
	return tok.Describe(ctx, expr, session.DescribeOptions{
		Properties: props,
		Frame:      &index,
		Requester:  frameRequester{frame: f},
	})
}

// Variables describes the variables visible in the frame
func (f *Frame) Variables(ctx context.Context) ([]inspect.Result, error) {
	env, err := f.Describe(ctx, "environment()", inspect.AllProperties)
	if err != nil {
		return nil, err
	}
	v, ok := env.(*inspect.Value)
	if !ok {
		return nil, fmt.Errorf("frame %d has no environment", f.Index)
	}
	return v.Children(ctx)
}

// frameRequester refuses follow-up requests once the frame is invalid
type frameRequester struct {
	frame *Frame
}

func (r frameRequester) Request(ctx context.Context, name string, params any) (json.RawMessage, error) {
	if !r.frame.Valid() {
		return nil, ErrFrameInvalidated
	}
	return r.frame.tracer.host.Request(ctx, name, params)
}
