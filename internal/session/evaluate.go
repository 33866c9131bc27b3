package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/transport"
)

// Execute runs code for its side effects, holding an evaluation token for
// the duration
func (s *Session) Execute(ctx context.Context, code string) error {
	tok, err := s.BeginEvaluation(ctx)
	if err != nil {
		return err
	}
	defer tok.Release()
	return tok.Execute(ctx, code)
}

// Evaluate returns the JSON value of expr
func (s *Session) Evaluate(ctx context.Context, expr string, kind EvaluationKind) (json.RawMessage, error) {
	tok, err := s.BeginEvaluation(ctx)
	if err != nil {
		return nil, err
	}
	defer tok.Release()
	return tok.Evaluate(ctx, expr, kind)
}

// Describe evaluates expr into a described result
func (s *Session) Describe(ctx context.Context, expr string, opts DescribeOptions) (inspect.Result, error) {
	tok, err := s.BeginEvaluation(ctx)
	if err != nil {
		return nil, err
	}
	defer tok.Release()
	return tok.Describe(ctx, expr, opts)
}

// Interact sends one block of console input, holding an interaction token
// for the duration
func (s *Session) Interact(ctx context.Context, text string) (*Interaction, error) {
	tok, err := s.BeginInteraction(ctx)
	if err != nil {
		return nil, err
	}
	defer tok.Release()
	return tok.Respond(ctx, text)
}

// EvaluateAs evaluates expr and decodes its value into T
func EvaluateAs[T any](ctx context.Context, s *Session, expr string, kind EvaluationKind) (T, error) {
	var out T
	raw, err := s.Evaluate(ctx, expr, kind)
	if err != nil {
		return out, err
	}
	if err := transport.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode value of %q: %w", expr, err)
	}
	return out, nil
}
