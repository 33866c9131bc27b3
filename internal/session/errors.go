package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/rhost/internal/transport"
)

var (
	// ErrDisconnected is matched by every failure caused by losing the worker
	ErrDisconnected = errors.New("session disconnected")
	// ErrCancelled is matched by caller cancellation. It also matches context.Canceled.
	ErrCancelled = errors.New("operation cancelled")
	// ErrTimeout is matched by startup and evaluation timeouts
	ErrTimeout = errors.New("operation timed out")
	// ErrTerminated is returned when starting a session that has already disconnected
	ErrTerminated = errors.New("session terminated; create a new session to reconnect")
	// ErrNotRunning is returned by operations that need a connected worker
	ErrNotRunning = errors.New("session not running")
	// ErrStarting is returned when Start races with another Start
	ErrStarting = errors.New("session is starting")
	// ErrTokenReleased is returned when a released token is used
	ErrTokenReleased = errors.New("token already released")
)

// StartupError reports a worker that did not become ready
type StartupError struct {
	Err error
	// Console holds the tail of the worker's console output, if any
	Console string
}

func (e *StartupError) Error() string {
	if e.Console != "" {
		return fmt.Sprintf("worker startup failed: %v (console: %q)", e.Err, e.Console)
	}
	return fmt.Sprintf("worker startup failed: %v", e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// InterpreterError is an expression that raised an error, surfaced by the
// raw evaluation APIs. The session remains usable.
type InterpreterError struct {
	Expression string
	Message    string
}

func (e *InterpreterError) Error() string {
	return fmt.Sprintf("error evaluating %q: %s", e.Expression, e.Message)
}

// classify maps a round trip failure onto the session taxonomy
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var perr *transport.ProtocolError
	switch {
	case errors.Is(context.Cause(ctx), ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, transport.ErrTransport):
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	case errors.As(err, &perr) && perr.Code == transport.CodeCancelled:
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
