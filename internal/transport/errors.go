package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is matched by every failure caused by the connection
	ErrTransport = errors.New("transport failure")
	// ErrClosed is the cause when the local side closed the connection
	ErrClosed = errors.New("connection closed")
	// ErrPeerClosed is the cause when the worker closed the channel
	ErrPeerClosed = errors.New("peer closed connection")
)

// ProtocolError is a response carrying an error payload
type ProtocolError struct {
	Request string
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: worker error %s: %s", e.Request, e.Code, e.Message)
}

func transportError(cause error) error {
	if errors.Is(cause, ErrTransport) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTransport, cause)
}
