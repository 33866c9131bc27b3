package transport

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Kind distinguishes the three envelope shapes
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
)

// Request names
const (
	RequestStart           = "start"
	RequestEvaluate        = "evaluate"
	RequestInteract        = "interact"
	RequestChildren        = "children"
	RequestSetValue        = "set_value"
	RequestTrace           = "trace"
	RequestSetBreakpoint   = "set_breakpoint"
	RequestClearBreakpoint = "clear_breakpoint"
	RequestStep            = "step"
	RequestContinue        = "continue"
	RequestBreak           = "break"
	RequestCancel          = "cancel"
	RequestShutdown        = "shutdown"
)

// Notification names
const (
	NotifyStopped      = "stopped"
	NotifyOutput       = "output"
	NotifyPrompt       = "prompt"
	NotifyDisconnected = "disconnected"
)

// Worker error codes
const (
	CodeCancelled      = "cancelled"
	CodeBadRequest     = "bad_request"
	CodeNotStopped     = "not_stopped"
	CodeUnknownRequest = "unknown_request"
	CodeInternal       = "internal"
)

// Message is the wire envelope
type Message struct {
	ID     uint64          `json:"id,omitempty"`
	Kind   Kind            `json:"kind"`
	Name   string          `json:"name,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload reports a request the worker could not serve.
// Interpreter errors are not reported this way; they are result values.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CancelParams names the request to cancel
type CancelParams struct {
	ID uint64 `json:"id"`
}

// DisconnectedParams is sent by a worker that is about to go away
type DisconnectedParams struct {
	Reason string `json:"reason"`
}

// OutputParams carries console text
type OutputParams struct {
	Text   string `json:"text"`
	Stderr bool   `json:"stderr,omitempty"`
}

// Encode serializes a message
func Encode(msg Message) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s %q: %w", msg.Kind, msg.Name, err)
	}
	return data, nil
}

// Decode parses one frame
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	switch msg.Kind {
	case KindRequest, KindResponse, KindNotification:
	default:
		return Message{}, fmt.Errorf("decode frame: unknown kind %q", msg.Kind)
	}
	return msg, nil
}

// Marshal encodes a params or result payload
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return sonic.Marshal(v)
}

// Unmarshal decodes a params or result payload
func Unmarshal(raw json.RawMessage, v any) error {
	return sonic.Unmarshal(raw, v)
}

// Request builds a request envelope
func Request(id uint64, name string, params any) (Message, error) {
	raw, err := Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, Kind: KindRequest, Name: name, Params: raw}, nil
}

// Response builds a successful response envelope
func Response(id uint64, result any) (Message, error) {
	raw, err := Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, Kind: KindResponse, Result: raw}, nil
}

// ErrorResponse builds a failed response envelope
func ErrorResponse(id uint64, code, message string) Message {
	return Message{ID: id, Kind: KindResponse, Error: &ErrorPayload{Code: code, Message: message}}
}

// Notification builds a notification envelope
func Notification(name string, params any) (Message, error) {
	raw, err := Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindNotification, Name: name, Params: raw}, nil
}
