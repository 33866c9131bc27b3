package transport

import "encoding/json"

// StartParams is the handshake sent once the channel is up
type StartParams struct {
	Name             string            `json:"name,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
}

// StartResult reports a ready worker
type StartResult struct {
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

// EvaluateParams asks for one expression. With Describe set the result is a
// value description, otherwise an EvaluateResult.
type EvaluateParams struct {
	Expression string   `json:"expression"`
	Kind       uint32   `json:"kind,omitempty"`
	Frame      *int     `json:"frame,omitempty"`
	Describe   bool     `json:"describe,omitempty"`
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

// EvaluateResult is a raw evaluation outcome
type EvaluateResult struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ChildrenParams asks for the described members of an expression
type ChildrenParams struct {
	Expression string   `json:"expression"`
	Frame      *int     `json:"frame,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

// SetValueParams assigns the value of Value (source text) to Expression
type SetValueParams struct {
	Expression string   `json:"expression"`
	Frame      *int     `json:"frame,omitempty"`
	Value      string   `json:"value"`
	Properties []string `json:"properties,omitempty"`
}

// InteractParams is one block of REPL input
type InteractParams struct {
	Text string `json:"text"`
}

// InteractResult completes at the next prompt, which may be a browse prompt
type InteractResult struct {
	Output   string `json:"output"`
	Prompt   string `json:"prompt"`
	Browsing bool   `json:"browsing,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TraceParams turns tracing on or off
type TraceParams struct {
	Enabled bool `json:"enabled"`
}

// BreakpointParams names a breakpoint location
type BreakpointParams struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// BreakpointResult reports whether the worker could bind the location
type BreakpointResult struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

// Step modes
const (
	StepInto = "into"
	StepOver = "over"
	StepOut  = "out"
)

// StepParams resumes a stopped worker
type StepParams struct {
	Mode string `json:"mode"`
}

// Stop reasons
const (
	ReasonBreakpoint = "breakpoint"
	ReasonStep       = "step"
	ReasonBrowser    = "browser"
	ReasonBreak      = "break"
)

// StoppedParams reports a stop with frames ordered leaf to root
type StoppedParams struct {
	Reason     string      `json:"reason"`
	Breakpoint string      `json:"breakpoint,omitempty"`
	Frames     []FrameInfo `json:"frames"`
}

// FrameInfo describes one call stack frame
type FrameInfo struct {
	Index    int    `json:"index"`
	Function string `json:"function"`
	Call     string `json:"call,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// PromptParams announces the worker is waiting for input
type PromptParams struct {
	Prompt   string `json:"prompt"`
	Browsing bool   `json:"browsing,omitempty"`
}

// IntPtr returns a pointer to i
func IntPtr(i int) *int {
	return &i
}
