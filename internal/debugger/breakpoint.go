package debugger

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/rhost/internal/shared/id"
)

// Location identifies where a breakpoint applies: a function name, or a
// file and line
type Location struct {
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
}

func (l Location) String() string {
	if l.Function != "" {
		return l.Function
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Valid reports whether l names a function or a file line
func (l Location) Valid() bool {
	return l.Function != "" || (l.File != "" && l.Line > 0)
}

// Breakpoint is a breakpoint definition bound in the worker
type Breakpoint struct {
	ID       id.BreakpointID `json:"id"`
	Location Location        `json:"location"`
	// Verified is false when the worker could not bind the location
	Verified bool      `json:"verified"`
	Message  string    `json:"message,omitempty"`
	Created  time.Time `json:"created"`
}
