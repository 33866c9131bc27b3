package http

import (
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/rhost/internal/debugger"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// debugState is the JSON form of a tracer's state
type debugState struct {
	State       string                 `json:"state"`
	Mode        string                 `json:"mode,omitempty"`
	Frames      []*debugger.Frame      `json:"frames"`
	Breakpoints []*debugger.Breakpoint `json:"breakpoints"`
}

func stateOf(t *debugger.Tracer) debugState {
	return debugState{
		State:       t.State().String(),
		Mode:        string(t.Mode()),
		Frames:      t.Frames(),
		Breakpoints: t.Breakpoints(),
	}
}

// tracer resolves :id to its attached tracer
func (h *Handlers) tracer(c *gin.Context) (*debugger.Tracer, bool) {
	id, ok := sessionID(c)
	if !ok {
		return nil, false
	}
	t, ok := h.debuggers.Get(id)
	if !ok {
		respondError(c, debugger.ErrDetached)
		return nil, false
	}
	return t, true
}

// frame returns frame index of the session's current stop
func (h *Handlers) frame(id uuid.UUID, index int) (*debugger.Frame, error) {
	t, ok := h.debuggers.Get(id)
	if !ok {
		return nil, debugger.ErrDetached
	}
	frames := t.Frames()
	if len(frames) == 0 {
		return nil, debugger.ErrNotStopped
	}
	if index < 0 || index >= len(frames) {
		return nil, errNoFrame
	}
	return frames[index], nil
}

// Attach turns on tracing for :id
func (h *Handlers) Attach(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	t, err := h.debuggers.Attach(c.Request.Context(), s)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateOf(t))
}

// Detach turns off tracing for :id
func (h *Handlers) Detach(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.debuggers.Detach(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": debugger.Detached.String()})
}

type stepRequest struct {
	Mode string `json:"mode" binding:"required,oneof=into over out"`
}

// resumeReply pairs the worker's interaction with the tracer state after it
type resumeReply struct {
	*session.Interaction
	debugState
}

// Step resumes a stopped session in the requested mode
func (h *Handlers) Step(c *gin.Context) {
	t, ok := h.tracer(c)
	if !ok {
		return
	}
	var req stepRequest
	if !bind(c, &req) {
		return
	}

	var (
		res *session.Interaction
		err error
	)
	switch debugger.Mode(req.Mode) {
	case debugger.ModeInto:
		res, err = t.StepInto(c.Request.Context())
	case debugger.ModeOver:
		res, err = t.StepOver(c.Request.Context())
	case debugger.ModeOut:
		res, err = t.StepOut(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resumeReply{Interaction: res, debugState: stateOf(t)})
}

// Continue resumes a stopped session until the next stop
func (h *Handlers) Continue(c *gin.Context) {
	t, ok := h.tracer(c)
	if !ok {
		return
	}
	res, err := t.Continue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resumeReply{Interaction: res, debugState: stateOf(t)})
}

// Break asks running code to stop
func (h *Handlers) Break(c *gin.Context) {
	t, ok := h.tracer(c)
	if !ok {
		return
	}
	if err := t.Break(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": t.State().String()})
}

// Frames returns the stack of the current stop
func (h *Handlers) Frames(c *gin.Context) {
	t, ok := h.tracer(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stateOf(t))
}

// ListBreakpoints returns the bound breakpoints
func (h *Handlers) ListBreakpoints(c *gin.Context) {
	t, ok := h.tracer(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakpoints": t.Breakpoints()})
}

// SetBreakpoint binds a breakpoint; setting an existing location is a no-op
func (h *Handlers) SetBreakpoint(c *gin.Context) {
	t, ok := h.tracer(c)
	if !ok {
		return
	}
	var loc debugger.Location
	if !bind(c, &loc) {
		return
	}
	if !loc.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "breakpoint needs a function or a file and line"})
		return
	}
	bp, err := t.SetBreakpoint(c.Request.Context(), loc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bp)
}

// ClearBreakpoint removes the breakpoint named by the function, or the file
// and line, query parameters
func (h *Handlers) ClearBreakpoint(c *gin.Context) {
	t, ok := h.tracer(c)
	if !ok {
		return
	}
	loc := debugger.Location{Function: c.Query("function"), File: c.Query("file")}
	if line := c.Query("line"); line != "" {
		n, err := strconv.Atoi(line)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line: " + err.Error()})
			return
		}
		loc.Line = n
	}
	if !loc.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "breakpoint needs a function or a file and line"})
		return
	}
	if err := t.ClearBreakpoint(c.Request.Context(), loc); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
