package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/rhost/internal/debugger/property"
	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartSession starts the worker for :id, creating the session if needed
func (h *Handlers) StartSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.provider.Start(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("session start failed", zap.String("session", id.String()), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.info(s))
}

// StopSession detaches the debugger and stops the worker
func (h *Handlers) StopSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.debuggers.Detach(c.Request.Context(), id); err != nil {
		h.logger.Debug("detach on stop", zap.String("session", id.String()), zap.Error(err))
	}
	if err := h.provider.Stop(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id.String()})
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

// Execute runs code for its side effects
func (h *Handlers) Execute(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req codeRequest
	if !bind(c, &req) {
		return
	}
	if err := s.Execute(c.Request.Context(), req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type interactRequest struct {
	Text string `json:"text"`
}

// Interact sends console input and returns the output up to the next prompt
func (h *Handlers) Interact(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req interactRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.Interact(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type evaluateRequest struct {
	Expression string   `json:"expression" binding:"required"`
	Frame      *int     `json:"frame"`
	Properties []string `json:"properties"`
	// Raw returns the JSON value instead of a display record
	Raw bool `json:"raw"`
}

// Evaluate describes an expression, in a stack frame when one is given
func (h *Handlers) Evaluate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req evaluateRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if req.Raw && req.Frame == nil {
		value, err := s.Evaluate(ctx, req.Expression, session.Normal)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"value": value})
		return
	}

	r, err := h.describe(ctx, s, req.Expression, req.Frame, inspect.ParseFields(req.Properties))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, property.New(r, false).Info(property.AllFields))
}

// Children lists the members of an expression's value
func (h *Handlers) Children(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req evaluateRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	r, err := h.describe(ctx, s, req.Expression, req.Frame, inspect.ParseFields(req.Properties))
	if err != nil {
		respondError(c, err)
		return
	}
	kids, err := property.New(r, false).Children(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	records := make([]property.Record, len(kids))
	for k, kid := range kids {
		records[k] = kid.Info(property.AllFields)
	}
	c.JSON(http.StatusOK, gin.H{"children": records})
}

type setRequest struct {
	Expression string `json:"expression" binding:"required"`
	Value      string `json:"value" binding:"required"`
	Frame      *int   `json:"frame"`
}

// SetValue assigns new source text to the binding an expression names
func (h *Handlers) SetValue(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req setRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	r, err := h.describe(ctx, s, req.Expression, req.Frame, inspect.AllProperties)
	if err != nil {
		respondError(c, err)
		return
	}
	item := property.New(r, false)
	if err := item.SetValue(ctx, req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item.Info(property.AllFields))
}

// DeleteVariables removes every user binding from the global scope
func (h *Handlers) DeleteVariables(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Execute(c.Request.Context(), "rm(ls())"); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type workspaceRequest struct {
	Path string `json:"path" binding:"required"`
}

// LoadWorkspace restores bindings from a workspace image
func (h *Handlers) LoadWorkspace(c *gin.Context) {
	h.workspace(c, "loadWorkspace")
}

// SaveWorkspace writes the global bindings to a workspace image
func (h *Handlers) SaveWorkspace(c *gin.Context) {
	h.workspace(c, "saveWorkspace")
}

func (h *Handlers) workspace(c *gin.Context, fn string) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req workspaceRequest
	if !bind(c, &req) {
		return
	}
	code := fn + "(" + strconv.Quote(req.Path) + ")"
	if err := s.Execute(c.Request.Context(), code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": req.Path})
}

// describe evaluates expr globally, or in a frame of the current stop
func (h *Handlers) describe(ctx context.Context, s *session.Session, expr string, frame *int, props inspect.Properties) (inspect.Result, error) {
	if frame == nil {
		return s.Describe(ctx, expr, session.DescribeOptions{Properties: props})
	}
	f, err := h.frame(s.ID(), *frame)
	if err != nil {
		return nil, err
	}
	return f.Describe(ctx, expr, props)
}
