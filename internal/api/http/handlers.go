package http

import (
	"net/http"

	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/pool"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Version is reported by the health route
const Version = "0.1.0"

// Deps are the components the handlers drive
type Deps struct {
	Provider *session.Provider
	// Pool serves background queries; nil disables the packages route
	Pool *pool.Pool
	// Debuggers defaults to a registry with an in-memory breakpoint store
	Debuggers *Debuggers
	Logger    *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	provider  *session.Provider
	pool      *pool.Pool
	debuggers *Debuggers
	logger    *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	logger := logging.OrNop(deps.Logger)
	debuggers := deps.Debuggers
	if debuggers == nil {
		debuggers = NewDebuggers(nil, logger, nil)
	}
	return &Handlers{
		provider:  deps.Provider,
		pool:      deps.Pool,
		debuggers: debuggers,
		logger:    logger,
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/packages", h.Packages)

	s := r.Group("/sessions")
	s.GET("", h.ListSessions)
	s.POST("/:id/start", h.StartSession)
	s.POST("/:id/stop", h.StopSession)
	s.POST("/:id/execute", h.Execute)
	s.POST("/:id/interact", h.Interact)
	s.POST("/:id/evaluate", h.Evaluate)
	s.POST("/:id/children", h.Children)
	s.POST("/:id/set", h.SetValue)
	s.DELETE("/:id/variables", h.DeleteVariables)
	s.POST("/:id/workspace/load", h.LoadWorkspace)
	s.POST("/:id/workspace/save", h.SaveWorkspace)
	s.GET("/:id/events", h.Events)

	d := s.Group("/:id/debug")
	d.POST("/attach", h.Attach)
	d.POST("/detach", h.Detach)
	d.POST("/step", h.Step)
	d.POST("/continue", h.Continue)
	d.POST("/break", h.Break)
	d.GET("/frames", h.Frames)
	d.GET("/breakpoints", h.ListBreakpoints)
	d.POST("/breakpoints", h.SetBreakpoint)
	d.DELETE("/breakpoints", h.ClearBreakpoint)
}

// sessionInfo is the JSON form of a session
type sessionInfo struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Version   string `json:"version,omitempty"`
	ProcessID int    `json:"pid,omitempty"`
	Debugging bool   `json:"debugging"`
}

func (h *Handlers) info(s *session.Session) sessionInfo {
	_, debugging := h.debuggers.Get(s.ID())
	return sessionInfo{
		ID:        s.ID().String(),
		State:     s.State().String(),
		Version:   s.Version(),
		ProcessID: s.ProcessID(),
		Debugging: debugging,
	}
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"version":  Version,
		"sessions": len(h.provider.Sessions()),
	}
	if h.pool != nil {
		body["pool"] = h.pool.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// ListSessions lists known sessions in creation order
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.provider.Sessions()
	out := make([]sessionInfo, len(sessions))
	for k, s := range sessions {
		out[k] = h.info(s)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Packages lists installed packages matching the pattern query parameter
func (h *Handlers) Packages(c *gin.Context) {
	if h.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no session pool configured"})
		return
	}
	pkgs, err := h.pool.InstalledPackages(c.Request.Context(), c.DefaultQuery("pattern", "*"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": pkgs})
}

// sessionID parses the :id parameter
func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id: " + err.Error()})
		return uuid.Nil, false
	}
	return id, true
}

// session resolves :id to a known session
func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	id, ok := sessionID(c)
	if !ok {
		return nil, false
	}
	s, ok := h.provider.Get(id)
	if !ok {
		respondError(c, errUnknownSession)
		return nil, false
	}
	return s, true
}

// bind decodes the JSON body into v
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
