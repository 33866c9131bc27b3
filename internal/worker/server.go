package worker

import (
	"net/http"
	"sync"

	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the worker listens on loopback only
	},
}

// connection is one host attached to the interpreter
type connection struct {
	ch   transport.Channel
	done chan struct{}
}

func (c *connection) send(msg transport.Message) {
	data, err := transport.Encode(msg)
	if err != nil {
		return
	}
	_ = c.ch.WriteMessage(data)
}

// request is one inbound request with its reply path
type request struct {
	msg  transport.Message
	conn *connection
}

func (r *request) reply(result any) {
	msg, err := transport.Response(r.msg.ID, result)
	if err != nil {
		r.conn.send(transport.ErrorResponse(r.msg.ID, transport.CodeInternal, err.Error()))
		return
	}
	r.conn.send(msg)
}

func (r *request) fail(code, message string) {
	r.conn.send(transport.ErrorResponse(r.msg.ID, code, message))
}

// decode unmarshals params into v, answering bad_request on failure
func (r *request) decode(v any) bool {
	if len(r.msg.Params) == 0 {
		return true
	}
	if err := transport.Unmarshal(r.msg.Params, v); err != nil {
		r.fail(transport.CodeBadRequest, err.Error())
		return false
	}
	return true
}

// Server exposes an interpreter to one host at a time
type Server struct {
	interp   *Interpreter
	logger   *zap.Logger
	shutdown chan struct{}
	once     sync.Once

	mu     sync.Mutex
	active bool
}

// NewServer creates an interpreter and a server for it
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		logger:   logging.OrNop(opts.Logger),
		shutdown: make(chan struct{}),
	}
	onShutdown := opts.OnShutdown
	opts.OnShutdown = func() {
		s.once.Do(func() { close(s.shutdown) })
		if onShutdown != nil {
			onShutdown()
		}
	}

	interp, err := NewInterpreter(opts)
	if err != nil {
		return nil, err
	}
	s.interp = interp
	return s, nil
}

// ShutdownRequested is closed when the host asks the worker to exit
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

// Close stops the interpreter
func (s *Server) Close() {
	s.interp.Close()
}

// Handler serves /ready and the /worker websocket endpoint
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "version": Version})
	})
	router.GET("/worker", s.handleWorker)
	return router
}

func (s *Server) handleWorker(c *gin.Context) {
	s.mu.Lock()
	busy := s.active
	s.active = true
	s.mu.Unlock()
	if busy {
		c.JSON(http.StatusConflict, gin.H{"error": "a host is already attached"})
		return
	}
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.ServeChannel(transport.NewWebsocketChannel(ws))
}

// ServeChannel reads requests from ch until it closes or the host asks for
// shutdown
func (s *Server) ServeChannel(ch transport.Channel) {
	conn := &connection{ch: ch, done: make(chan struct{})}
	s.interp.attach(conn)
	defer func() {
		s.interp.detach(conn)
		close(conn.done)
		_ = ch.Close()
	}()

	s.logger.Info("host attached")
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			s.logger.Info("host detached", zap.Error(err))
			return
		}
		msg, err := transport.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		if msg.Kind != transport.KindRequest {
			continue
		}

		s.interp.dispatch(&request{msg: msg, conn: conn})
		if msg.Name == transport.RequestShutdown {
			return
		}
	}
}
