package http

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/rhost/internal/debugger"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 256
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs browser access
	},
}

// Event is one message on a session's event stream
type Event struct {
	Type string `json:"type"`

	// output
	Text   string `json:"text,omitempty"`
	Stderr bool   `json:"stderr,omitempty"`

	// browse
	Reason     string            `json:"reason,omitempty"`
	Breakpoint string            `json:"breakpoint,omitempty"`
	Frames     []*debugger.Frame `json:"frames,omitempty"`

	// disconnected
	Error string `json:"error,omitempty"`
}

// Event types
const (
	EventOutput       = "output"
	EventBrowse       = "browse"
	EventDisconnected = "disconnected"
)

// Events streams output, browse and disconnect events of :id over a
// websocket. Events are dropped when the client falls behind.
func (h *Handlers) Events(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("event stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("session", s.ID().String()))
	events := make(chan Event, eventBuffer)
	push := func(ev Event) {
		select {
		case events <- ev:
		default:
			logger.Debug("event dropped", zap.String("type", ev.Type))
		}
	}

	unsubs := []func(){
		s.OnOutput(func(text string, stderr bool) {
			push(Event{Type: EventOutput, Text: text, Stderr: stderr})
		}),
		h.debuggers.Subscribe(s.ID(), func(ev debugger.BrowseEvent) {
			push(Event{Type: EventBrowse, Reason: ev.Reason, Breakpoint: ev.Breakpoint, Frames: ev.Frames})
		}),
	}
	gone := make(chan error, 1)
	unsubs = append(unsubs, s.OnDisconnected(func(reason error) {
		signalGone(gone, reason)
	}))
	if s.Terminated() {
		signalGone(gone, nil)
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	// drain client frames so close and ping control messages are handled
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := h.write(conn, ev); err != nil {
				return
			}
		case reason := <-gone:
			ev := Event{Type: EventDisconnected}
			if reason != nil {
				ev.Error = reason.Error()
			}
			h.flush(conn, events)
			_ = h.write(conn, ev)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session disconnected"),
				time.Now().Add(writeTimeout))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// flush writes the events already queued
func (h *Handlers) flush(conn *websocket.Conn, events chan Event) {
	for {
		select {
		case ev := <-events:
			if err := h.write(conn, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Handlers) write(conn *websocket.Conn, ev Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// signalGone records a disconnect without blocking. The first signal wins;
// the session's disconnect callbacks must not wait on a closed stream.
func signalGone(gone chan<- error, reason error) {
	select {
	case gone <- reason:
	default:
	}
}
