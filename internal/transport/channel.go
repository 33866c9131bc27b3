package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channel is an ordered, duplex frame stream.
// ReadMessage is called from a single goroutine; WriteMessage may be called
// concurrently and implementations serialize writes.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

const (
	writeWait       = 10 * time.Second
	maxMessageBytes = 64 << 20
)

// WebsocketChannel adapts a gorilla websocket connection
type WebsocketChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebsocketChannel wraps an established websocket connection
func NewWebsocketChannel(conn *websocket.Conn) *WebsocketChannel {
	conn.SetReadLimit(maxMessageBytes)
	return &WebsocketChannel{conn: conn}
}

// Dial connects to a worker websocket endpoint
func Dial(ctx context.Context, url string) (*WebsocketChannel, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebsocketChannel(conn), nil
}

// ReadMessage reads the next text frame.
// A normal close from the peer is reported as ErrPeerClosed.
func (w *WebsocketChannel) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrPeerClosed
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage writes one text frame
func (w *WebsocketChannel) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket
func (w *WebsocketChannel) Close() error {
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// pipeEnd is one side of an in-memory channel pair
type pipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory channels.
// Closing either end closes both; pending and later reads fail with ErrPeerClosed.
func Pipe() (Channel, Channel) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{in: ba, out: ab, done: done, once: once}
	b := &pipeEnd{in: ab, out: ba, done: done, once: once}
	return a, b
}

func (p *pipeEnd) ReadMessage() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, ErrPeerClosed
	}
}

func (p *pipeEnd) WriteMessage(data []byte) error {
	select {
	case <-p.done:
		return errors.New("pipe closed")
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return errors.New("pipe closed")
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
