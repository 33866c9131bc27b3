package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/rhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"go.uber.org/zap"
)

// Options configures a connection
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	// Cancelable lists requests for which a cancelled call sends a
	// best-effort cancel request to the worker. Nil uses DefaultCancelable.
	Cancelable map[string]bool
}

// DefaultCancelable are the evaluation-class requests
var DefaultCancelable = map[string]bool{
	RequestEvaluate: true,
	RequestInteract: true,
	RequestChildren: true,
	RequestSetValue: true,
}

type result struct {
	msg Message
	err error
}

// Conn correlates requests with responses over a Channel and delivers
// notifications in arrival order
type Conn struct {
	ch      Channel
	logger  *zap.Logger
	metrics *monitoring.Metrics
	cancel  map[string]bool

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan result
	err     error

	writeMu sync.Mutex

	// notification queue, drained by pump so the reader never blocks on consumers
	queueMu   sync.Mutex
	queue     []Message
	queueWake chan struct{}
	notify    chan Message

	done      chan struct{}
	closeOnce sync.Once
}

// New starts reading from ch
func New(ch Channel, opts Options) *Conn {
	cancelable := opts.Cancelable
	if cancelable == nil {
		cancelable = DefaultCancelable
	}
	c := &Conn{
		ch:        ch,
		logger:    logging.OrNop(opts.Logger),
		metrics:   opts.Metrics,
		cancel:    cancelable,
		pending:   make(map[uint64]chan result),
		queueWake: make(chan struct{}, 1),
		notify:    make(chan Message),
		done:      make(chan struct{}),
	}

	go c.readLoop()
	go c.pump()

	return c
}

// Call sends a request and waits for the matching response.
// A response carrying an error payload is returned as *ProtocolError.
func (c *Conn) Call(ctx context.Context, name string, params any) (json.RawMessage, error) {
	// a caller that already gave up must not reach the worker
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := c.nextID.Add(1)
	msg, err := Request(id, name, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	reply := make(chan result, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = reply
	c.mu.Unlock()

	timer := monitoring.NewTimer(c.metrics, name)

	if err := c.write(msg); err != nil {
		c.fail(err)
		timer.Stop("transport_error")
		return nil, c.Err()
	}

	select {
	case res := <-reply:
		if res.err != nil {
			timer.Stop("transport_error")
			return nil, res.err
		}
		if res.msg.Error != nil {
			timer.Stop("worker_error")
			return nil, &ProtocolError{Request: name, Code: res.msg.Error.Code, Message: res.msg.Error.Message}
		}
		timer.Stop("ok")
		return res.msg.Result, nil

	case <-ctx.Done():
		c.mu.Lock()
		_, stillPending := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()

		timer.Stop("cancelled")
		if stillPending && c.cancel[name] {
			go c.sendCancel(id)
		}
		return nil, ctx.Err()
	}
}

// Notify sends a notification without waiting
func (c *Conn) Notify(name string, params any) error {
	msg, err := Notification(name, params)
	if err != nil {
		return err
	}
	if err := c.write(msg); err != nil {
		c.fail(err)
		return c.Err()
	}
	return nil
}

// Notifications delivers worker notifications in order. The channel is
// closed once the connection has ended and queued notifications are drained.
func (c *Conn) Notifications() <-chan Message {
	return c.notify
}

// Done is closed when the connection ends
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure that ended the connection, or nil while it is open
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the number of calls awaiting a response
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close ends the connection. Pending calls fail with ErrTransport.
func (c *Conn) Close() error {
	c.fail(ErrClosed)
	return nil
}

func (c *Conn) sendCancel(id uint64) {
	msg, err := Request(c.nextID.Add(1), RequestCancel, CancelParams{ID: id})
	if err != nil {
		return
	}
	// the cancel response is not awaited; its id is never registered and the
	// reader drops it
	if err := c.write(msg); err != nil {
		c.logger.Debug("cancel not delivered", zap.Uint64("request_id", id), zap.Error(err))
	}
}

func (c *Conn) write(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return c.Err()
	default:
	}
	return c.ch.WriteMessage(data)
}

func (c *Conn) readLoop() {
	for {
		data, err := c.ch.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch msg.Kind {
		case KindResponse:
			c.mu.Lock()
			reply, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("response for unknown request", zap.Uint64("request_id", msg.ID))
				continue
			}
			reply <- result{msg: msg}

		case KindNotification:
			c.enqueue(msg)

		case KindRequest:
			c.logger.Warn("unexpected request from worker", zap.String("name", msg.Name))
		}
	}
}

func (c *Conn) enqueue(msg Message) {
	c.queueMu.Lock()
	c.queue = append(c.queue, msg)
	c.queueMu.Unlock()

	select {
	case c.queueWake <- struct{}{}:
	default:
	}
}

func (c *Conn) pump() {
	defer close(c.notify)

	for {
		c.queueMu.Lock()
		batch := c.queue
		c.queue = nil
		c.queueMu.Unlock()

		for _, msg := range batch {
			c.notify <- msg
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-c.queueWake:
		case <-c.done:
			// deliver anything that raced with the failure, then stop
			c.queueMu.Lock()
			rest := c.queue
			c.queue = nil
			c.queueMu.Unlock()
			for _, msg := range rest {
				c.notify <- msg
			}
			return
		}
	}
}

// fail ends the connection once, failing every pending call
func (c *Conn) fail(cause error) {
	c.closeOnce.Do(func() {
		err := transportError(cause)

		c.mu.Lock()
		c.err = err
		pending := c.pending
		c.pending = make(map[uint64]chan result)
		c.mu.Unlock()

		for _, reply := range pending {
			reply <- result{err: err}
		}

		close(c.done)
		_ = c.ch.Close()

		if errors.Is(cause, ErrClosed) {
			c.logger.Debug("connection closed")
		} else {
			c.logger.Info("connection lost", zap.Error(cause), zap.Int("pending", len(pending)))
		}
	})
}
