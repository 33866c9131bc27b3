package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/rhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StartupInfo configures a worker at start
type StartupInfo struct {
	Name             string
	WorkingDirectory string
	Options          map[string]string
}

// Options configures a session
type Options struct {
	Launcher Launcher
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
	// EvalTimeout bounds each evaluation-class round trip; zero means none
	EvalTimeout time.Duration
	// StopTimeout bounds the graceful shutdown before the worker is killed
	StopTimeout time.Duration
}

// Session owns one worker connection and serializes evaluation and
// interaction against it
type Session struct {
	id      uuid.UUID
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics
	gate    gate

	mu         sync.Mutex
	state      State
	conn       *transport.Conn
	worker     *Worker
	version    string
	terminated bool
	done       chan struct{}

	events events
}

// New creates a disconnected session
func New(id uuid.UUID, opts Options) *Session {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	logger := logging.OrNop(opts.Logger).With(zap.String("session", id.String()))
	opts.Metrics.SessionStateChanged("", StateDisconnected.String())

	return &Session{
		id:      id,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		state:   StateDisconnected,
		done:    make(chan struct{}),
	}
}

// ID returns the session identity
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the worker is connected and ready
func (s *Session) IsRunning() bool {
	return s.State() == StateRunning
}

// Terminated reports whether the session has disconnected for good
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// ProcessID returns the worker process id, or 0 when unknown
func (s *Session) ProcessID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil {
		return 0
	}
	return s.worker.PID
}

// Version returns the version string the worker reported at start
func (s *Session) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Done is closed once the session has disconnected
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.metrics.SessionStateChanged(s.state.String(), state.String())
	s.logger.Debug("state changed", zap.Stringer("from", s.state), zap.Stringer("to", state))
	s.state = state
}

// Start launches or connects the worker and performs the start handshake.
// It is a no-op on a running session. The worker must be ready within
// timeout; a failed start leaves the session restartable.
func (s *Session) Start(ctx context.Context, info StartupInfo, timeout time.Duration) error {
	s.mu.Lock()
	switch {
	case s.terminated:
		s.mu.Unlock()
		return ErrTerminated
	case s.state == StateRunning:
		s.mu.Unlock()
		return nil
	case s.state != StateDisconnected:
		s.mu.Unlock()
		return ErrStarting
	}
	if s.opts.Launcher == nil {
		s.mu.Unlock()
		return &StartupError{Err: errors.New("no launcher configured")}
	}
	s.setState(StateConnecting)
	s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrTimeout)
		defer cancel()
	}

	worker, conn, result, err := s.connect(ctx, info)
	if err != nil {
		s.mu.Lock()
		s.setState(StateDisconnected)
		s.mu.Unlock()
		s.metrics.IncStartFailures()

		if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		serr := &StartupError{Err: err}
		if worker != nil && worker.Process != nil {
			serr.Console = worker.Process.Console()
		}
		s.logger.Warn("worker start failed", zap.Error(serr))
		return serr
	}

	s.mu.Lock()
	s.conn = conn
	s.worker = worker
	s.version = result.Version
	if worker.PID == 0 {
		worker.PID = result.PID
	}
	s.setState(StateRunning)
	s.mu.Unlock()

	go s.watch(conn, worker)

	s.logger.Info("worker ready", zap.String("version", result.Version), zap.Int("pid", worker.PID))
	return nil
}

func (s *Session) connect(ctx context.Context, info StartupInfo) (*Worker, *transport.Conn, transport.StartResult, error) {
	var result transport.StartResult

	worker, err := s.opts.Launcher.Launch(ctx, info)
	if err != nil {
		return worker, nil, result, err
	}

	conn := transport.New(worker.Channel, transport.Options{
		Logger:  s.logger.Named("transport"),
		Metrics: s.metrics,
	})

	raw, err := conn.Call(ctx, transport.RequestStart, transport.StartParams{
		Name:             info.Name,
		WorkingDirectory: info.WorkingDirectory,
		Options:          info.Options,
	})
	if err == nil {
		err = transport.Unmarshal(raw, &result)
	}
	if err != nil {
		_ = conn.Close()
		worker.kill()
		return worker, nil, result, err
	}
	return worker, conn, result, nil
}

// watch dispatches notifications until the connection ends
func (s *Session) watch(conn *transport.Conn, worker *Worker) {
	if worker.Process != nil {
		go func() {
			select {
			case <-worker.Process.Done():
				_ = conn.Close()
			case <-conn.Done():
			}
		}()
	}

	for msg := range conn.Notifications() {
		s.dispatch(msg)
	}

	s.disconnect(conn.Err())
}

func (s *Session) dispatch(msg transport.Message) {
	if msg.Name == transport.NotifyOutput {
		var out transport.OutputParams
		if err := transport.Unmarshal(msg.Params, &out); err == nil {
			s.events.emitOutput(out.Text, out.Stderr)
		}
	}
	if msg.Name == transport.NotifyDisconnected {
		var params transport.DisconnectedParams
		if err := transport.Unmarshal(msg.Params, &params); err == nil {
			s.logger.Info("worker disconnecting", zap.String("reason", params.Reason))
		}
	}
	s.events.emitNotification(msg)
}

// disconnect makes the session terminal. It runs once per session.
func (s *Session) disconnect(reason error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.setState(StateDisconnected)
	s.mu.Unlock()

	if reason == nil {
		reason = transport.ErrClosed
	}
	s.gate.close(fmt.Errorf("%w: %w", ErrDisconnected, reason))
	s.metrics.IncDisconnects()
	s.logger.Info("session disconnected", zap.Error(reason))

	s.events.emitDisconnected(reason)
	close(s.done)
}

// Stop asks the worker to shut down, kills it if it does not exit within
// the stop timeout, and waits for the session to disconnect
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	conn, worker := s.conn, s.worker
	s.setState(StateStopping)
	s.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	defer cancel()

	if _, err := conn.Call(stopCtx, transport.RequestShutdown, nil); err != nil {
		s.logger.Debug("shutdown request failed", zap.Error(err))
	}

	select {
	case <-conn.Done():
	case <-stopCtx.Done():
	}
	_ = conn.Close()

	if worker.Process != nil {
		select {
		case <-worker.Process.Done():
		case <-stopCtx.Done():
			s.logger.Warn("worker did not exit, killing", zap.Int("pid", worker.PID))
			worker.kill()
		}
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeginEvaluation waits in arrival order for exclusive access
func (s *Session) BeginEvaluation(ctx context.Context) (*EvaluationToken, error) {
	if err := s.acquire(ctx, "evaluation"); err != nil {
		return nil, err
	}
	return &EvaluationToken{token{s: s}}, nil
}

// BeginInteraction waits in arrival order for exclusive access. It shares
// the queue with BeginEvaluation.
func (s *Session) BeginInteraction(ctx context.Context) (*InteractionToken, error) {
	if err := s.acquire(ctx, "interaction"); err != nil {
		return nil, err
	}
	return &InteractionToken{token{s: s}}, nil
}

func (s *Session) acquire(ctx context.Context, kind string) error {
	start := time.Now()
	if err := s.gate.acquire(ctx); err != nil {
		return classify(ctx, err)
	}
	s.metrics.ObserveTokenWait(kind, time.Since(start))
	return nil
}

func (s *Session) connection() (*transport.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.conn != nil && s.conn.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrDisconnected, s.conn.Err())
	case s.terminated:
		return nil, ErrDisconnected
	case s.conn == nil:
		return nil, ErrNotRunning
	}
	return s.conn, nil
}

// call performs one evaluation-class round trip
func (s *Session) call(ctx context.Context, name string, params any) (json.RawMessage, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	if s.opts.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, s.opts.EvalTimeout, ErrTimeout)
		defer cancel()
	}
	raw, err := conn.Call(ctx, name, params)
	return raw, classify(ctx, err)
}

// Control sends a debugger control request. Control requests do not take a
// token; they reach the worker while evaluation or interaction is in flight.
func (s *Session) Control(ctx context.Context, name string, params any) (json.RawMessage, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	raw, err := conn.Call(ctx, name, params)
	return raw, classify(ctx, err)
}

// Request serves follow-up requests of described results. It takes an
// evaluation token for the duration of the round trip, so it must not be
// called while the caller holds a token on this session.
func (s *Session) Request(ctx context.Context, name string, params any) (json.RawMessage, error) {
	tok, err := s.BeginEvaluation(ctx)
	if err != nil {
		return nil, err
	}
	defer tok.Release()
	return tok.call(ctx, name, params)
}

// OnDisconnected subscribes fn to the disconnect event, which fires once.
// Subscribers added after the disconnect are not called.
func (s *Session) OnDisconnected(fn func(reason error)) (unsubscribe func()) {
	return s.events.onDisconnected(fn)
}

// OnNotification subscribes fn to worker notifications named name, or to
// all notifications when name is empty. fn runs on the session's dispatch
// goroutine and may issue requests.
func (s *Session) OnNotification(name string, fn func(transport.Message)) (unsubscribe func()) {
	return s.events.onNotification(name, fn)
}

// OnOutput subscribes fn to console output
func (s *Session) OnOutput(fn func(text string, stderr bool)) (unsubscribe func()) {
	return s.events.onOutput(fn)
}
