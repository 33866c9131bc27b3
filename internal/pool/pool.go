package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/rhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/shared/id"
	"go.uber.org/zap"
)

// ErrClosed is returned by Get after Close
var ErrClosed = errors.New("session pool closed")

// Factory creates a started session
type Factory func(ctx context.Context) (*session.Session, error)

// SyncFunc copies user context from the primary session into a pooled one
type SyncFunc func(ctx context.Context, primary, pooled *session.Session) error

// Options configures a pool
type Options struct {
	Size    int
	Factory Factory
	// Primary returns the interactive session, or nil when there is none
	Primary func() *session.Session
	// Sync defaults to DefaultSync
	Sync    SyncFunc
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Stats is a snapshot of pool usage
type Stats struct {
	Size    int `json:"size"`
	Created int `json:"created"`
	Idle    int `json:"idle"`
	Leased  int `json:"leased"`
}

// Pool hands out auxiliary sessions
type Pool struct {
	opts   Options
	logger *zap.Logger
	slots  chan struct{}

	mu      sync.Mutex
	idle    []*session.Session
	created int
	leased  int
	closed  bool
	done    chan struct{}
}

// New creates a pool. Size below one is treated as one.
func New(opts Options) *Pool {
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.Sync == nil {
		opts.Sync = DefaultSync
	}
	return &Pool{
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		slots:  make(chan struct{}, opts.Size),
		done:   make(chan struct{}),
	}
}

// Lease is one checkout of a pooled session
type Lease struct {
	ID      id.LeaseID
	Session *session.Session

	pool *Pool
	once sync.Once
}

// Release returns the session to the pool. Sessions that have disconnected
// are discarded and their capacity freed. Release is idempotent.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.put(l.Session)
		l.pool.logger.Debug("lease released", zap.String("lease", l.ID.String()))
	})
}

// Get returns a synchronized session, starting one if none is idle and the
// pool has capacity, or waiting for a release otherwise
func (p *Pool) Get(ctx context.Context) (*Lease, error) {
	select {
	case p.slots <- struct{}{}:
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for pooled session: %w", session.ErrCancelled, ctx.Err())
	}

	s, err := p.take(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	if err := p.sync(ctx, s); err != nil {
		p.put(s)
		return nil, fmt.Errorf("sync pooled session: %w", err)
	}

	lease := &Lease{ID: id.NewLeaseID(), Session: s, pool: p}
	p.logger.Debug("lease acquired", zap.String("lease", lease.ID.String()), zap.String("session", s.ID().String()))
	return lease, nil
}

// take pops a live idle session or creates one; the caller holds a slot
func (p *Pool) take(ctx context.Context) (*session.Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if s.IsRunning() {
			p.leased++
			p.report()
			p.mu.Unlock()
			return s, nil
		}
		p.created--
	}
	p.created++
	p.leased++
	p.report()
	p.mu.Unlock()

	s, err := p.opts.Factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.leased--
		p.report()
		p.mu.Unlock()
		return nil, fmt.Errorf("create pooled session: %w", err)
	}
	p.logger.Info("pooled session created", zap.String("session", s.ID().String()))
	return s, nil
}

func (p *Pool) put(s *session.Session) {
	p.mu.Lock()
	p.leased--
	keep := !p.closed && s.IsRunning()
	if keep {
		p.idle = append(p.idle, s)
	} else {
		p.created--
	}
	p.report()
	p.mu.Unlock()

	if !keep {
		go p.stop(s)
	}
	<-p.slots
}

func (p *Pool) sync(ctx context.Context, s *session.Session) error {
	if p.opts.Primary == nil {
		return nil
	}
	primary := p.opts.Primary()
	if primary == nil || !primary.IsRunning() || primary == s {
		return nil
	}
	return p.opts.Sync(ctx, primary, s)
}

func (p *Pool) stop(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		p.logger.Debug("stop pooled session", zap.String("session", s.ID().String()), zap.Error(err))
	}
}

// report publishes counts; p.mu must be held
func (p *Pool) report() {
	p.opts.Metrics.SetPool(p.created, p.leased)
}

// Run leases a session for the duration of fn
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context, s *session.Session) error) error {
	lease, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx, lease.Session)
}

// Query leases a session for the duration of fn and returns its value
func Query[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, s *session.Session) (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func(ctx context.Context, s *session.Session) error {
		v, err := fn(ctx, s)
		out = v
		return err
	})
	return out, err
}

// Stats returns current usage
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: p.opts.Size, Created: p.created, Idle: len(p.idle), Leased: p.leased}
}

// Close stops idle sessions. Leased sessions are stopped when released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	idle := p.idle
	p.idle = nil
	p.created -= len(idle)
	p.report()
	p.mu.Unlock()

	var errs []error
	for _, s := range idle {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
