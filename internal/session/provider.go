package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/rhost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProviderOptions configures a Provider
type ProviderOptions struct {
	// Session is the template for every session the provider creates
	Session      Options
	StartInfo    StartupInfo
	StartTimeout time.Duration
	// Breaker guards Start; nil disables it
	Breaker *resilience.Breaker
	Logger  *zap.Logger
}

// Provider owns sessions by identity. A session that has terminated is
// replaced by a fresh instance on the next GetOrCreate.
type Provider struct {
	opts   ProviderOptions
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	order    []uuid.UUID
}

// NewProvider creates a provider
func NewProvider(opts ProviderOptions) *Provider {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	logger := logging.OrNop(opts.Logger)
	if opts.Session.Logger == nil {
		opts.Session.Logger = logger
	}
	return &Provider{
		opts:     opts,
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// GetOrCreate returns the live session for id, creating one if there is
// none or the previous one has terminated. The session is not started.
func (p *Provider) GetOrCreate(id uuid.UUID) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[id]; ok && !s.Terminated() {
		return s
	}
	if _, ok := p.sessions[id]; !ok {
		p.order = append(p.order, id)
	}
	s := New(id, p.opts.Session)
	p.sessions[id] = s
	p.logger.Debug("session created", zap.String("session", id.String()))
	return s
}

// Get returns the current session for id
func (p *Provider) Get(id uuid.UUID) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Start returns a running session for id, starting it if needed
func (p *Provider) Start(ctx context.Context, id uuid.UUID) (*Session, error) {
	s := p.GetOrCreate(id)
	if s.IsRunning() {
		return s, nil
	}

	start := func() error {
		return s.Start(ctx, p.opts.StartInfo, p.opts.StartTimeout)
	}
	var err error
	if p.opts.Breaker != nil {
		err = p.opts.Breaker.Execute(start)
	} else {
		err = start()
	}
	if errors.Is(err, ErrTerminated) {
		// lost a race with a disconnect; try the replacement once
		s = p.GetOrCreate(id)
		err = s.Start(ctx, p.opts.StartInfo, p.opts.StartTimeout)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Sessions returns current sessions in creation order of their identity
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Session, 0, len(p.sessions))
	for _, id := range p.order {
		if s, ok := p.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Stop stops and forgets the session for id
func (p *Provider) Stop(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	p.order = removeID(p.order, id)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Stop(ctx)
}

// Close stops every session
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[uuid.UUID]*Session)
	p.order = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for i, other := range ids {
		if other == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
