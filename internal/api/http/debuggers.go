package http

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/rhost/internal/debugger"
	"github.com/GriffinCanCode/rhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Debuggers tracks the tracer attached to each session and fans browse
// events out to event stream subscribers
type Debuggers struct {
	store   debugger.Store
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// attachMu serializes attaches; the worker holds a single trace flag
	attachMu sync.Mutex

	mu      sync.Mutex
	tracers map[uuid.UUID]*debugger.Tracer
	subs    map[uuid.UUID]map[int]func(debugger.BrowseEvent)
	nextSub int
}

// NewDebuggers creates a registry whose tracers share store
func NewDebuggers(store debugger.Store, logger *zap.Logger, metrics *monitoring.Metrics) *Debuggers {
	if store == nil {
		store = debugger.NewMemoryStore()
	}
	return &Debuggers{
		store:   store,
		logger:  logger,
		metrics: metrics,
		tracers: make(map[uuid.UUID]*debugger.Tracer),
		subs:    make(map[uuid.UUID]map[int]func(debugger.BrowseEvent)),
	}
}

// Attach returns the session's tracer, attaching one if needed
func (d *Debuggers) Attach(ctx context.Context, s *session.Session) (*debugger.Tracer, error) {
	d.attachMu.Lock()
	defer d.attachMu.Unlock()

	if t, ok := d.Get(s.ID()); ok {
		return t, nil
	}

	t, err := debugger.Attach(ctx, s, debugger.Options{
		Store:   d.store,
		Logger:  d.logger.With(zap.String("session", s.ID().String())),
		Metrics: d.metrics,
	})
	if err != nil {
		return nil, err
	}

	sid := s.ID()
	t.OnBrowse(func(ev debugger.BrowseEvent) { d.publish(sid, ev) })

	d.mu.Lock()
	d.tracers[sid] = t
	d.mu.Unlock()

	go func() {
		<-t.Done()
		d.mu.Lock()
		if d.tracers[sid] == t {
			delete(d.tracers, sid)
		}
		d.mu.Unlock()
	}()
	return t, nil
}

// Get returns the attached tracer of a session
func (d *Debuggers) Get(id uuid.UUID) (*debugger.Tracer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tracers[id]
	if !ok || detached(t) {
		return nil, false
	}
	return t, true
}

// Detach detaches the session's tracer, if any
func (d *Debuggers) Detach(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	t, ok := d.tracers[id]
	delete(d.tracers, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return t.Detach(ctx)
}

// Subscribe registers fn for browse events of a session, including tracers
// attached later
func (d *Debuggers) Subscribe(id uuid.UUID, fn func(debugger.BrowseEvent)) (unsubscribe func()) {
	d.mu.Lock()
	n := d.nextSub
	d.nextSub++
	if d.subs[id] == nil {
		d.subs[id] = make(map[int]func(debugger.BrowseEvent))
	}
	d.subs[id][n] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs[id], n)
		if len(d.subs[id]) == 0 {
			delete(d.subs, id)
		}
		d.mu.Unlock()
	}
}

func (d *Debuggers) publish(id uuid.UUID, ev debugger.BrowseEvent) {
	d.mu.Lock()
	fns := make([]func(debugger.BrowseEvent), 0, len(d.subs[id]))
	for _, fn := range d.subs[id] {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func detached(t *debugger.Tracer) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}
