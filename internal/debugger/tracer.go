package debugger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/rhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/shared/id"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"go.uber.org/zap"
)

// Host is the session surface a tracer drives. *session.Session implements it.
type Host interface {
	inspect.Requester
	Control(ctx context.Context, name string, params any) (json.RawMessage, error)
	BeginEvaluation(ctx context.Context) (*session.EvaluationToken, error)
	BeginInteraction(ctx context.Context) (*session.InteractionToken, error)
	OnNotification(name string, fn func(transport.Message)) (unsubscribe func())
	OnDisconnected(fn func(reason error)) (unsubscribe func())
}

// Options configures a tracer
type Options struct {
	// Store defaults to a MemoryStore
	Store   Store
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// BrowseEvent reports a stop
type BrowseEvent struct {
	Reason     string
	Breakpoint string
	Frames     []*Frame
}

// Tracer follows one session's execution state
type Tracer struct {
	host    Host
	store   Store
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu          sync.Mutex
	state       State
	mode        Mode
	frames      []*Frame
	generation  uint64
	stops       uint64
	stopSignal  chan struct{}
	breakpoints map[string]*Breakpoint
	subs        map[int]func(BrowseEvent)
	nextSub     int
	unsubs      []func()
	detached    chan struct{}
}

// Attach turns tracing on in the worker and reapplies persisted breakpoints
func Attach(ctx context.Context, host Host, opts Options) (*Tracer, error) {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	t := &Tracer{
		host:        host,
		store:       opts.Store,
		logger:      logging.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		state:       Running,
		stopSignal:  make(chan struct{}),
		breakpoints: make(map[string]*Breakpoint),
		subs:        make(map[int]func(BrowseEvent)),
		detached:    make(chan struct{}),
	}

	t.unsubs = append(t.unsubs,
		host.OnNotification(transport.NotifyStopped, t.onStopped),
		host.OnNotification(transport.NotifyPrompt, t.onPrompt),
		host.OnDisconnected(func(error) { t.detach() }),
	)

	if _, err := host.Control(ctx, transport.RequestTrace, transport.TraceParams{Enabled: true}); err != nil {
		t.detach()
		return nil, fmt.Errorf("enable tracing: %w", err)
	}

	locations, err := t.store.Load()
	if err != nil {
		t.logger.Warn("load breakpoints", zap.Error(err))
	}
	for _, loc := range locations {
		if _, err := t.bind(ctx, loc); err != nil {
			t.detach()
			return nil, fmt.Errorf("reapply breakpoint %s: %w", loc, err)
		}
	}

	t.logger.Info("tracer attached", zap.Int("breakpoints", len(locations)))
	return t, nil
}

// State returns the current state
func (t *Tracer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Mode returns the step mode while Stepping
func (t *Tracer) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Frames returns the stack of the current stop, innermost first. It is
// empty unless Stopped.
func (t *Tracer) Frames() []*Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Frame(nil), t.frames...)
}

// OnBrowse subscribes fn to stops
func (t *Tracer) OnBrowse(fn func(BrowseEvent)) (unsubscribe func()) {
	t.mu.Lock()
	n := t.nextSub
	t.nextSub++
	t.subs[n] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, n)
		t.mu.Unlock()
	}
}

func (t *Tracer) onStopped(msg transport.Message) {
	var params transport.StoppedParams
	if err := transport.Unmarshal(msg.Params, &params); err != nil {
		t.logger.Warn("malformed stop notification", zap.Error(err))
		return
	}

	t.mu.Lock()
	if t.state == Detached {
		t.mu.Unlock()
		return
	}
	t.generation++
	frames := make([]*Frame, len(params.Frames))
	for k, f := range params.Frames {
		frames[k] = newFrame(t, t.generation, f)
	}
	t.frames = frames
	t.state = Stopped
	t.mode = ModeNone
	t.stops++
	close(t.stopSignal)
	t.stopSignal = make(chan struct{})

	subs := make([]func(BrowseEvent), 0, len(t.subs))
	for _, k := range sortedKeys(t.subs) {
		subs = append(subs, t.subs[k])
	}
	t.mu.Unlock()

	t.metrics.IncTracerStops(params.Reason)
	t.logger.Debug("stopped", zap.String("reason", params.Reason), zap.Int("frames", len(frames)))

	event := BrowseEvent{Reason: params.Reason, Breakpoint: params.Breakpoint, Frames: append([]*Frame(nil), frames...)}
	for _, fn := range subs {
		fn(event)
	}
}

func (t *Tracer) onPrompt(msg transport.Message) {
	var params transport.PromptParams
	if err := transport.Unmarshal(msg.Params, &params); err != nil || params.Browsing {
		return
	}
	t.mu.Lock()
	t.resumeLocked(Running, ModeNone)
	t.mu.Unlock()
}

// stopSnapshot is what a stop looked like before a resume was attempted
type stopSnapshot struct {
	generation uint64
	frames     []*Frame
	mode       Mode
}

func (t *Tracer) requireStopped() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stoppedLocked()
}

func (t *Tracer) stoppedLocked() error {
	switch t.state {
	case Detached:
		return ErrDetached
	case Stopped:
		return nil
	default:
		return ErrNotStopped
	}
}

// restoreStop puts back the stop a failed resume left, unless the worker
// has reported a newer stop or the tracer was detached meanwhile. Frames
// of the restored stop become valid again.
func (t *Tracer) restoreStop(stops uint64, prev stopSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stops != stops || (t.state != Running && t.state != Stepping) {
		return
	}
	t.state = Stopped
	t.mode = prev.mode
	t.frames = prev.frames
	t.generation = prev.generation
}

// resumeLocked leaves the current stop, invalidating its frames
func (t *Tracer) resumeLocked(state State, mode Mode) {
	if t.state == Detached {
		return
	}
	if t.state == Stopped {
		t.generation++
	}
	t.frames = nil
	t.state = state
	t.mode = mode
}

// StepInto resumes until the next function entry
func (t *Tracer) StepInto(ctx context.Context) (*session.Interaction, error) {
	return t.resume(ctx, ModeInto)
}

// StepOver resumes until the next call at the same depth or a return
func (t *Tracer) StepOver(ctx context.Context) (*session.Interaction, error) {
	return t.resume(ctx, ModeOver)
}

// StepOut resumes until the current function returns
func (t *Tracer) StepOut(ctx context.Context) (*session.Interaction, error) {
	return t.resume(ctx, ModeOut)
}

// Continue resumes until the next breakpoint or the end of the input
func (t *Tracer) Continue(ctx context.Context) (*session.Interaction, error) {
	return t.resume(ctx, ModeNone)
}

// resume sends a step or continue and waits until the tracer reflects its
// outcome: Stopped again with new frames, or Running
func (t *Tracer) resume(ctx context.Context, mode Mode) (*session.Interaction, error) {
	if err := t.requireStopped(); err != nil {
		return nil, err
	}

	tok, err := t.host.BeginInteraction(ctx)
	if err != nil {
		return nil, err
	}
	defer tok.Release()

	t.mu.Lock()
	if err := t.stoppedLocked(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	stops := t.stops
	prev := stopSnapshot{generation: t.generation, frames: t.frames, mode: t.mode}
	if mode == ModeNone {
		t.resumeLocked(Running, ModeNone)
	} else {
		t.resumeLocked(Stepping, mode)
	}
	t.mu.Unlock()

	var res *session.Interaction
	if mode == ModeNone {
		res, err = tok.Continue(ctx)
	} else {
		res, err = tok.Step(ctx, string(mode))
	}
	if err != nil {
		var perr *transport.ProtocolError
		if errors.As(err, &perr) && perr.Code == transport.CodeNotStopped {
			t.mu.Lock()
			t.resumeLocked(Running, ModeNone)
			t.mu.Unlock()
			return nil, ErrNotStopped
		}
		t.restoreStop(stops, prev)
		return nil, err
	}

	if !res.Browsing {
		t.mu.Lock()
		if t.state == Stepping {
			t.resumeLocked(Running, ModeNone)
		}
		t.mu.Unlock()
		return res, nil
	}
	return res, t.awaitStop(ctx, stops)
}

// awaitStop waits until a stop newer than seen has been processed
func (t *Tracer) awaitStop(ctx context.Context, seen uint64) error {
	for {
		t.mu.Lock()
		if t.stops > seen {
			t.mu.Unlock()
			return nil
		}
		signal := t.stopSignal
		t.mu.Unlock()

		select {
		case <-signal:
		case <-t.detached:
			return ErrDetached
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Break asks running code to stop at the next function boundary
func (t *Tracer) Break(ctx context.Context) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	switch state {
	case Detached:
		return ErrDetached
	case Stopped:
		return nil
	}
	_, err := t.host.Control(ctx, transport.RequestBreak, nil)
	return err
}

// SetBreakpoint binds a breakpoint. Setting an existing location returns
// the existing definition.
func (t *Tracer) SetBreakpoint(ctx context.Context, loc Location) (*Breakpoint, error) {
	if !loc.Valid() {
		return nil, fmt.Errorf("invalid breakpoint location %+v", loc)
	}
	t.mu.Lock()
	if t.state == Detached {
		t.mu.Unlock()
		return nil, ErrDetached
	}
	if bp, ok := t.breakpoints[loc.String()]; ok {
		t.mu.Unlock()
		return bp, nil
	}
	t.mu.Unlock()

	bp, err := t.bind(ctx, loc)
	if err != nil {
		return nil, err
	}
	return bp, t.persist()
}

func (t *Tracer) bind(ctx context.Context, loc Location) (*Breakpoint, error) {
	raw, err := t.host.Control(ctx, transport.RequestSetBreakpoint, transport.BreakpointParams{
		Function: loc.Function,
		File:     loc.File,
		Line:     loc.Line,
		Enabled:  true,
	})
	if err != nil {
		return nil, err
	}
	var res transport.BreakpointResult
	if err := transport.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode breakpoint reply: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if bp, ok := t.breakpoints[loc.String()]; ok {
		return bp, nil
	}
	bp := &Breakpoint{
		ID:       id.NewBreakpointID(),
		Location: loc,
		Verified: res.Verified,
		Message:  res.Message,
		Created:  time.Now(),
	}
	t.breakpoints[loc.String()] = bp
	return bp, nil
}

// ClearBreakpoint removes a breakpoint. Clearing an unknown location is a
// no-op.
func (t *Tracer) ClearBreakpoint(ctx context.Context, loc Location) error {
	t.mu.Lock()
	if t.state == Detached {
		t.mu.Unlock()
		return ErrDetached
	}
	_, ok := t.breakpoints[loc.String()]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := t.host.Control(ctx, transport.RequestClearBreakpoint, transport.BreakpointParams{
		Function: loc.Function,
		File:     loc.File,
		Line:     loc.Line,
	}); err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.breakpoints, loc.String())
	t.mu.Unlock()
	return t.persist()
}

// Breakpoints returns the bound breakpoints in creation order
func (t *Tracer) Breakpoints() []*Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Breakpoint, 0, len(t.breakpoints))
	for _, bp := range t.breakpoints {
		out = append(out, bp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (t *Tracer) persist() error {
	bps := t.Breakpoints()
	locations := make([]Location, len(bps))
	for k, bp := range bps {
		locations[k] = bp.Location
	}
	if err := t.store.Save(locations); err != nil {
		return fmt.Errorf("persist breakpoints: %w", err)
	}
	return nil
}

// Detach turns tracing off. Persisted breakpoint definitions are kept.
func (t *Tracer) Detach(ctx context.Context) error {
	t.mu.Lock()
	if t.state == Detached {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	_, err := t.host.Control(ctx, transport.RequestTrace, transport.TraceParams{Enabled: false})
	t.detach()
	if errors.Is(err, session.ErrDisconnected) {
		return nil
	}
	return err
}

func (t *Tracer) detach() {
	t.mu.Lock()
	if t.state == Detached {
		t.mu.Unlock()
		return
	}
	t.generation++
	t.state = Detached
	t.mode = ModeNone
	t.frames = nil
	t.breakpoints = make(map[string]*Breakpoint)
	unsubs := t.unsubs
	t.unsubs = nil
	close(t.detached)
	t.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	t.logger.Info("tracer detached")
}

// Done is closed when the tracer detaches
func (t *Tracer) Done() <-chan struct{} {
	return t.detached
}

func (t *Tracer) valid(generation uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Stopped && t.generation == generation
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
