package session

import (
	"context"
	"sync"
)

type waiter struct {
	ready   chan struct{}
	granted bool
	err     error
}

// gate admits one holder at a time, in arrival order
type gate struct {
	mu      sync.Mutex
	held    bool
	waiters []*waiter
	err     error
}

func (g *gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.err != nil {
		err := g.err
		g.mu.Unlock()
		return err
	}
	if !g.held && len(g.waiters) == 0 {
		g.held = true
		g.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	g.mu.Lock()
	if w.granted {
		// handed over while we were giving up; pass it on
		g.mu.Unlock()
		if w.err == nil {
			g.release()
		}
		return ctx.Err()
	}
	for i, other := range g.waiters {
		if other == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			break
		}
	}
	g.mu.Unlock()
	return ctx.Err()
}

// release hands the gate to exactly the next waiter, or frees it
func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		w.granted = true
		close(w.ready)
		return
	}
	g.held = false
}

// close fails all current and future waiters with err
func (g *gate) close(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.err = err
	for _, w := range g.waiters {
		w.granted = true
		w.err = err
		close(w.ready)
	}
	g.waiters = nil
	g.held = false
}

// queued returns the number of waiters
func (g *gate) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
