package session

import (
	"slices"
	"sync"

	"github.com/GriffinCanCode/rhost/internal/transport"
)

type notificationSub struct {
	name string
	fn   func(transport.Message)
}

// events holds explicit subscription lists. Handlers are copied out before
// they run so they may unsubscribe themselves.
type events struct {
	mu           sync.Mutex
	next         int
	disconnected map[int]func(error)
	notification map[int]notificationSub
	output       map[int]func(string, bool)
	fired        bool
}

func (e *events) add(register func(id int)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	register(id)
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.disconnected, id)
		delete(e.notification, id)
		delete(e.output, id)
	}
}

func (e *events) onDisconnected(fn func(error)) func() {
	return e.add(func(id int) {
		if e.fired {
			return
		}
		if e.disconnected == nil {
			e.disconnected = make(map[int]func(error))
		}
		e.disconnected[id] = fn
	})
}

func (e *events) onNotification(name string, fn func(transport.Message)) func() {
	return e.add(func(id int) {
		if e.notification == nil {
			e.notification = make(map[int]notificationSub)
		}
		e.notification[id] = notificationSub{name: name, fn: fn}
	})
}

func (e *events) onOutput(fn func(string, bool)) func() {
	return e.add(func(id int) {
		if e.output == nil {
			e.output = make(map[int]func(string, bool))
		}
		e.output[id] = fn
	})
}

// ordered returns handlers in subscription order
func ordered[T any](m map[int]T, keep func(T) bool) []T {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if h := m[id]; keep(h) {
			out = append(out, h)
		}
	}
	return out
}

func (e *events) emitDisconnected(reason error) {
	e.mu.Lock()
	if e.fired {
		e.mu.Unlock()
		return
	}
	e.fired = true
	handlers := ordered(e.disconnected, func(func(error)) bool { return true })
	e.disconnected = nil
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(reason)
	}
}

func (e *events) emitNotification(msg transport.Message) {
	e.mu.Lock()
	handlers := ordered(e.notification, func(sub notificationSub) bool {
		return sub.name == "" || sub.name == msg.Name
	})
	e.mu.Unlock()

	for _, sub := range handlers {
		sub.fn(msg)
	}
}

func (e *events) emitOutput(text string, stderr bool) {
	e.mu.Lock()
	handlers := ordered(e.output, func(func(string, bool)) bool { return true })
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(text, stderr)
	}
}
