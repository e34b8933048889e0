// Package emitter provides an in-memory pub/sub hub keyed by event-type
// name. Handlers for a type run in registration order; removal is by the
// subscription token returned from On, since Go function values are not
// comparable. The zero value is ready to use.
package emitter

import "sync"

// Subscription is the opaque token identifying one registration. The same
// handler registered twice yields two distinct subscriptions, and both fire.
type Subscription[T any] struct {
	event string
	fn    func(T)
}

// Emitter fans events out to registered handlers. It performs no I/O.
type Emitter[T any] struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription[T]
	closed bool
}

// New creates an empty Emitter.
func New[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// On registers fn for the given event type, appended after any existing
// handlers for that type. The returned subscription is the only way to
// remove the registration. On a closed emitter it returns an inert token.
func (e *Emitter[T]) On(event string, fn func(T)) *Subscription[T] {
	sub := &Subscription[T]{event: event, fn: fn}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return sub
	}

	if e.subs == nil {
		e.subs = make(map[string][]*Subscription[T])
	}

	e.subs[event] = append(e.subs[event], sub)

	return sub
}

// Off removes the registration identified by sub. Removing a subscription
// that was never registered, or was already removed, is a no-op.
func (e *Emitter[T]) Off(sub *Subscription[T]) {
	if sub == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.subs[sub.event]
	for i, s := range list {
		if s == sub {
			e.subs[sub.event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler currently registered for event, in registration
// order, passing data. A panicking handler does not prevent the remaining
// handlers from running.
func (e *Emitter[T]) Emit(event string, data T) {
	e.mu.Lock()
	list := e.subs[event]
	// Snapshot so handlers may register/remove subscriptions mid-emit
	// without affecting this dispatch.
	snapshot := make([]*Subscription[T], len(list))
	copy(snapshot, list)
	e.mu.Unlock()

	for _, s := range snapshot {
		invoke(s.fn, data)
	}
}

// invoke runs fn, swallowing any panic it raises.
func invoke[T any](fn func(T), data T) {
	defer func() { _ = recover() }()
	fn(data)
}

// Close drops all registrations and marks the emitter closed. It releases
// handler references only; there are no other resources to free.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subs = nil
	e.closed = true
}
