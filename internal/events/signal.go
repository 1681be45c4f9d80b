// Package events provides a small typed publish/subscribe primitive used to
// decouple the document store and connection layer from the surfaces that
// observe them (web API, terminal monitor, snapshot scheduler). Rendering
// and connection code never imports a presentation package; it emits values
// through a Signal and whoever cares subscribes.
package events

import "sync"

// Signal is a typed fan-out point. Subscribers are invoked synchronously,
// in subscription order, on the goroutine that calls Emit.
type Signal[T any] struct {
	mu        sync.Mutex
	listeners []func(T)
}

// Subscribe registers fn and returns an unsubscribe function. Slots are
// zeroed rather than reordered so unsubscribing during dispatch is safe.
func (s *Signal[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.listeners[idx] = nil
		s.mu.Unlock()
	}
}

// Emit delivers v to every live subscriber in order.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]func(T), len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, fn := range snapshot {
		if fn != nil {
			fn(v)
		}
	}
}

// Len reports the number of live subscribers. Mostly useful in tests.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fn := range s.listeners {
		if fn != nil {
			n++
		}
	}
	return n
}
