package events

import (
	"fmt"
	"sync"

	"atlasauth/pkg/logging"
)

// Emitter delivers events of type T to registered listeners.
//
// Listeners run synchronously on the goroutine that calls Fire, in
// registration order, after the caller has released its own locks. A
// panicking listener is recovered and logged so it cannot break delivery
// to the others.
type Emitter[T any] struct {
	name string

	mu        sync.Mutex
	nextID    int
	listeners []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

// NewEmitter creates an emitter; name is used in log lines.
func NewEmitter[T any](name string) *Emitter[T] {
	return &Emitter[T]{name: name}
}

// On registers fn and returns a function that removes it again.
func (e *Emitter[T]) On(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	count := len(e.listeners)
	e.mu.Unlock()

	logging.Debug("Events", "Added %s listener, total listeners: %d", e.name, count)

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Fire notifies every listener registered at the time of the call.
func (e *Emitter[T]) Fire(event T) {
	e.mu.Lock()
	listeners := make([]listener[T], len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		e.deliver(l.fn, event)
	}
}

func (e *Emitter[T]) deliver(fn func(T), event T) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Events", fmt.Errorf("panic in %s listener: %v", e.name, r), "Event listener panicked")
		}
	}()
	fn(event)
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
