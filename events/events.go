// Package events provides the typed publish/subscribe buses used by suite runners.
//
// Each named event of a bus is an Emitter whose payload struct carries the
// event's positional arguments in order, so every listener receives exactly
// the values the publisher emitted.
package events

import (
	"sync"
	"time"
)

// Emitter delivers payloads of one event kind to its listeners, synchronously
// and in subscription order. The zero value is ready to use.
type Emitter[T any] struct {
	mu        sync.RWMutex
	nextID    int
	listeners []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it again.
func (e *Emitter[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})

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

// Emit calls every listener with v. Listeners may subscribe or unsubscribe
// while an emit is in progress; such changes apply to the next Emit.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Passed is emitted when a test returns without failing.
type Passed struct {
	Name     string
	Duration time.Duration
}

// Failed is emitted when a test fails or panics.
type Failed struct {
	Name string
	Err  error
}

// Done is emitted once per suite after its last test.
type Done struct {
	Total  int
	Failed int
}

// Completed is emitted once per run context, after its last active suite finished.
type Completed struct {
	Suites      int
	TotalTests  int
	TotalPassed int
	TotalFailed int
}

// SuiteBus is the bus owned by a single suite runner.
type SuiteBus struct {
	Passed Emitter[Passed]
	Failed Emitter[Failed]
	Done   Emitter[Done]
}

// RunBus spans every suite runner sharing a run context.
type RunBus struct {
	Completed Emitter[Completed]
}
