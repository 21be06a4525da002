package datapumps

import (
	"sync"

	"github.com/samber/lo"
)

// Event names emitted by buffers, pumps and groups.
const (
	EventWrite   = "write"
	EventRelease = "release"
	EventFull    = "full"
	EventSealed  = "sealed"
	EventEnd     = "end"
	EventError   = "error"
)

// Listener is a callback registered for an event.
type Listener func()

type subscription struct {
	id   uint64
	fn   Listener
	once bool
}

// emitter dispatches named events to their listeners. Listeners run synchronously in the
// emitting goroutine, outside of the emitter lock, so they may subscribe or emit again.
type emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

// On registers fn for event and returns a function removing it.
func (e *emitter) On(event string, fn Listener) func() {
	return e.subscribe(event, fn, false)
}

// Once registers fn for the next emission of event only.
func (e *emitter) Once(event string, fn Listener) func() {
	return e.subscribe(event, fn, true)
}

func (e *emitter) subscribe(event string, fn Listener, once bool) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[string][]subscription)
	}
	e.nextID++
	id := e.nextID
	e.subs[event] = append(e.subs[event], subscription{id: id, fn: fn, once: once})
	return func() { e.remove(event, id) }
}

func (e *emitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[event] = lo.Reject(e.subs[event], func(s subscription, _ int) bool { return s.id == id })
}

func (e *emitter) emit(event string) {
	e.mu.Lock()
	subs := e.subs[event]
	if len(subs) == 0 {
		e.mu.Unlock()
		return
	}
	e.subs[event] = lo.Reject(subs, func(s subscription, _ int) bool { return s.once })
	e.mu.Unlock()

	for _, s := range subs {
		s.fn()
	}
}
