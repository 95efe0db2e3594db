package events

import (
	"context"
	"sync"

	"github.com/swecc-uw/swecc-sockets/pkg/log"
)

// Listener handles one event. Blocking work must honor ctx, which is
// cancelled when the emission itself is cancelled.
type Listener func(ctx context.Context, ev Event)

// Emitter is a per-service publish/subscribe dispatcher. Emission invokes
// every registered listener concurrently and joins on them; a panicking
// listener is recovered and logged so it cannot starve its siblings.
// Registration order is preserved internally but sibling ordering during
// emission is unspecified.
//
// Listeners are keyed by the id returned from On, mirroring how handler
// registration is done explicitly at startup rather than as a constructor
// side effect.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]entry
	nextID    uint64

	logger *log.Logger
}

type entry struct {
	id uint64
	fn Listener
}

// NewEmitter constructs an emitter for one service.
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[EventType][]entry),
		logger:    log.ForService("events"),
	}
}

// On registers a listener for an event type and returns its registration id.
func (e *Emitter) On(t EventType, fn Listener) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[t] = append(e.listeners[t], entry{id: id, fn: fn})
	return id
}

// Off removes the listener registered under id. Unknown ids are ignored.
func (e *Emitter) Off(t EventType, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[t]
	for i, ent := range entries {
		if ent.id == id {
			e.listeners[t] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to every listener registered for its type,
// concurrently, and waits for all of them to return. Cancelling ctx
// propagates to every listener.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	e.mu.RLock()
	entries := make([]entry, len(e.listeners[ev.Type]))
	copy(entries, e.listeners[ev.Type])
	e.mu.RUnlock()

	if len(entries) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, ent := range entries {
		wg.Add(1)
		go func(fn Listener) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					e.logger.Errorf("listener panic for %s event: %v", ev.Type, rec)
				}
			}()
			fn(ctx, ev)
		}(ent.fn)
	}
	wg.Wait()
}
