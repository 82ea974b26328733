package cdp

import "sync"

// Handler receives protocol events.
// Handlers run on the connection's receive goroutine in arrival order; a
// handler must not wait on a protocol round-trip or it stalls every
// conversation on the connection.
type Handler func(Event)

type handlerEntry struct {
	id uint64
	fn Handler
}

// registry routes events to handlers by method name.
type registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]handlerEntry
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]handlerEntry)}
}

// on registers fn for every method in methods and returns a func that
// removes the registration.
func (r *registry) on(methods []string, fn Handler) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	for _, m := range methods {
		r.handlers[m] = append(r.handlers[m], handlerEntry{id: id, fn: fn})
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.off(methods, id) })
	}
}

func (r *registry) off(methods []string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range methods {
		entries := r.handlers[m]
		kept := entries[:0:0]
		for _, e := range entries {
			if e.id != id {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.handlers, m)
		} else {
			r.handlers[m] = kept
		}
	}
}

// emit calls every handler registered for evt.Method and returns how many ran.
func (r *registry) emit(evt Event) int {
	r.mu.RLock()
	handlers := r.handlers[evt.Method]
	r.mu.RUnlock()

	for _, h := range handlers {
		h.fn(evt)
	}
	return len(handlers)
}

// clear drops every registration.
func (r *registry) clear() {
	r.mu.Lock()
	r.handlers = make(map[string][]handlerEntry)
	r.mu.Unlock()
}
