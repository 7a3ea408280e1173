package socket

import (
	"runtime"
	"sync"
)

// Listener receives dispatched events already reordered and decrypted.
type Listener func(Event)

// ListenerHandle is returned by Subscribe. Callers normally call Close
// when done, but a handle that is simply dropped is also reclaimed: the
// registry entry is weakly held via runtime.AddCleanup, so a forgotten
// Close never keeps a closed-over connection alive. The handle is the
// sole strong reference to the registration.
type ListenerHandle struct {
	id  uint64
	reg *registry
}

// Close unsubscribes the listener. Safe to call more than once.
func (h *ListenerHandle) Close() {
	if h == nil {
		return
	}
	h.reg.remove(h.id)
}

type entry struct {
	filter map[EventType]struct{} // nil matches every event
	fn     Listener
}

type registry struct {
	mu      sync.RWMutex
	nextID  uint64
	entries map[uint64]entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint64]entry)}
}

// subscribe registers fn for events whose type is in filter, or every
// event when filter is empty, and returns the handle. A cleanup is
// attached to the handle so that if the caller drops it without calling
// Close, the registry entry is removed once the handle is collected.
func (r *registry) subscribe(fn Listener, filter ...EventType) *ListenerHandle {
	var set map[EventType]struct{}
	if len(filter) > 0 {
		set = make(map[EventType]struct{}, len(filter))
		for _, f := range filter {
			set[f] = struct{}{}
		}
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.entries[id] = entry{filter: set, fn: fn}
	r.mu.Unlock()

	h := &ListenerHandle{id: id, reg: r}
	runtime.AddCleanup(h, func(id uint64) {
		r.remove(id)
	}, id)
	return h
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (e entry) wants(t EventType) bool {
	if e.filter == nil {
		return true
	}
	_, ok := e.filter[t]
	return ok
}

// interested reports whether any listener would receive an event of
// this type; the dispatcher skips decryption entirely when none would.
func (r *registry) interested(t EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, en := range r.entries {
		if en.wants(t) {
			return true
		}
	}
	return false
}

func (r *registry) dispatch(e Event) {
	r.mu.RLock()
	fns := make([]Listener, 0, len(r.entries))
	for _, en := range r.entries {
		if en.wants(e.Type()) {
			fns = append(fns, en.fn)
		}
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}
