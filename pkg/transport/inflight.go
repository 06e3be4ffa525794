package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks running generations by session ID so they can be
// cancelled from another request. Each Track call gets its own token, so a
// finished generation never unregisters a newer one for the same session.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]inflightEntry
}

type inflightEntry struct {
	token  uint64
	cancel context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]inflightEntry),
	}
}

// Track derives a cancellable context for the generation running under id.
// The returned done function must be called when the generation ends; it
// releases the context and removes the entry if it is still the current one.
func (r *InFlightRegistry) Track(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.next++
	token := r.next
	r.entries[id] = inflightEntry{token: token, cancel: cancel}
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if e, ok := r.entries[id]; ok && e.token == token {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		cancel()
	}
}

// Cancel cancels the generation running under id. Returns true if one was
// found, false if nothing is in flight for id.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		e.cancel()
	}
	return ok
}

// CancelAll cancels every in-flight generation and returns how many
// there were.
func (r *InFlightRegistry) CancelAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]inflightEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	return len(entries)
}

// Active reports whether a generation is in flight for id.
func (r *InFlightRegistry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of in-flight generations.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
