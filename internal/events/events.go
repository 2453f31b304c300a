// Package events implements Component K: a typed observer registry. There
// is no global bus — each owner (a session store, a pool coordinator)
// constructs its own Registry and callers subscribe to the kinds they care
// about.
package events

import "sync"

// Kind identifies an event channel. Handlers are registered per kind.
type Kind string

const (
	SessionNoncesComplete Kind = "SESSION_NONCES_COMPLETE"
	SessionComplete       Kind = "SESSION_COMPLETE"
	SessionAborted        Kind = "session:aborted"
	PoolAborted           Kind = "pool:aborted"
	PoolCompleted         Kind = "pool:completed"
	GroupAborted          Kind = "group:aborted"
	SecurityRejected      Kind = "security:rejected"
	ValidationError       Kind = "validation:error"
	ParticipantDropped    Kind = "participant:dropped"
)

// Handler receives an event payload whose concrete type is specific to the
// Kind it was registered for.
type Handler func(payload any)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// Registry is a concurrency-safe map of Kind to an ordered list of handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind][]*handlerEntry
	seq      uint64
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// NewRegistry constructs an empty observer registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind][]*handlerEntry)}
}

// On subscribes fn to kind and returns a function that removes it.
func (r *Registry) On(kind Kind, fn Handler) Unsubscribe {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.handlers[kind] = append(r.handlers[kind], &handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.handlers[kind]
		for i, e := range entries {
			if e.id == id {
				r.handlers[kind] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit synchronously invokes every handler currently registered for kind,
// in subscription order. Handlers registered or removed during emission do
// not affect the in-flight dispatch.
func (r *Registry) Emit(kind Kind, payload any) {
	r.mu.RLock()
	entries := make([]*handlerEntry, len(r.handlers[kind]))
	copy(entries, r.handlers[kind])
	r.mu.RUnlock()

	for _, e := range entries {
		e.fn(payload)
	}
}
