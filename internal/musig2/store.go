package musig2

import (
	"sync"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/protoerr"
)

// Store is a many-reader/single-writer map of session id to *Session,
// matching the concurrency model of internal/storage.Storage (single
// writer lock guarding a keyed map).
type Store struct {
	mu       sync.RWMutex
	sessions map[[32]byte]*Session
}

// NewStore constructs an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[[32]byte]*Session)}
}

// Put inserts a session, keyed by its deterministic id. Re-inserting a
// session under the same id that is already present is a no-op.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[s.id]; exists {
		return
	}
	st.sessions[s.id] = s
}

// Get looks up a session by id.
func (st *Store) Get(id [32]byte) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, protoerr.New(protoerr.UnknownSession, "no session with id %x", id)
	}
	return s, nil
}

// Delete removes a session from the store, typically after its grace
// window for late-arriving messages has elapsed.
func (st *Store) Delete(id [32]byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len returns the number of tracked sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// SweepTimeouts calls TimeOut on every non-terminal session whose current
// phase deadline has elapsed, and GCs terminal sessions older than
// graceMs past their last update.
func (st *Store) SweepTimeouts(now int64, graceMs int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		s.TimeOut(now)
		snap := s.Snapshot()
		if snap.Phase.terminal() && now-snap.UpdatedAt > graceMs {
			delete(st.sessions, id)
		}
	}
}

// All returns a snapshot slice of every tracked session, for iteration
// without holding the store lock.
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}
