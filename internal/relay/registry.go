package relay

import "sync"

// ClientRegistry is the shared, mutex-protected membership list of live
// sessions. It owns no session's lifetime -- a *ClientSession's worker
// goroutine owns that -- it only tracks who is currently registered,
// mirroring the original's clients[] array plus clients_mutex.
type ClientRegistry struct {
	mu       sync.Mutex
	sessions []*ClientSession
	max      int
}

// NewClientRegistry builds a registry. max == 0 means unlimited.
func NewClientRegistry(max int) *ClientRegistry {
	return &ClientRegistry{max: max}
}

// Insert adds session to the registry.
func (r *ClientRegistry) Insert(session *ClientSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, session)
}

// Remove deletes session from the registry, shifting the tail left.
// Order is not semantically meaningful; stable removal just keeps the
// backing slice simple to reason about. A no-op if session is absent.
func (r *ClientRegistry) Remove(session *ClientSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sessions {
		if s == session {
			copy(r.sessions[i:], r.sessions[i+1:])
			r.sessions[len(r.sessions)-1] = nil
			r.sessions = r.sessions[:len(r.sessions)-1]
			return
		}
	}
}

// Len reports the current number of registered sessions.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// HasRoom reports whether another session may be accepted.
func (r *ClientRegistry) HasRoom() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max == 0 || len(r.sessions) < r.max
}

// Snapshot returns a copy of the current session list, safe to range
// over without holding the registry's own mutex -- used by the hub
// (under its own, different mutex) to flip ready flags, and by the
// producer to compute the minimum client frame interval.
func (r *ClientRegistry) Snapshot() []*ClientSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ClientSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// MinInterval returns the smallest EWMA frame interval amongst
// registered sessions, or 0 if there are none.
func (r *ClientRegistry) MinInterval() float64 {
	sessions := r.Snapshot()
	if len(sessions) == 0 {
		return 0
	}
	min := sessions[0].FrameInterval()
	for _, s := range sessions[1:] {
		if fi := s.FrameInterval(); fi < min {
			min = fi
		}
	}
	return min
}
