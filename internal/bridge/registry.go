package bridge

import (
	"context"
	"math/rand"
	"sync"

	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/telemetry"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Registry tracks live sessions. Fan-out snapshots the session set before
// writing so no connection I/O ever happens under the registry lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// newID mints a 10-character alphanumeric session identifier that is not
// currently in use.
func (r *Registry) newID() string {
	buf := make([]byte, 10)
	for {
		for i := range buf {
			buf[i] = idAlphabet[rand.Intn(len(idAlphabet))]
		}
		id := string(buf)
		r.mu.RLock()
		_, exists := r.sessions[id]
		r.mu.RUnlock()
		if !exists {
			return id
		}
	}
}

// add registers a session under its minted ID.
func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove drops a session from the registry. Idempotent; returns whether
// the session was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	return ok
}

// Sessions returns a point-in-time snapshot of the live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SendTo writes one line to the identified session. Returns false when no
// such session exists. A write error closes the session so the read loop
// reaps it immediately instead of stalling every later fan-out line until
// the idle sweep.
func (r *Registry) SendTo(id, line string) bool {
	s := r.Get(id)
	if s == nil {
		return false
	}
	if err := s.SendLine(line); err != nil {
		debug.Debugf("send to %s failed: %v", id, err)
		s.Close()
	}
	telemetry.LinesFannedOut(context.Background(), 1)
	return true
}

// Broadcast writes one line to every live session.
func (r *Registry) Broadcast(line string) {
	sessions := r.Sessions()
	for _, s := range sessions {
		if err := s.SendLine(line); err != nil {
			debug.Debugf("broadcast to %s failed: %v", s.ID, err)
			s.Close()
		}
	}
	telemetry.LinesFannedOut(context.Background(), int64(len(sessions)))
}
