// Package registry maps live connections to their logical identity.
package registry

import "sync"

// Role is a connection's position in its room.
type Role string

const (
	RoleHost        Role = "host"
	RoleViewer      Role = "viewer"
	RoleParticipant Role = "participant"
)

// Identity is what a router knows about a connection.
type Identity struct {
	StreamID      string
	Role          Role
	ParticipantID string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Identity
}

func New() *Registry {
	return &Registry{conns: make(map[string]Identity)}
}

// Register records or replaces the identity for connID.
func (r *Registry) Register(connID string, id Identity) {
	r.mu.Lock()
	r.conns[connID] = id
	r.mu.Unlock()
}

func (r *Registry) Lookup(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[connID]
	return id, ok
}

// Bind sets the participant id of an already registered connection if it has
// none yet. It reports whether the binding happened.
func (r *Registry) Bind(connID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.conns[connID]
	if !ok || id.ParticipantID != "" {
		return false
	}
	id.ParticipantID = participantID
	r.conns[connID] = id
	return true
}

// Remove forgets connID and returns what it was registered as.
func (r *Registry) Remove(connID string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	return id, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
