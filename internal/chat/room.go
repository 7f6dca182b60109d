package chat

import (
	"sync"
	"time"

	"github.com/mossy-p/stream-relay/internal/models"
	"github.com/mossy-p/stream-relay/internal/transport"
)

// Room maps chat user ids to the connection that first spoke for them.
type Room struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	participants map[string]transport.Peer
	closed       bool
}

func newRoom(id string, createdAt time.Time) *Room {
	return &Room{
		id:           id,
		createdAt:    createdAt,
		participants: make(map[string]transport.Peer),
	}
}

func (r *Room) CreatedAt() time.Time { return r.createdAt }

func (r *Room) Evict() []transport.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	members := r.conns()
	r.participants = make(map[string]transport.Peer)
	return members
}

// conns lists each distinct connection once, even when it speaks for several
// user ids. Callers hold r.mu.
func (r *Room) conns() []transport.Peer {
	seen := make(map[string]struct{}, len(r.participants))
	out := make([]transport.Peer, 0, len(r.participants))
	for _, p := range r.participants {
		if _, dup := seen[p.ID()]; dup {
			continue
		}
		seen[p.ID()] = struct{}{}
		out = append(out, p)
	}
	return out
}

// removeConn drops every user id bound to p and returns them.
func (r *Room) removeConn(p transport.Peer) []string {
	var removed []string
	for userID, member := range r.participants {
		if member.ID() == p.ID() {
			delete(r.participants, userID)
			removed = append(removed, userID)
		}
	}
	return removed
}

func (r *Room) detail(now time.Time) models.ChatDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.ChatDetail{
		StreamID:  r.id,
		UserCount: len(r.participants),
		Uptime:    now.Sub(r.createdAt).Milliseconds(),
	}
}
