package signaling

import (
	"sync"
	"time"

	"github.com/mossy-p/stream-relay/internal/models"
	"github.com/mossy-p/stream-relay/internal/transport"
)

// Room holds at most one host and any number of viewers for a stream.
type Room struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	host    transport.Peer
	viewers map[string]transport.Peer
	closed  bool
}

func newRoom(id string, createdAt time.Time) *Room {
	return &Room{
		id:        id,
		createdAt: createdAt,
		viewers:   make(map[string]transport.Peer),
	}
}

func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Evict closes the room to new joins and returns every member.
func (r *Room) Evict() []transport.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	members := make([]transport.Peer, 0, len(r.viewers)+1)
	if r.host != nil {
		members = append(members, r.host)
		r.host = nil
	}
	for _, v := range r.viewers {
		members = append(members, v)
	}
	r.viewers = make(map[string]transport.Peer)
	return members
}

func (r *Room) isHost(p transport.Peer) bool {
	return r.host != nil && r.host.ID() == p.ID()
}

func (r *Room) isViewer(viewerID string, p transport.Peer) bool {
	v, ok := r.viewers[viewerID]
	return ok && v.ID() == p.ID()
}

func (r *Room) detail(now time.Time) models.StreamDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.StreamDetail{
		StreamID:    r.id,
		HasHost:     r.host != nil,
		ViewerCount: len(r.viewers),
		Uptime:      now.Sub(r.createdAt).Milliseconds(),
	}
}
