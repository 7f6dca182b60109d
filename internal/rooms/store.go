// Package rooms owns room lifecycle for both relays: lazy creation, eager
// deletion and age-based eviction.
package rooms

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/stream-relay/internal/transport"
)

var ErrRoomClosed = errors.New("room closed")

// Room is implemented by the signaling and chat room types. Evict must mark
// the room closed so later joins fail with ErrRoomClosed, and hand back every
// member so the store can close them.
type Room interface {
	comparable
	CreatedAt() time.Time
	Evict() []transport.Peer
}

type Option func(*options)

type options struct {
	now      func() time.Time
	onRemove func(id string)
}

// WithClock replaces time.Now for room creation and age checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRemoveHook is called after a room leaves the store, for any reason.
func WithRemoveHook(fn func(id string)) Option {
	return func(o *options) { o.onRemove = fn }
}

// Store maps room ids to rooms. The store mutex only guards the map; each
// room guards its own membership. When both are held the room lock is taken
// first.
type Store[R Room] struct {
	name    string
	newRoom func(id string, createdAt time.Time) R
	opts    options
	log     *slog.Logger

	mu    sync.Mutex
	rooms map[string]R
}

func NewStore[R Room](name string, newRoom func(id string, createdAt time.Time) R, logger *slog.Logger, opts ...Option) *Store[R] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[R]{
		name:    name,
		newRoom: newRoom,
		opts:    o,
		log:     logger.With("store", name),
		rooms:   make(map[string]R),
	}
}

func (s *Store[R]) Name() string { return s.name }

// Now is the store's clock.
func (s *Store[R]) Now() time.Time { return s.opts.now() }

// GetOrCreate returns the room for id, inserting an empty one if needed.
func (s *Store[R]) GetOrCreate(id string) (R, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		return room, false
	}
	room := s.newRoom(id, s.opts.now())
	s.rooms[id] = room
	s.log.Debug("room.created", "room_id", id)
	return room, true
}

func (s *Store[R]) Get(id string) (R, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	return room, ok
}

// Delete removes id. Deleting an absent room is a no-op.
func (s *Store[R]) Delete(id string) {
	s.mu.Lock()
	_, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if ok {
		s.removed(id)
	}
}

// DeleteIf removes id only while it still maps to room, so a successor room
// created under the same id survives a late cleanup of its predecessor.
func (s *Store[R]) DeleteIf(id string, room R) bool {
	s.mu.Lock()
	current, ok := s.rooms[id]
	if !ok || current != room {
		s.mu.Unlock()
		return false
	}
	delete(s.rooms, id)
	s.mu.Unlock()

	s.removed(id)
	return true
}

func (s *Store[R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Snapshot copies the id→room map for read-only inspection.
func (s *Store[R]) Snapshot() map[string]R {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]R, len(s.rooms))
	for id, room := range s.rooms {
		out[id] = room
	}
	return out
}

// Sweep evicts every room older than maxAge, closing its members with
// reason. It returns the number of rooms evicted.
func (s *Store[R]) Sweep(maxAge time.Duration, reason string) int {
	now := s.opts.now()

	s.mu.Lock()
	expired := make(map[string]R)
	for id, room := range s.rooms {
		if now.Sub(room.CreatedAt()) > maxAge {
			expired[id] = room
		}
	}
	s.mu.Unlock()

	swept := 0
	for id, room := range expired {
		if s.evict(id, room, reason) {
			swept++
		}
	}
	return swept
}

// CloseAll evicts every room. Used on shutdown.
func (s *Store[R]) CloseAll(reason string) int {
	closed := 0
	for id, room := range s.Snapshot() {
		if s.evict(id, room, reason) {
			closed++
		}
	}
	return closed
}

func (s *Store[R]) evict(id string, room R, reason string) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("room.evict.panic", "room_id", id, "panic", p)
			ok = false
		}
	}()

	members := room.Evict()
	s.DeleteIf(id, room)

	for _, m := range members {
		if err := m.Close(websocket.CloseNormalClosure, reason); err != nil {
			s.log.Warn("room.evict.close_failed", "room_id", id, "conn_id", m.ID(), "err", err)
		}
	}
	s.log.Info("room.evicted", "room_id", id, "members", len(members), "reason", reason)
	return true
}

func (s *Store[R]) removed(id string) {
	if s.opts.onRemove != nil {
		s.opts.onRemove(id)
	}
}
