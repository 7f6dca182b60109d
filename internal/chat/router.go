// Package chat relays text messages among every participant of a stream's
// chat room and announces occupancy after each message.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/mossy-p/stream-relay/internal/metrics"
	"github.com/mossy-p/stream-relay/internal/models"
	"github.com/mossy-p/stream-relay/internal/registry"
	"github.com/mossy-p/stream-relay/internal/rooms"
	"github.com/mossy-p/stream-relay/internal/transport"
)

const (
	ReasonRoomTimeout = "Room timeout"

	systemUserID   = "system"
	systemUsername = "System"

	maxJoinAttempts = 100
)

var errMalformed = errors.New("malformed chat message")

type Router struct {
	store    *rooms.Store[*Room]
	conns    *registry.Registry
	presence rooms.Presence
	metrics  *metrics.Metrics
	log      *slog.Logger
}

type Option func(*routerOptions)

type routerOptions struct {
	presence rooms.Presence
	metrics  *metrics.Metrics
	clock    func() time.Time
}

func WithPresence(p rooms.Presence) Option {
	return func(o *routerOptions) { o.presence = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *routerOptions) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *routerOptions) { o.clock = now }
}

func New(logger *slog.Logger, opts ...Option) *Router {
	o := routerOptions{presence: rooms.NopPresence{}, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.With("relay", metrics.RelayChat)
	return &Router{
		store: rooms.NewStore(metrics.RelayChat, newRoom, log,
			rooms.WithClock(o.clock),
			rooms.WithRemoveHook(o.presence.Closed),
		),
		conns:    registry.New(),
		presence: o.presence,
		metrics:  o.metrics,
		log:      log,
	}
}

func (r *Router) Store() *rooms.Store[*Room] { return r.store }

// Join records that peer belongs to streamID's chat. The room itself is
// created by the connection's first valid message.
func (r *Router) Join(peer transport.Peer, streamID string) (registry.Identity, error) {
	id := registry.Identity{StreamID: streamID, Role: registry.RoleParticipant}
	r.conns.Register(peer.ID(), id)
	r.metrics.Connected(metrics.RelayChat, string(id.Role))
	r.log.Info("chat.connected", "stream_id", streamID, "conn_id", peer.ID())
	return id, nil
}

// inbound uses pointers so a missing field can be told from an empty one.
type inbound struct {
	UserID   *string          `json:"userId"`
	Username *string          `json:"username"`
	Content  *string          `json:"content"`
	Type     *models.ChatType `json:"type"`
	StreamID *string          `json:"streamId"`
}

func parse(raw []byte) (inbound, error) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	if msg.UserID == nil || msg.Username == nil || msg.Content == nil || msg.StreamID == nil || msg.Type == nil {
		return msg, errMalformed
	}
	switch *msg.Type {
	case models.ChatTypeChat, models.ChatTypeSystem:
		return msg, nil
	}
	return msg, fmt.Errorf("%w: type %q", errMalformed, *msg.Type)
}

// HandleMessage validates one frame, binds its userId to peer if the room has
// not seen that id yet, broadcasts the frame verbatim and then broadcasts the
// new occupancy.
func (r *Router) HandleMessage(peer transport.Peer, raw []byte) {
	id, ok := r.conns.Lookup(peer.ID())
	if !ok {
		r.metrics.Dropped(metrics.RelayChat, metrics.DropUnregistered)
		r.log.Debug("chat.drop.unregistered", "conn_id", peer.ID())
		return
	}

	msg, err := parse(raw)
	if err != nil {
		r.metrics.Dropped(metrics.RelayChat, metrics.DropMalformed)
		r.log.Debug("chat.drop.malformed", "stream_id", id.StreamID, "conn_id", peer.ID(), "err", err)
		return
	}

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, _ := r.store.GetOrCreate(id.StreamID)
		if r.deliver(room, peer, id, msg, raw) {
			return
		}
		runtime.Gosched()
	}
	r.log.Warn("chat.drop.room_closed", "stream_id", id.StreamID, "user_id", *msg.UserID)
}

// deliver reports false when room was evicted before the lock was taken.
func (r *Router) deliver(room *Room, peer transport.Peer, id registry.Identity, msg inbound, raw []byte) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return false
	}

	userID := *msg.UserID
	if _, known := room.participants[userID]; !known {
		room.participants[userID] = peer
		r.conns.Bind(peer.ID(), userID)
		r.presence.Joined(id.StreamID, userID)
		r.log.Info("chat.user_joined", "stream_id", id.StreamID, "user_id", userID, "username", *msg.Username, "users", len(room.participants))
	}

	r.log.Debug("chat.message", "stream_id", id.StreamID, "user_id", userID, "type", *msg.Type)
	r.broadcast(room, raw, string(*msg.Type))
	r.announce(room)
	return true
}

// Leave removes every user id peer spoke for. The room is deleted once empty;
// otherwise the remaining participants get the new occupancy.
func (r *Router) Leave(peer transport.Peer) {
	id, ok := r.conns.Remove(peer.ID())
	if !ok {
		return
	}
	room, ok := r.store.Get(id.StreamID)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return
	}
	removed := room.removeConn(peer)
	if len(removed) == 0 {
		return
	}
	for _, userID := range removed {
		r.presence.Left(id.StreamID, userID)
	}
	r.log.Info("chat.user_left", "stream_id", id.StreamID, "user_ids", removed, "users", len(room.participants))

	if len(room.participants) == 0 {
		room.closed = true
		r.store.DeleteIf(id.StreamID, room)
		return
	}
	r.announce(room)
}

// Stats reports chat rooms, user totals and per-room details.
func (r *Router) Stats() models.ChatStats {
	now := r.store.Now()
	snapshot := r.store.Snapshot()

	stats := models.ChatStats{RoomDetails: make([]models.ChatDetail, 0, len(snapshot))}
	for _, room := range snapshot {
		d := room.detail(now)
		stats.TotalUsers += d.UserCount
		stats.RoomDetails = append(stats.RoomDetails, d)
	}
	stats.ActiveRooms = len(stats.RoomDetails)
	sort.Slice(stats.RoomDetails, func(i, j int) bool { return stats.RoomDetails[i].StreamID < stats.RoomDetails[j].StreamID })
	return stats
}

func (r *Router) Participants() int {
	return r.Stats().TotalUsers
}

// Shutdown closes every room and its members.
func (r *Router) Shutdown(reason string) int {
	return r.store.CloseAll(reason)
}

// OccupancyText renders the user count the way the system message shows it.
func OccupancyText(n int) string {
	if n == 1 {
		return "1 user in chat"
	}
	return fmt.Sprintf("%d users in chat", n)
}

// announce broadcasts the room's occupancy. Callers hold room.mu.
func (r *Router) announce(room *Room) {
	raw, err := json.Marshal(models.ChatMessage{
		UserID:    systemUserID,
		Username:  systemUsername,
		Content:   OccupancyText(len(room.participants)),
		Timestamp: models.FormatTimestamp(r.store.Now()),
		Type:      models.ChatTypeSystem,
		StreamID:  room.id,
	})
	if err != nil {
		r.log.Error("chat.encode_failed", "stream_id", room.id, "err", err)
		return
	}
	r.broadcast(room, raw, string(models.ChatTypeSystem))
}

// broadcast sends raw to every connection in room. Callers hold room.mu.
func (r *Router) broadcast(room *Room, raw []byte, msgType string) {
	failed := 0
	for _, p := range room.conns() {
		if err := p.Send(raw); err != nil {
			failed++
			r.metrics.SendFailed(metrics.RelayChat)
			r.log.Warn("chat.send_failed", "stream_id", room.id, "conn_id", p.ID(), "type", msgType, "err", err)
			continue
		}
		r.metrics.Forwarded(metrics.RelayChat, msgType)
	}
	if failed > 0 {
		r.log.Debug("chat.broadcast", "stream_id", room.id, "type", msgType, "failed", failed)
	}
}
