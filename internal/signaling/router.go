// Package signaling relays WebRTC negotiation messages between the single
// host of a stream and its viewers. Payloads are forwarded, never parsed.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/stream-relay/internal/metrics"
	"github.com/mossy-p/stream-relay/internal/models"
	"github.com/mossy-p/stream-relay/internal/registry"
	"github.com/mossy-p/stream-relay/internal/rooms"
	"github.com/mossy-p/stream-relay/internal/transport"
)

const (
	ReasonHostDisconnected = "Host disconnected"
	ReasonStreamTimeout    = "Stream timeout"

	maxJoinAttempts = 100
)

type Router struct {
	store    *rooms.Store[*Room]
	conns    *registry.Registry
	presence rooms.Presence
	metrics  *metrics.Metrics
	log      *slog.Logger
	newID    func() string
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

	log := logger.With("relay", metrics.RelaySignaling)
	presence := o.presence
	return &Router{
		store: rooms.NewStore(metrics.RelaySignaling, newRoom, log,
			rooms.WithClock(o.clock),
			rooms.WithRemoveHook(presence.Closed),
		),
		conns:    registry.New(),
		presence: presence,
		metrics:  o.metrics,
		log:      log,
		newID:    func() string { return uuid.New().String() },
	}
}

// Store exposes the room store to the janitor.
func (r *Router) Store() *rooms.Store[*Room] { return r.store }

// Join places peer in the room for streamID. The first peer of a room becomes
// its host; everyone after that is a viewer with a fresh participant id, and
// the host is told about them.
func (r *Router) Join(peer transport.Peer, streamID string) (registry.Identity, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, _ := r.store.GetOrCreate(streamID)
		id, err := r.join(room, peer, streamID)
		if errors.Is(err, rooms.ErrRoomClosed) {
			// Lost a race with an eviction; the store drops the room shortly.
			runtime.Gosched()
			continue
		}
		if err != nil {
			return registry.Identity{}, err
		}
		r.conns.Register(peer.ID(), id)
		r.metrics.Connected(metrics.RelaySignaling, string(id.Role))
		return id, nil
	}
	return registry.Identity{}, fmt.Errorf("join stream %s: %w", streamID, rooms.ErrRoomClosed)
}

func (r *Router) join(room *Room, peer transport.Peer, streamID string) (registry.Identity, error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return registry.Identity{}, rooms.ErrRoomClosed
	}

	if room.host == nil {
		room.host = peer
		r.presence.Joined(streamID, "host")
		r.log.Info("signal.host_connected", "stream_id", streamID, "conn_id", peer.ID())
		return registry.Identity{StreamID: streamID, Role: registry.RoleHost}, nil
	}

	viewerID := r.newID()
	for _, taken := room.viewers[viewerID]; taken; _, taken = room.viewers[viewerID] {
		viewerID = r.newID()
	}
	room.viewers[viewerID] = peer
	r.presence.Joined(streamID, viewerID)
	r.log.Info("signal.viewer_connected", "stream_id", streamID, "viewer_id", viewerID, "viewers", len(room.viewers))

	r.notify(room.host, models.SignalMessage{
		Type:     models.SignalTypeViewerConnected,
		StreamID: streamID,
		ViewerID: viewerID,
	})
	return registry.Identity{StreamID: streamID, Role: registry.RoleViewer, ParticipantID: viewerID}, nil
}

// HandleMessage routes one inbound frame from peer. Malformed frames and
// frames with nowhere to go are dropped; the sender is never told.
func (r *Router) HandleMessage(peer transport.Peer, raw []byte) {
	id, ok := r.conns.Lookup(peer.ID())
	if !ok {
		r.metrics.Dropped(metrics.RelaySignaling, metrics.DropUnregistered)
		r.log.Debug("signal.drop.unregistered", "conn_id", peer.ID())
		return
	}

	switch id.Role {
	case registry.RoleHost:
		r.fromHost(peer, id, raw)
	case registry.RoleViewer:
		r.fromViewer(peer, id, raw)
	}
}

func (r *Router) fromHost(peer transport.Peer, id registry.Identity, raw []byte) {
	var msg models.SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.drop(id, metrics.DropMalformed, "", "err", err)
		return
	}
	if msg.Type == "" || msg.StreamID == "" {
		r.drop(id, metrics.DropMalformed, msg.Type, "reason", "missing type or streamId")
		return
	}
	if !msg.Type.Valid() {
		r.drop(id, metrics.DropUnknownType, msg.Type)
		return
	}

	room, ok := r.store.Get(id.StreamID)
	if !ok {
		r.drop(id, metrics.DropNoRoute, msg.Type)
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isHost(peer) {
		r.drop(id, metrics.DropNoRoute, msg.Type, "reason", "stale host")
		return
	}

	r.log.Debug("signal.host_message", "stream_id", id.StreamID, "type", msg.Type, "viewer_id", msg.ViewerID)

	if msg.ViewerID != "" {
		viewer, ok := room.viewers[msg.ViewerID]
		if !ok {
			r.drop(id, metrics.DropNoRoute, msg.Type, "target_viewer_id", msg.ViewerID)
			return
		}
		r.send(viewer, raw, id.StreamID, msg.Type)
		return
	}
	for _, viewer := range room.viewers {
		r.send(viewer, raw, id.StreamID, msg.Type)
	}
}

func (r *Router) fromViewer(peer transport.Peer, id registry.Identity, raw []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		r.drop(id, metrics.DropMalformed, "", "err", err)
		return
	}
	var msgType models.SignalType
	if t, ok := fields["type"]; !ok || json.Unmarshal(t, &msgType) != nil || msgType == "" {
		r.drop(id, metrics.DropMalformed, "", "reason", "missing type")
		return
	}
	if !msgType.Valid() {
		r.drop(id, metrics.DropUnknownType, msgType)
		return
	}

	// The sender's own identity always wins over whatever it claimed.
	fields["viewerId"], _ = json.Marshal(id.ParticipantID)
	fields["streamId"], _ = json.Marshal(id.StreamID)
	out, err := json.Marshal(fields)
	if err != nil {
		r.drop(id, metrics.DropMalformed, msgType, "err", err)
		return
	}

	room, ok := r.store.Get(id.StreamID)
	if !ok {
		r.drop(id, metrics.DropNoRoute, msgType)
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isViewer(id.ParticipantID, peer) || room.host == nil {
		r.drop(id, metrics.DropNoRoute, msgType)
		return
	}
	r.log.Debug("signal.viewer_message", "stream_id", id.StreamID, "viewer_id", id.ParticipantID, "type", msgType)
	r.send(room.host, out, id.StreamID, msgType)
}

// Leave runs the close path for peer. A departing host ends the stream.
func (r *Router) Leave(peer transport.Peer) {
	id, ok := r.conns.Remove(peer.ID())
	if !ok {
		return
	}
	room, ok := r.store.Get(id.StreamID)
	if !ok {
		return
	}

	switch id.Role {
	case registry.RoleHost:
		r.hostLeft(room, peer, id.StreamID)
	case registry.RoleViewer:
		r.viewerLeft(room, peer, id)
	}
}

func (r *Router) hostLeft(room *Room, peer transport.Peer, streamID string) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || !room.isHost(peer) {
		return
	}
	room.closed = true
	room.host = nil
	viewers := room.viewers
	room.viewers = make(map[string]transport.Peer)

	r.log.Info("signal.host_disconnected", "stream_id", streamID, "viewers", len(viewers))

	data, _ := json.Marshal(models.DisconnectReason{Reason: ReasonHostDisconnected})
	notice := models.SignalMessage{
		Type:     models.SignalTypeViewerDisconnected,
		StreamID: streamID,
		Data:     data,
	}
	for viewerID, viewer := range viewers {
		r.notify(viewer, notice)
		if err := viewer.Close(websocket.CloseNormalClosure, ReasonHostDisconnected); err != nil {
			r.log.Warn("signal.viewer_close_failed", "stream_id", streamID, "viewer_id", viewerID, "err", err)
		}
	}

	r.store.DeleteIf(streamID, room)
}

func (r *Router) viewerLeft(room *Room, peer transport.Peer, id registry.Identity) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.isViewer(id.ParticipantID, peer) {
		return
	}
	delete(room.viewers, id.ParticipantID)
	r.presence.Left(id.StreamID, id.ParticipantID)
	r.log.Info("signal.viewer_disconnected", "stream_id", id.StreamID, "viewer_id", id.ParticipantID, "viewers", len(room.viewers))

	if room.host != nil {
		r.notify(room.host, models.SignalMessage{
			Type:     models.SignalTypeViewerDisconnected,
			StreamID: id.StreamID,
			ViewerID: id.ParticipantID,
		})
		return
	}
	if len(room.viewers) == 0 {
		room.closed = true
		r.store.DeleteIf(id.StreamID, room)
	}
}

// Stats reports active streams, viewer totals and per-stream details.
func (r *Router) Stats() models.StreamStats {
	now := r.store.Now()
	snapshot := r.store.Snapshot()

	stats := models.StreamStats{Streams: make([]models.StreamDetail, 0, len(snapshot))}
	for _, room := range snapshot {
		d := room.detail(now)
		stats.TotalViewers += d.ViewerCount
		stats.Streams = append(stats.Streams, d)
	}
	stats.ActiveStreams = len(stats.Streams)
	sort.Slice(stats.Streams, func(i, j int) bool { return stats.Streams[i].StreamID < stats.Streams[j].StreamID })
	return stats
}

// Participants counts hosts and viewers across every stream.
func (r *Router) Participants() int {
	total := 0
	for _, d := range r.Stats().Streams {
		total += d.ViewerCount
		if d.HasHost {
			total++
		}
	}
	return total
}

// Shutdown closes every room and its members.
func (r *Router) Shutdown(reason string) int {
	return r.store.CloseAll(reason)
}

func (r *Router) notify(to transport.Peer, msg models.SignalMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("signal.encode_failed", "stream_id", msg.StreamID, "type", msg.Type, "err", err)
		return
	}
	r.send(to, raw, msg.StreamID, msg.Type)
}

func (r *Router) send(to transport.Peer, raw []byte, streamID string, msgType models.SignalType) {
	if err := to.Send(raw); err != nil {
		r.metrics.SendFailed(metrics.RelaySignaling)
		r.log.Warn("signal.send_failed", "stream_id", streamID, "conn_id", to.ID(), "type", msgType, "err", err)
		return
	}
	r.metrics.Forwarded(metrics.RelaySignaling, string(msgType))
}

func (r *Router) drop(id registry.Identity, reason string, msgType models.SignalType, attrs ...any) {
	r.metrics.Dropped(metrics.RelaySignaling, reason)
	args := append([]any{
		"stream_id", id.StreamID,
		"role", id.Role,
		"viewer_id", id.ParticipantID,
		"type", msgType,
		"drop", reason,
	}, attrs...)
	r.log.Warn("signal.drop", args...)
}
