// Package redis mirrors room membership into Redis sets so other services can
// see who is live without talking to the relay.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key formats for the two relays' membership sets.
const (
	SignalingKey = "stream:%s:viewers"
	ChatKey      = "chat:%s:users"
)

const (
	defaultQueueSize = 1024
	opTimeout        = 2 * time.Second
)

// Commander is the subset of redis.Cmdable the mirror uses.
type Commander interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type eventKind int

const (
	eventJoined eventKind = iota
	eventLeft
	eventClosed
)

type event struct {
	kind   eventKind
	room   string
	member string
}

// Mirror implements rooms.Presence. Events are queued without blocking the
// caller and applied by Run; when the queue is full they are dropped.
type Mirror struct {
	cmd    Commander
	keyFmt string
	ttl    time.Duration
	events chan event
	log    *slog.Logger

	dropped atomic.Int64
}

func NewMirror(cmd Commander, keyFmt string, ttl time.Duration, queueSize int, logger *slog.Logger) *Mirror {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Mirror{
		cmd:    cmd,
		keyFmt: keyFmt,
		ttl:    ttl,
		events: make(chan event, queueSize),
		log:    logger.With("mirror", keyFmt),
	}
}

func (m *Mirror) Joined(room, member string) { m.enqueue(event{eventJoined, room, member}) }
func (m *Mirror) Left(room, member string)   { m.enqueue(event{eventLeft, room, member}) }
func (m *Mirror) Closed(room string)         { m.enqueue(event{kind: eventClosed, room: room}) }

// Dropped counts events discarded because the queue was full.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

func (m *Mirror) enqueue(e event) {
	select {
	case m.events <- e:
	default:
		m.dropped.Add(1)
		m.log.Warn("presence.queue_full", "room_id", e.room, "member", e.member)
	}
}

// Run applies queued events until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.events:
			if err := m.apply(ctx, e); err != nil {
				m.log.Warn("presence.apply_failed", "room_id", e.room, "member", e.member, "err", err)
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, e event) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := fmt.Sprintf(m.keyFmt, e.room)
	switch e.kind {
	case eventJoined:
		if err := m.cmd.SAdd(ctx, key, e.member).Err(); err != nil {
			return err
		}
		if m.ttl > 0 {
			return m.cmd.Expire(ctx, key, m.ttl).Err()
		}
		return nil
	case eventLeft:
		return m.cmd.SRem(ctx, key, e.member).Err()
	case eventClosed:
		return m.cmd.Del(ctx, key).Err()
	}
	return fmt.Errorf("unknown presence event %d", e.kind)
}
