package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu   sync.Mutex
	sets map[string]map[string]bool
	ttls map[string]time.Duration
	ops  []string
	fail bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: map[string]map[string]bool{}, ttls: map[string]time.Duration{}}
}

var errDown = errors.New("redis down")

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return redis.NewIntResult(0, errDown)
	}
	if f.sets[key] == nil {
		f.sets[key] = map[string]bool{}
	}
	for _, m := range members {
		f.sets[key][fmt.Sprint(m)] = true
	}
	f.ops = append(f.ops, "sadd "+key)
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], fmt.Sprint(m))
	}
	f.ops = append(f.ops, "srem "+key)
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.sets, k)
		delete(f.ttls, k)
		f.ops = append(f.ops, "del "+k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = ttl
	f.ops = append(f.ops, "expire "+key)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) snapshot() (map[string]int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := map[string]int{}
	for k, s := range f.sets {
		sizes[k] = len(s)
	}
	return sizes, len(f.ops)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMirrorAppliesEvents(t *testing.T) {
	fake := newFakeRedis()
	m := NewMirror(fake, ChatKey, time.Hour, 16, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Joined("s1", "alice")
	m.Joined("s1", "bob")
	m.Left("s1", "alice")

	waitFor(t, func() bool { _, n := fake.snapshot(); return n == 5 })
	sizes, _ := fake.snapshot()
	if sizes["chat:s1:users"] != 1 {
		t.Fatalf("set sizes=%v", sizes)
	}
	fake.mu.Lock()
	ttl := fake.ttls["chat:s1:users"]
	fake.mu.Unlock()
	if ttl != time.Hour {
		t.Fatalf("ttl=%v, want 1h", ttl)
	}

	m.Closed("s1")
	waitFor(t, func() bool { s, _ := fake.snapshot(); _, ok := s["chat:s1:users"]; return !ok })
}

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	m := NewMirror(newFakeRedis(), SignalingKey, 0, 2, discard())
	for i := 0; i < 5; i++ {
		m.Joined("s1", fmt.Sprintf("v%d", i))
	}
	if got := m.Dropped(); got != 3 {
		t.Fatalf("dropped=%d, want 3", got)
	}
}

func TestMirrorSurvivesCommandErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.fail = true
	m := NewMirror(fake, SignalingKey, time.Minute, 8, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Joined("s1", "v1")
	m.Closed("s1")
	waitFor(t, func() bool { _, n := fake.snapshot(); return n == 1 })

	fake.mu.Lock()
	op := fake.ops[0]
	fake.mu.Unlock()
	if op != "del stream:s1:viewers" {
		t.Fatalf("ops=%v", op)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := NewMirror(newFakeRedis(), ChatKey, 0, 1, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
