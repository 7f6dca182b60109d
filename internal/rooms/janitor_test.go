package rooms

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type panickySweeper struct{}

func (panickySweeper) Name() string                    { return "panicky" }
func (panickySweeper) Sweep(time.Duration, string) int { panic("sweep failed") }

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) Name() string { return "counting" }
func (c *countingSweeper) Sweep(time.Duration, string) int {
	c.calls.Add(1)
	return 2
}

func TestJanitorSweepOnceSurvivesPanics(t *testing.T) {
	counting := &countingSweeper{}
	j := NewJanitor(time.Minute, discardLogger(),
		Target{Store: panickySweeper{}, MaxAge: time.Minute, Reason: "Stream timeout"},
		Target{Store: counting, MaxAge: time.Minute, Reason: "Room timeout"},
	)

	var reported []string
	j.OnSweep(func(store string, swept int) {
		reported = append(reported, store)
	})

	if n := j.SweepOnce(); n != 2 {
		t.Fatalf("swept=%d, want 2", n)
	}
	if counting.calls.Load() != 1 {
		t.Fatalf("second target not swept")
	}
	if len(reported) != 1 || reported[0] != "counting" {
		t.Fatalf("OnSweep reports=%v", reported)
	}
}

func TestJanitorRunTicksUntilCancelled(t *testing.T) {
	counting := &countingSweeper{}
	j := NewJanitor(10*time.Millisecond, discardLogger(), Target{Store: counting, MaxAge: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for counting.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("janitor did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop")
	}
}

func TestJanitorSweepsRealStore(t *testing.T) {
	t0 := time.Now()
	clock := &fakeClock{now: t0}
	s := newTestStore(WithClock(clock.Now))
	s.GetOrCreate("old")

	j := NewJanitor(time.Minute, discardLogger(), Target{Store: s, MaxAge: 30 * time.Minute, Reason: "Stream timeout"})

	clock.Set(t0.Add(29 * time.Minute))
	if n := j.SweepOnce(); n != 0 {
		t.Fatalf("swept=%d before timeout", n)
	}
	clock.Set(t0.Add(31 * time.Minute))
	if n := j.SweepOnce(); n != 1 {
		t.Fatalf("swept=%d, want 1", n)
	}
}
