package rooms

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is the part of a Store the janitor needs.
type Sweeper interface {
	Name() string
	Sweep(maxAge time.Duration, reason string) int
}

// Target is one store swept by the janitor.
type Target struct {
	Store  Sweeper
	MaxAge time.Duration
	Reason string
}

// Janitor periodically evicts rooms that outlived their maximum age.
type Janitor struct {
	interval time.Duration
	targets  []Target
	log      *slog.Logger
	onSweep  func(store string, swept int)
}

func NewJanitor(interval time.Duration, logger *slog.Logger, targets ...Target) *Janitor {
	return &Janitor{
		interval: interval,
		targets:  targets,
		log:      logger,
	}
}

// OnSweep registers a callback invoked after each store sweep.
func (j *Janitor) OnSweep(fn func(store string, swept int)) {
	j.onSweep = fn
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.Info("janitor.started", "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			j.log.Info("janitor.stopped")
			return
		case <-ticker.C:
			j.SweepOnce()
		}
	}
}

// SweepOnce runs a single pass over every target. A failing target is logged
// and skipped.
func (j *Janitor) SweepOnce() int {
	total := 0
	for _, t := range j.targets {
		total += j.sweep(t)
	}
	return total
}

func (j *Janitor) sweep(t Target) (swept int) {
	defer func() {
		if p := recover(); p != nil {
			j.log.Error("janitor.sweep.panic", "store", t.Store.Name(), "panic", p)
			swept = 0
		}
	}()

	swept = t.Store.Sweep(t.MaxAge, t.Reason)
	if swept > 0 {
		j.log.Info("janitor.swept", "store", t.Store.Name(), "rooms", swept)
	}
	if j.onSweep != nil {
		j.onSweep(t.Store.Name(), swept)
	}
	return swept
}
