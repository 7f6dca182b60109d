// Package transporttest provides an in-memory transport.Peer for router tests.
package transporttest

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/mossy-p/stream-relay/internal/transport"
)

// Peer records every frame it is sent and the close it receives.
type Peer struct {
	id string

	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	closeReason string
	failSends   bool
}

func NewPeer(id string) *Peer {
	return &Peer{id: id}
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	if p.failSends {
		return transport.ErrBufferFull
	}
	p.frames = append(p.frames, append([]byte(nil), msg...))
	return nil
}

func (p *Peer) Close(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.closeCode = code
	p.closeReason = reason
	return nil
}

// FailSends makes every later Send report a full buffer.
func (p *Peer) FailSends() {
	p.mu.Lock()
	p.failSends = true
	p.mu.Unlock()
}

func (p *Peer) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

// Reset forgets recorded frames.
func (p *Peer) Reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// Closed returns the close code and reason, if any.
func (p *Peer) Closed() (bool, int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.closeCode, p.closeReason
}

// Decode unmarshals every recorded frame into T.
func Decode[T any](t testing.TB, p *Peer) []T {
	t.Helper()
	frames := p.Frames()
	out := make([]T, 0, len(frames))
	for _, f := range frames {
		var v T
		if err := json.Unmarshal(f, &v); err != nil {
			t.Fatalf("peer %s: decode %q: %v", p.id, f, err)
		}
		out = append(out, v)
	}
	return out
}
