// Package registry implements the Supervisor Registry (§4.6, C6): an
// in-memory map from session id to a handle that can stop it, probe
// it, and snapshot its stats, with O(1) mutex-guarded critical
// sections. Grounded in internal/udp_session_manager.go's
// mutex-guarded map and internal/lb.go's pool-locking discipline.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"

	"mcc/internal/bridge"
	"mcc/internal/session"
)

// runner is the subset of *bridge.Bridge the Registry drives. Declared
// as an interface so registry_test.go can supply a lightweight fake
// instead of wiring a full Bridge + transport + WebSocket pair.
type runner interface {
	Run(ctx context.Context) error
	Done() <-chan struct{}
	State() bridge.State
	Stats() session.Snapshot
	TriggerPing(ctx context.Context) error
}

// handle is what the Registry keeps per session.
type handle struct {
	id     string
	b      runner
	cancel context.CancelFunc
	stopOnce sync.Once
	// removed is closed once this handle's entry has been deleted from
	// the Registry's map, strictly after b.Run returns. Stop waits on
	// this (not just Done()) so it never returns while the id is still
	// present in the map.
	removed chan struct{}
}

// Registry tracks every live session by id.
type Registry struct {
	mu sync.Mutex
	m  map[string]*handle
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{m: make(map[string]*handle)}
}

// ErrUnknownSession is returned by any operation naming an id the
// Registry has never seen or has already forgotten.
type ErrUnknownSession struct{ ID string }

func (e *ErrUnknownSession) Error() string { return fmt.Sprintf("registry: unknown session %q", e.ID) }

// Start registers b under id and launches it, returning as soon as the
// handle is recorded (§4.6 "returns as soon as the Acceptor has bound /
// the handshake is in flight" — by the time a Bridge reaches Start, the
// handshake has already completed, so this call returns immediately
// after spawning Run in its own goroutine).
func (r *Registry) Start(id string, b runner) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{id: id, b: b, cancel: cancel, removed: make(chan struct{})}

	r.mu.Lock()
	r.m[id] = h
	r.mu.Unlock()

	go func() {
		if err := b.Run(ctx); err != nil {
			log.Printf("registry: session %s closed with error: %v", id, err)
		}
		r.mu.Lock()
		delete(r.m, id)
		r.mu.Unlock()
		close(h.removed)
	}()
}

// Stop is idempotent (§4.6): it triggers cooperative cancellation and
// blocks until the session reaches Closed. Calling Stop on an unknown
// id is a no-op, matching "idempotent" — a session that already
// finished and was reaped looks the same as one that never existed.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	h := r.m[id]
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	h.stopOnce.Do(h.cancel)
	<-h.removed
	return nil
}

// TriggerPing enqueues one manual PING (§4.6); no-op (via
// bridge.ErrNotEstablished) if the session isn't Established yet.
func (r *Registry) TriggerPing(ctx context.Context, id string) error {
	r.mu.Lock()
	h := r.m[id]
	r.mu.Unlock()
	if h == nil {
		return &ErrUnknownSession{ID: id}
	}
	return h.b.TriggerPing(ctx)
}

// IsRunning reports whether id is still tracked (i.e. not Closed and
// reaped).
func (r *Registry) IsRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.m[id]
	return ok
}

// SnapshotStats returns the latest stats for id (§4.6).
func (r *Registry) SnapshotStats(id string) (session.Snapshot, error) {
	r.mu.Lock()
	h := r.m[id]
	r.mu.Unlock()
	if h == nil {
		return session.Snapshot{}, &ErrUnknownSession{ID: id}
	}
	return h.b.Stats(), nil
}

// Len reports how many sessions are currently tracked. Mainly useful
// for tests and the /metrics endpoint's active-session gauge.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
