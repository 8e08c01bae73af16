package bridge

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"mcc/internal/frame"
)

// prober runs the liveness probing described in §4.4: a PING every
// pingPeriod, a PING_TIMEOUT watchdog (default 3×pingPeriod) that
// fails the session if no matching PONG arrives, and a manual
// TriggerPing bypassing the schedule. Grounded in the teacher's
// internal/warm_standby.go wsAliveCheck, generalized from a one-shot
// staleness probe into a recurring liveness monitor.
type prober struct {
	w       *writer
	period  time.Duration
	timeout time.Duration
	onTimeout func()

	mu      sync.Mutex
	pending uint64
	sentAt  time.Time
	watchdog *time.Timer

	lastRTTMs uint32
}

func newProber(w *writer, period, timeout time.Duration, onTimeout func()) *prober {
	return &prober{w: w, period: period, timeout: timeout, onTimeout: onTimeout}
}

// run drives the periodic ping schedule until ctx is done. A
// non-positive period disables active probing (§9 Open Question
// decision, recorded in DESIGN.md).
func (p *prober) run(ctx context.Context) {
	if p.period <= 0 {
		return
	}
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.send(ctx)
		}
	}
}

// TriggerPing sends one probe immediately, outside the regular
// schedule (§4.6 trigger_ping).
func (p *prober) TriggerPing(ctx context.Context) error {
	return p.send(ctx)
}

func (p *prober) send(ctx context.Context) error {
	nonce := randomNonce()
	now := nowMs()

	p.mu.Lock()
	p.pending = nonce
	p.sentAt = time.Now()
	if p.timeout > 0 && p.watchdog == nil {
		p.watchdog = time.AfterFunc(p.timeout, p.fireTimeout)
	}
	p.mu.Unlock()

	return p.w.sendControl(ctx, frame.Frame{Kind: frame.KindPing, Nonce: nonce, TSendMs: now})
}

// handlePong processes an inbound PONG, clearing the watchdog and
// recording RTT if the nonce matches the most recent outstanding PING.
// A mismatched or stale PONG is ignored rather than treated as a
// protocol error, since a PING sent right before a timeout fires can
// race with its own PONG.
func (p *prober) handlePong(fr frame.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fr.Nonce != p.pending {
		return
	}
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
	rtt := time.Since(p.sentAt).Milliseconds()
	if rtt < 0 {
		rtt = 0
	}
	if rtt > 0xFFFFFFFF {
		rtt = 0xFFFFFFFF
	}
	p.lastRTTMs = uint32(rtt)
}

func (p *prober) fireTimeout() {
	if p.onTimeout != nil {
		p.onTimeout()
	}
}

func (p *prober) lastRTT() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRTTMs
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

func randomNonce() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
