// Package bridge implements the Session Bridge (§4.4, C4): the
// per-session state machine that pumps frames between a local
// transport.Adapter and a remote WebSocket, serializes the single
// WebSocket writer, runs liveness probing, and samples statistics.
// Grounded in the teacher's internal/outline_tcp.go ProxyTCPOverOutlineWS
// (two-goroutine bidirectional copy, explicit half-close propagation,
// buffered error-channel join), generalized from io.Copy to
// frame-at-a-time pumping so control frames can be multiplexed onto
// the same WebSocket.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"mcc/internal/frame"
	"mcc/internal/session"
	"mcc/internal/transport"
	"mcc/internal/wsconn"
)

// PingTimeoutMultiple and CloseDrain are the Bridge's hard timeouts
// (the handshake deadline is handshake.Timeout). The ping timeout is
// computed per-Bridge as PingTimeoutMultiple × the configured ping
// period.
var (
	PingTimeoutMultiple = 3
	CloseDrain          = 3 * time.Second
)

// EventBroadcaster is the subset of *events.Broadcaster the Bridge
// needs. Declared locally to avoid a dependency from internal/session
// back up to internal/events.
type EventBroadcaster interface {
	Status(id string, running bool, message string)
	Stats(id string, stats any)
}

// Config carries everything Run needs. WS and Transport must already
// be established; ClientHandshake/ServerHandshake are expected to have
// completed successfully before a Bridge is constructed — a failed or
// timed-out handshake never reaches here (§4.4 "handshake error/timeout
// → Closed" is handled by the caller, which simply never builds a
// Bridge and tears the raw connections down itself).
type Config struct {
	ID         string
	Role       session.Role
	WS         *wsconn.FrameConn
	Transport  transport.Adapter
	Events     EventBroadcaster
	PingPeriod time.Duration // 0 disables active probing
	StatsPeriod time.Duration // 0 uses the package default
}

// Bridge owns one session's lifecycle from Established to Closed.
type Bridge struct {
	id    string
	ws    *wsconn.FrameConn
	tr    transport.Adapter
	ev    EventBroadcaster
	stats session.Stats

	w       *writer
	prober  *prober
	sampler *sampler

	mu    sync.Mutex
	state State

	closeOnce sync.Once
	closeErr  error
	doneCh    chan struct{}
	cancel    context.CancelFunc
	tasks     sync.WaitGroup
}

// New constructs a Bridge in Handshaking; the caller must call Run to
// drive it to Established and beyond.
func New(cfg Config) *Bridge {
	b := &Bridge{
		id:    cfg.ID,
		ws:    cfg.WS,
		tr:    cfg.Transport,
		ev:     cfg.Events,
		state:  StateHandshaking,
		doneCh: make(chan struct{}),
	}
	b.stats.StartedAt = time.Now()
	b.w = newWriter(cfg.WS)

	timeout := time.Duration(PingTimeoutMultiple) * cfg.PingPeriod
	b.prober = newProber(b.w, cfg.PingPeriod, timeout, func() {
		b.applyEvent(eventFatal, "ping-timeout")
	})

	statsPeriod := cfg.StatsPeriod
	if statsPeriod == 0 {
		statsPeriod = StatsPeriod
	}
	b.sampler = &sampler{
		period: statsPeriod,
		stats:  &b.stats,
		isLive: func() bool { return b.State() == StateEstablished },
		emit: func(s Sample) {
			if b.ev != nil {
				b.ev.Stats(b.id, s)
			}
		},
	}
	return b
}

// State returns the current state under lock.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a point-in-time snapshot (§4.6 snapshot_stats).
func (b *Bridge) Stats() session.Snapshot {
	return b.stats.Snapshot()
}

// TriggerPing sends one manual probe (§4.6); a no-op (returning
// ErrNotEstablished) outside Established.
func (b *Bridge) TriggerPing(ctx context.Context) error {
	if b.State() != StateEstablished {
		return ErrNotEstablished
	}
	return b.prober.TriggerPing(ctx)
}

// Done returns a channel closed once the Bridge reaches Closed.
func (b *Bridge) Done() <-chan struct{} { return b.doneCh }

// Run drives the Bridge's whole life: Established → pumps/prober/sampler
// → Closed. It blocks until the session is fully closed and returns
// the terminating error, if any (nil for an orderly close). parent's
// cancellation is the cooperative-cancel signal for stop(id) (§4.6).
func (b *Bridge) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	b.cancel = cancel

	b.applyEvent(eventHandshakeOK, "")
	if b.ev != nil {
		b.ev.Status(b.id, true, "established")
	}

	b.tasks.Add(1)
	go func() { defer b.tasks.Done(); b.w.run(ctx) }()

	b.tasks.Add(1)
	go func() { defer b.tasks.Done(); b.egressPump(ctx) }()

	b.tasks.Add(1)
	go func() { defer b.tasks.Done(); b.ingressPump(ctx) }()

	b.tasks.Add(1)
	go func() { defer b.tasks.Done(); b.prober.run(ctx) }()

	b.tasks.Add(1)
	go func() { defer b.tasks.Done(); b.sampler.run(ctx) }()

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			b.initiateCancel()
		case <-stopWatch:
		}
	}()

	<-b.doneCh
	close(stopWatch)
	b.tasks.Wait()
	return b.closeErr
}

// egressPump implements §4.4's egress pump: transport.read → DATA
// frame → ws.send, one frame of backpressure (no queue between read
// and send).
func (b *Bridge) egressPump(ctx context.Context) {
	buf := make([]byte, frame.FrameMax)
	for {
		n, err := b.tr.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			if werr := b.w.sendData(ctx, frame.Frame{Kind: frame.KindData, Payload: payload}); werr != nil {
				b.applyEvent(eventFatal, "ws")
				return
			}
			b.stats.BytesOut.Add(uint64(n))
			b.stats.FramesOut.Add(1)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				cctx, cancel := context.WithTimeout(context.Background(), CloseDrain)
				_ = b.w.sendControl(cctx, frame.Frame{Kind: frame.KindClose, Code: uint16(wsconn.StatusNormalClosure), Reason: "eof"})
				cancel()
				b.applyEvent(eventLocalEOF, "eof")
				return
			}
			b.applyEvent(eventFatal, "io")
			return
		}
	}
}

// ingressPump implements §4.4's ingress pump: ws.recv → decode →
// dispatch on frame kind.
func (b *Bridge) ingressPump(ctx context.Context) {
	for {
		fr, err := b.ws.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, frame.ErrMalformedFrame) {
				cctx, cancel := context.WithTimeout(context.Background(), CloseDrain)
				_ = b.w.sendControl(cctx, frame.Frame{Kind: frame.KindClose, Code: uint16(wsconn.StatusProtocolError), Reason: "protocol"})
				cancel()
				b.applyEvent(eventFatal, "protocol")
				return
			}
			b.applyEvent(eventRemoteEOF, "ws")
			return
		}

		switch fr.Kind {
		case frame.KindData:
			if _, err := b.tr.Write(fr.Payload); err != nil {
				b.applyEvent(eventFatal, "io")
				return
			}
			b.stats.BytesIn.Add(uint64(len(fr.Payload)))
			b.stats.FramesIn.Add(1)

		case frame.KindPing:
			_ = b.w.sendControl(ctx, frame.Frame{Kind: frame.KindPong, Nonce: fr.Nonce, TSendMs: fr.TSendMs})

		case frame.KindPong:
			b.prober.handlePong(fr)
			b.stats.LastRTTMs.Store(b.prober.lastRTT())

		case frame.KindClose:
			_ = b.tr.CloseWrite()
			if b.applyEvent(eventRemoteClose, fr.Reason) == StateClosed {
				return
			}

		default:
			cctx, cancel := context.WithTimeout(context.Background(), CloseDrain)
			_ = b.w.sendControl(cctx, frame.Frame{Kind: frame.KindClose, Code: uint16(wsconn.StatusProtocolError), Reason: "protocol"})
			cancel()
			b.applyEvent(eventFatal, "protocol")
			return
		}
	}
}

// applyEvent serializes a state transition and, if it lands on Closed,
// triggers finalize exactly once. It returns the resulting state.
func (b *Bridge) applyEvent(e event, reason string) State {
	b.mu.Lock()
	next, ok := transition(b.state, e)
	if ok {
		b.state = next
	}
	cur := b.state
	b.mu.Unlock()

	if cur == StateClosed {
		b.finalize(reason)
	}
	return cur
}

// initiateCancel implements the cooperative-cancel path (§4.6
// stop(id)): notify the peer with CLOSE(1000,"bye") best-effort, then
// finalize. The Closing state is transient here — by the time the
// CLOSE frame is sent the pumps are already being torn down by
// finalize's socket closes, so there is no separate "drained" wait.
func (b *Bridge) initiateCancel() {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	if next, ok := transition(b.state, eventCancel); ok {
		b.state = next
	}
	b.mu.Unlock()

	cctx, cancel := context.WithTimeout(context.Background(), CloseDrain)
	_ = b.w.sendControl(cctx, frame.Frame{Kind: frame.KindClose, Code: uint16(wsconn.StatusNormalClosure), Reason: "bye"})
	cancel()
	b.finalize("bye")
}

// finalize runs exactly once per Bridge: closes both sockets, cancels
// all tasks, publishes the terminal StatusEvent, and records the
// closing error (§4.4 "Upon entering Closed the Bridge MUST close both
// sockets, emit one terminal status event, and request removal from
// the Supervisor Registry" — registry removal itself is the caller's
// responsibility via Run's return / Done()).
func (b *Bridge) finalize(reason string) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state = StateClosed
		b.mu.Unlock()

		_ = b.tr.Close()
		_ = b.ws.Close(wsconn.StatusNormalClosure, reason)
		if b.cancel != nil {
			b.cancel()
		}
		if reason != "" && reason != "bye" && reason != "eof" {
			b.closeErr = fmt.Errorf("bridge: closed (%s)", reason)
		}
		if b.ev != nil {
			b.ev.Status(b.id, false, "closed: "+reason)
		}
		close(b.doneCh)
	})
}
