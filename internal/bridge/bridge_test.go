package bridge

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mcc/internal/frame"
	"mcc/internal/session"
	"mcc/internal/wsconn"
)

// memAdapter is an in-memory transport.Adapter double: data fed into
// `in` is what the egress pump reads ("local bytes"); data written by
// the ingress pump accumulates in `out`.
type memAdapter struct {
	in      chan []byte
	closeIn sync.Once

	outMu sync.Mutex
	out   bytes.Buffer

	closeWriteCalled atomic.Bool
}

func newMemAdapter() *memAdapter { return &memAdapter{in: make(chan []byte, 8)} }

func (m *memAdapter) simulateLocalEOF() { m.closeIn.Do(func() { close(m.in) }) }

func (m *memAdapter) Read(buf []byte) (int, error) {
	data, ok := <-m.in
	if !ok {
		return 0, io.EOF
	}
	return copy(buf, data), nil
}

func (m *memAdapter) Write(buf []byte) (int, error) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	m.out.Write(buf)
	return len(buf), nil
}

func (m *memAdapter) CloseWrite() error { m.closeWriteCalled.Store(true); return nil }
func (m *memAdapter) Close() error      { m.simulateLocalEOF(); return nil }

func (m *memAdapter) written() []byte {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	return append([]byte(nil), m.out.Bytes()...)
}

// chanConn is an in-memory wsconn.Conn: two instances sharing a pair
// of channels behave like a loopback WebSocket, mirroring the
// net.Pipe()-based loopback style the teacher's own tests use.
type chanConn struct {
	send chan []byte
	recv chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newChanConnPair() (*chanConn, *chanConn) {
	ab := make(chan []byte, 8)
	ba := make(chan []byte, 8)
	c1 := &chanConn{send: ab, recv: ba, closed: make(chan struct{})}
	c2 := &chanConn{send: ba, recv: ab, closed: make(chan struct{})}
	return c1, c2
}

func (c *chanConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.recv:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *chanConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanConn) Close(code wsconn.StatusCode, reason string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func newTestBridge(id string, ws *wsconn.FrameConn, tr *memAdapter) *Bridge {
	return New(Config{
		ID:          id,
		Role:        session.RoleClient,
		WS:          ws,
		Transport:   tr,
		PingPeriod:  0, // disabled: this test only exercises data flow and close propagation
		StatsPeriod: 0,
	})
}

func TestBridgeForwardsDataBothWays(t *testing.T) {
	wsA, wsB := newChanConnPair()
	trA, trB := newMemAdapter(), newMemAdapter()

	bridgeA := newTestBridge("a", wsconn.NewFrameConn(wsA), trA)
	bridgeB := newTestBridge("b", wsconn.NewFrameConn(wsB), trB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- bridgeA.Run(ctx) }()
	go func() { doneB <- bridgeB.Run(ctx) }()

	trA.in <- []byte("hello from a")
	trB.in <- []byte("hello from b")

	deadline := time.After(2 * time.Second)
	for {
		if bytes.Equal(trB.written(), []byte("hello from a")) && bytes.Equal(trA.written(), []byte("hello from b")) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("data did not arrive: a->b=%q b->a=%q", trB.written(), trA.written())
		case <-time.After(10 * time.Millisecond):
		}
	}

	trA.simulateLocalEOF()
	trB.simulateLocalEOF()

	select {
	case <-bridgeA.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge A never reached Closed")
	}
	select {
	case <-bridgeB.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge B never reached Closed")
	}

	if bridgeA.State() != StateClosed || bridgeB.State() != StateClosed {
		t.Fatalf("expected both Closed, got a=%v b=%v", bridgeA.State(), bridgeB.State())
	}
	<-doneA
	<-doneB
}

func TestBridgeCancelClosesSession(t *testing.T) {
	wsA, wsB := newChanConnPair()
	trA, trB := newMemAdapter(), newMemAdapter()

	bridgeA := newTestBridge("a", wsconn.NewFrameConn(wsA), trA)
	bridgeB := newTestBridge("b", wsconn.NewFrameConn(wsB), trB)

	ctx, cancel := context.WithCancel(context.Background())

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- bridgeA.Run(ctx) }()
	go func() { doneB <- bridgeB.Run(ctx) }()

	cancel()

	select {
	case <-bridgeA.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge A never closed after cancel")
	}
	<-doneA
	<-doneB
}

func TestTriggerPingRequiresEstablished(t *testing.T) {
	wsA, _ := newChanConnPair()
	trA := newMemAdapter()
	b := newTestBridge("a", wsconn.NewFrameConn(wsA), trA)

	if err := b.TriggerPing(context.Background()); err != ErrNotEstablished {
		t.Fatalf("expected ErrNotEstablished before Run, got %v", err)
	}
}

func TestFrameMaxSizedDataFrameRoundTrips(t *testing.T) {
	// Sanity: a DATA frame built from a FrameMax-sized read must still
	// round-trip through Encode/Decode.
	payload := make([]byte, frame.FrameMax)
	fr := frame.Frame{Kind: frame.KindData, Payload: payload}
	enc, err := frame.Encode(fr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := frame.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Payload) != len(payload) {
		t.Fatalf("got %d bytes, want %d", len(dec.Payload), len(payload))
	}
}
