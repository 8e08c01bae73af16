package wsconn

import (
	"context"
	"testing"

	"mcc/internal/frame"
)

// memConn is an in-memory Conn double carrying raw messages over a
// channel, letting FrameConn's encode/decode layer be tested without a
// real WebSocket — same style as internal/bridge/bridge_test.go's
// chanConn.
type memConn struct {
	out chan []byte
	in  chan []byte
}

func newMemPair() (a, b *memConn) {
	c1 := make(chan []byte, 4)
	c2 := make(chan []byte, 4)
	return &memConn{out: c1, in: c2}, &memConn{out: c2, in: c1}
}

func (c *memConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memConn) Close(StatusCode, string) error { return nil }

func TestFrameConnRoundTrip(t *testing.T) {
	a, b := newMemPair()
	fa := NewFrameConn(a)
	fb := NewFrameConn(b)

	want := frame.Frame{Kind: frame.KindData, Payload: []byte("hello")}
	if err := fa.WriteFrame(context.Background(), want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := fb.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != want.Kind || string(got.Payload) != string(want.Payload) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFrameConnReadHonorsContextCancellation(t *testing.T) {
	a, _ := newMemPair()
	fa := NewFrameConn(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fa.ReadFrame(ctx); err == nil {
		t.Fatal("expected ReadFrame to fail on a cancelled context")
	}
}
