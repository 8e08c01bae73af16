// Package wsconn wraps the two WebSocket libraries the rest of mcc
// needs — nhooyr.io/websocket for outbound (client) dials and
// gorilla/websocket for inbound (server) upgrades — behind one small
// interface, and layers the frame codec on top so callers exchange
// frame.Frame values instead of raw messages.
package wsconn

import (
	"context"

	"mcc/internal/frame"
)

// StatusCode mirrors the RFC 6455 close status codes this package
// cares about (§4.1, §4.4 error-to-state mapping).
type StatusCode uint16

const (
	StatusNormalClosure   StatusCode = 1000
	StatusProtocolError   StatusCode = 1002
	StatusPolicyViolation StatusCode = 1008
	StatusTimeout         StatusCode = 1013
)

// Conn is the minimal subset of a WebSocket connection the Bridge and
// Handshake need: binary-message read/write plus a close handshake.
// Text-mode messages must never reach a caller — implementations
// reject them at the source (§4.1 "Text-mode WebSocket messages are
// rejected").
type Conn interface {
	// ReadMessage returns the next binary message, blocking until one
	// arrives or ctx is done.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends one binary message.
	WriteMessage(ctx context.Context, data []byte) error
	// Close sends a WebSocket close frame with the given status/reason
	// and releases the underlying connection.
	Close(code StatusCode, reason string) error
}

// FrameConn layers frame.Encode/frame.Decode on top of a Conn so
// callers exchange frame.Frame values directly.
type FrameConn struct {
	Conn Conn
}

func NewFrameConn(c Conn) *FrameConn { return &FrameConn{Conn: c} }

// ReadFrame reads one message and decodes it as a Frame.
func (f *FrameConn) ReadFrame(ctx context.Context) (frame.Frame, error) {
	data, err := f.Conn.ReadMessage(ctx)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Decode(data)
}

// WriteFrame encodes fr and sends it as one message.
func (f *FrameConn) WriteFrame(ctx context.Context, fr frame.Frame) error {
	data, err := frame.Encode(fr)
	if err != nil {
		return err
	}
	return f.Conn.WriteMessage(ctx, data)
}

// Close forwards to the underlying Conn.
func (f *FrameConn) Close(code StatusCode, reason string) error {
	return f.Conn.Close(code, reason)
}
