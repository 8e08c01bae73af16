package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// dialTimeout bounds the WebSocket upgrade dial itself, independent of
// the handshake deadline (§4.2 HANDSHAKE_TIMEOUT) that starts once the
// upgrade completes.
const dialTimeout = 10 * time.Second

type coderConn struct {
	c *websocket.Conn
}

// Dial opens a client-side WebSocket session to rawurl (ws:// or
// wss://, path /ws per §6) using nhooyr.io/websocket, matching the
// teacher's internal/ws_coder.go dial path.
func Dial(ctx context.Context, rawurl string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{
		HTTPClient: &http.Client{Timeout: dialTimeout},
	}
	conn, _, err := websocket.Dial(dialCtx, rawurl, opts)
	if err != nil {
		return nil, fmt.Errorf("wsconn: dial %s: %w", rawurl, err)
	}
	return &coderConn{c: conn}, nil
}

func (c *coderConn) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := c.c.Read(ctx)
		if err != nil {
			return nil, err
		}
		if mt != websocket.MessageBinary {
			// Text-mode messages are rejected outright (§4.1); drop and
			// keep reading rather than surfacing a non-binary payload.
			continue
		}
		return data, nil
	}
}

func (c *coderConn) WriteMessage(ctx context.Context, data []byte) error {
	return c.c.Write(ctx, websocket.MessageBinary, data)
}

func (c *coderConn) Close(code StatusCode, reason string) error {
	return c.c.Close(websocket.StatusCode(code), reason)
}
