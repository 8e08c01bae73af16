package wsconn

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader is shared across all /ws upgrades on the server side.
// CheckOrigin always allows: the spec relies on wss:// for transport
// security and an authenticated handshake (§4.2) for authorization,
// not on browser origin checks.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type gorillaConn struct {
	c *websocket.Conn
}

// Accept upgrades an inbound HTTP request to a WebSocket session using
// gorilla/websocket, matching the teacher's internal/transport/websocket.go
// (adapted here from a dialer to an upgrader, since this is the server
// side of the tunnel).
func Accept(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{c: c}, nil
}

func (c *gorillaConn) ReadMessage(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		for {
			mt, data, err := c.c.ReadMessage()
			if err != nil {
				done <- result{nil, err}
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			done <- result{data, nil}
			return
		}
	}()
	select {
	case <-ctx.Done():
		_ = c.c.Close()
		return nil, ctx.Err()
	case r := <-done:
		return r.data, r.err
	}
}

func (c *gorillaConn) WriteMessage(ctx context.Context, data []byte) error {
	return c.c.WriteMessage(websocket.BinaryMessage, data)
}

func (c *gorillaConn) Close(code StatusCode, reason string) error {
	msg := websocket.FormatCloseMessage(int(code), reason)
	_ = c.c.WriteControl(websocket.CloseMessage, msg, deadlineNow())
	return c.c.Close()
}
