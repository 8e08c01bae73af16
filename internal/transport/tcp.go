package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPAdapter wraps a *net.TCPConn. CloseWrite performs a real
// write-half shutdown (FIN), matching the teacher's closeWrite helper
// in internal/outline_tcp.go: "allowing the peer to observe EOF while
// the read half continues until FIN from the peer" (§4.3).
type TCPAdapter struct {
	conn *net.TCPConn
}

// NewTCPAdapter wraps an already-established TCP connection.
func NewTCPAdapter(conn *net.TCPConn) *TCPAdapter {
	return &TCPAdapter{conn: conn}
}

func (a *TCPAdapter) Read(buf []byte) (int, error)  { return a.conn.Read(buf) }
func (a *TCPAdapter) Write(buf []byte) (int, error) { return a.conn.Write(buf) }
func (a *TCPAdapter) CloseWrite() error              { return a.conn.CloseWrite() }
func (a *TCPAdapter) Close() error                   { return a.conn.Close() }

// TCPDialer opens outbound TCP connections to the server's local
// target, with TCP_NODELAY set.
type TCPDialer struct{}

func (TCPDialer) Dial(ctx context.Context, host string, port uint16) (Adapter, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmtPort(port)))
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s:%d: %w", host, port, err)
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, fmt.Errorf("transport: dial tcp %s:%d: unexpected conn type %T", host, port, conn)
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		return nil, fmt.Errorf("transport: set nodelay: %w", err)
	}
	return NewTCPAdapter(tcpConn), nil
}

func fmtPort(p uint16) string {
	return fmt.Sprintf("%d", p)
}
