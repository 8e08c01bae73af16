package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"mcc/internal/frame"
)

// maxUDPDatagram is large enough to receive the biggest datagram a UDP
// socket can deliver (65507 bytes of payload over IPv4), so reading
// into a buffer this size can never itself truncate a datagram: any
// datagram exceeding frame.FrameMax still arrives whole and can be
// detected by length instead of being silently cut down to size.
const maxUDPDatagram = 65535

// UDPAdapter wraps a bound *net.UDPConn as a message stream: one
// received datagram maps to one DATA frame; one inbound DATA frame
// maps to one send_to (§4.3). Because UDP has no connection, the peer
// address is learned from the first datagram observed and pinned for
// the rest of the session's life (§9 "UDP peer binding"), exactly
// mirroring internal/outline_udp.go's readFromClientLoop.
type UDPAdapter struct {
	conn *net.UDPConn

	mu       sync.Mutex
	peer     *net.UDPAddr
	learned  bool

	stats Stats

	// scratch receives every raw datagram before the peer/size checks
	// run; it is always large enough that ReadFromUDP itself can't be
	// the thing truncating an oversize datagram.
	scratch []byte
}

// NewUDPAdapter wraps a bound UDP socket. If peer is non-nil the
// adapter is already pinned to it (the server side's UDPDialer knows
// its target up front); the client listener leaves peer nil and learns
// it from the first datagram.
func NewUDPAdapter(conn *net.UDPConn, peer *net.UDPAddr) *UDPAdapter {
	a := &UDPAdapter{conn: conn, peer: peer, learned: peer != nil, scratch: make([]byte, maxUDPDatagram)}
	return a
}

// Read returns the next datagram's payload. Datagrams exceeding
// frame.FrameMax are dropped and counted in stats.dropped (§4.3)
// rather than handed back truncated.
func (a *UDPAdapter) Read(buf []byte) (int, error) {
	for {
		n, addr, err := a.conn.ReadFromUDP(a.scratch)
		if err != nil {
			return 0, err
		}
		if n > frame.FrameMax {
			atomic.AddUint64(&a.stats.Dropped, 1)
			continue
		}
		a.mu.Lock()
		if !a.learned {
			a.peer = addr
			a.learned = true
		} else if !addrEqual(a.peer, addr) {
			// Packet from a different peer than the one we've pinned:
			// not ours for this session: drop and keep reading.
			a.mu.Unlock()
			atomic.AddUint64(&a.stats.Dropped, 1)
			continue
		}
		a.mu.Unlock()
		n = copy(buf, a.scratch[:n])
		return n, nil
	}
}

func (a *UDPAdapter) Write(buf []byte) (int, error) {
	a.mu.Lock()
	peer := a.peer
	a.mu.Unlock()
	if peer == nil {
		// No peer learned yet (server side before the first inbound
		// datagram): nothing to send to.
		return 0, fmt.Errorf("transport: udp adapter has no learned peer yet")
	}
	return a.conn.WriteToUDP(buf, peer)
}

// CloseWrite is a no-op for UDP: there is no half-close concept on a
// datagram socket (§4.3).
func (a *UDPAdapter) CloseWrite() error { return nil }

func (a *UDPAdapter) Close() error { return a.conn.Close() }

// DroppedCount returns the number of datagrams dropped because they
// exceeded frame.FrameMax or came from an address other than the
// pinned peer.
func (a *UDPAdapter) DroppedCount() uint64 {
	return atomic.LoadUint64(&a.stats.Dropped)
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// UDPDialer opens the outbound UDP socket to the server's local
// target (the server side's analogue of TCPDialer).
type UDPDialer struct{}

func (UDPDialer) Dial(ctx context.Context, host string, port uint16) (Adapter, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmtPort(port)))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial udp %s:%d: %w", host, port, err)
	}
	return NewUDPAdapter(conn, raddr), nil
}
