// Package listener implements the Listener/Acceptor component (§4.5,
// C5): the client-side local bind that spawns a Bridge per accepted
// connection, and the server-side HTTP upgrade acceptor. Grounded in
// cmd/outline-cli-ws/main.go's accept loop and graceful-shutdown
// pattern.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"mcc/internal/bridge"
	"mcc/internal/config"
	"mcc/internal/handshake"
	"mcc/internal/registry"
	"mcc/internal/session"
	"mcc/internal/sockopt"
	"mcc/internal/transport"
	"mcc/internal/wsconn"
)

// ErrUDPMappingExists is returned by StartMapping when a UDP mapping
// is already bound to the requested local address — UDP mappings are
// singleton (§4.5): one bound socket, one Session. The session replies
// to the first local peer address it observes; datagrams from any other
// address are dropped, so a later peer is not followed.
var ErrUDPMappingExists = errors.New("listener: udp mapping already bound to this address")

// EventBroadcaster is the subset of *events.Broadcaster a Bridge
// needs; re-declared here (as in internal/bridge) to avoid every
// package importing the concrete events type.
type EventBroadcaster = bridge.EventBroadcaster

// mappingHandle tracks the resources behind one start_mapping call so
// StopMapping can tear all of it down.
type mappingHandle struct {
	cancel   context.CancelFunc
	ln       net.Listener // non-nil for TCP mappings
	bindAddr string
	proto    string
	sessions map[string]struct{} // sub-session ids spawned by this mapping (TCP only)
}

// ClientListener owns every active client-side mapping.
type ClientListener struct {
	reg *registry.Registry
	ev  EventBroadcaster

	mu       sync.Mutex
	mappings map[string]*mappingHandle
}

// NewClientListener builds a ClientListener backed by reg for session
// bookkeeping and ev for status/stats broadcast.
func NewClientListener(reg *registry.Registry, ev EventBroadcaster) *ClientListener {
	return &ClientListener{reg: reg, ev: ev, mappings: make(map[string]*mappingHandle)}
}

// StartMapping binds m's local address and begins bridging connections
// to m.WSURL's remote target (§4.5). Bind failure is returned
// synchronously, per spec. The returned id names the mapping itself
// (for UDP, the mapping and its single Session share an id; for TCP
// each accepted connection gets its own session id, reported via
// StatusEvent, while the returned id lets the caller stop the whole
// mapping).
func (l *ClientListener) StartMapping(ctx context.Context, m config.Mapping, fingerprint [32]byte) (string, error) {
	id := session.NewID()

	switch m.Proto {
	case "udp":
		return l.startUDPMapping(ctx, id, m, fingerprint)
	default:
		return l.startTCPMapping(ctx, id, m, fingerprint)
	}
}

func (l *ClientListener) startTCPMapping(ctx context.Context, id string, m config.Mapping, fingerprint [32]byte) (string, error) {
	lc := net.ListenConfig{Control: sockopt.ReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", m.BindAddr)
	if err != nil {
		return "", fmt.Errorf("listener: bind %s: %w", m.BindAddr, err)
	}

	mapCtx, cancel := context.WithCancel(ctx)
	h := &mappingHandle{cancel: cancel, ln: ln, bindAddr: m.BindAddr, proto: "tcp", sessions: make(map[string]struct{})}

	l.mu.Lock()
	l.mappings[id] = h
	l.mu.Unlock()

	go l.acceptLoop(mapCtx, id, h, ln, m, fingerprint)
	return id, nil
}

func (l *ClientListener) acceptLoop(ctx context.Context, mappingID string, h *mappingHandle, ln net.Listener, m config.Mapping, fingerprint [32]byte) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Printf("listener: mapping %s accept: %v", mappingID, err)
			continue
		}
		go l.handleAccepted(ctx, mappingID, h, conn, m, fingerprint)
	}
}

func (l *ClientListener) handleAccepted(ctx context.Context, mappingID string, h *mappingHandle, conn net.Conn, m config.Mapping, fingerprint [32]byte) {
	subID := session.NewID()

	l.mu.Lock()
	h.sessions[subID] = struct{}{}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(h.sessions, subID)
		l.mu.Unlock()
	}()

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return
	}
	_ = tcpConn.SetNoDelay(true)
	localAdapter := transport.NewTCPAdapter(tcpConn)

	b, err := l.dialAndHandshake(ctx, mappingID, subID, localAdapter, m, handshake.ProtoTCP, fingerprint)
	if err != nil {
		log.Printf("listener: mapping %s session %s: %v", mappingID, subID, err)
		if l.ev != nil {
			l.ev.Status(subID, false, "error: "+handshakeErrorKind(err))
		}
		_ = localAdapter.Close()
		return
	}
	l.reg.Start(subID, b)
	// Keep subID in h.sessions until the session closes, so StopMapping
	// can still find and stop it.
	<-b.Done()
}

func (l *ClientListener) startUDPMapping(ctx context.Context, id string, m config.Mapping, fingerprint [32]byte) (string, error) {
	l.mu.Lock()
	for _, h := range l.mappings {
		if h.proto == "udp" && h.bindAddr == m.BindAddr {
			l.mu.Unlock()
			return "", ErrUDPMappingExists
		}
	}
	l.mu.Unlock()

	udpAddr, err := net.ResolveUDPAddr("udp", m.BindAddr)
	if err != nil {
		return "", fmt.Errorf("listener: resolve %s: %w", m.BindAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return "", fmt.Errorf("listener: bind %s: %w", m.BindAddr, err)
	}
	localAdapter := transport.NewUDPAdapter(conn, nil)

	mapCtx, cancel := context.WithCancel(ctx)
	h := &mappingHandle{cancel: cancel, bindAddr: m.BindAddr, proto: "udp"}
	l.mu.Lock()
	l.mappings[id] = h
	l.mu.Unlock()

	b, err := l.dialAndHandshake(mapCtx, id, id, localAdapter, m, handshake.ProtoUDP, fingerprint)
	if err != nil {
		cancel()
		_ = conn.Close()
		l.mu.Lock()
		delete(l.mappings, id)
		l.mu.Unlock()
		return "", err
	}
	l.reg.Start(id, b)
	return id, nil
}

// dialAndHandshake opens the WebSocket to m.WSURL, runs the client
// handshake for proto/m.RemotePort, and constructs (but does not
// start) the Bridge that will own localAdapter on success.
func (l *ClientListener) dialAndHandshake(ctx context.Context, mappingID, sessionID string, localAdapter transport.Adapter, m config.Mapping, proto handshake.Proto, fingerprint [32]byte) (*bridge.Bridge, error) {
	if l.ev != nil {
		l.ev.Status(sessionID, false, "connecting")
	}
	wsc, err := wsconn.Dial(ctx, m.WSURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	fc := wsconn.NewFrameConn(wsc)

	if l.ev != nil {
		l.ev.Status(sessionID, false, "handshaking")
	}
	_, err = handshake.ClientHandshake(ctx, fc, handshake.Request{Port: m.RemotePort, Proto: proto}, fingerprint)
	if err != nil {
		_ = fc.Close(wsconn.StatusPolicyViolation, "handshake failed")
		return nil, fmt.Errorf("handshake: %w", err)
	}

	return bridge.New(bridge.Config{
		ID:         sessionID,
		Role:       session.RoleClient,
		WS:         fc,
		Transport:  localAdapter,
		Events:     l.ev,
		PingPeriod: m.PingPeriod,
	}), nil
}

// Addr returns the bound local address for a TCP mapping (nil for an
// unknown id or a UDP mapping, whose local socket has no single dial
// address a test or caller would reconnect to). Mainly useful for
// tests and for reporting the chosen port back to a caller that asked
// for bind_addr ":0".
func (l *ClientListener) Addr(id string) net.Addr {
	l.mu.Lock()
	h := l.mappings[id]
	l.mu.Unlock()
	if h == nil || h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// StopMapping tears down the mapping (and, for TCP, every live
// connection it spawned).
func (l *ClientListener) StopMapping(id string) error {
	l.mu.Lock()
	h := l.mappings[id]
	if h != nil {
		delete(l.mappings, id)
	}
	l.mu.Unlock()
	if h == nil {
		return nil
	}

	h.cancel()
	if h.ln != nil {
		_ = h.ln.Close()
	}

	l.mu.Lock()
	subIDs := make([]string, 0, len(h.sessions))
	for sid := range h.sessions {
		subIDs = append(subIDs, sid)
	}
	l.mu.Unlock()

	for _, sid := range subIDs {
		_ = l.reg.Stop(sid)
	}
	// UDP mappings register their single session under the mapping id
	// itself.
	_ = l.reg.Stop(id)
	return nil
}

func handshakeErrorKind(err error) string {
	var rej *handshake.ErrRejected
	switch {
	case errors.As(err, &rej):
		return "rejected"
	case errors.Is(err, handshake.ErrAuthFailed):
		return "auth"
	case errors.Is(err, handshake.ErrTimeout):
		return "timeout"
	case errors.Is(err, handshake.ErrProtocol):
		return "protocol"
	default:
		return "connect"
	}
}
