package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"mcc/internal/bridge"
	"mcc/internal/handshake"
	"mcc/internal/policy"
	"mcc/internal/registry"
	"mcc/internal/session"
	"mcc/internal/transport"
	"mcc/internal/wsconn"
)

// TargetHost is where the server dials local targets authorized by
// its TargetPolicy — every allowed port is assumed to be a service on
// the same host as the mcc server itself (§4.5 "opens a TCP/UDP
// connection to the corresponding local service").
var TargetHost = "127.0.0.1"

// ServerAcceptor implements the server side of C5: an HTTP server that
// upgrades GET /ws only (§4.5), runs the server handshake against a
// TargetPolicy, dials the authorized local target, and spawns a
// Bridge. Grounded in cmd/outline-cli-ws/main.go's ListenAndServe +
// graceful-shutdown pattern, generalized from Outline's SOCKS5/TUN
// entry points to a single WebSocket upgrade route.
type ServerAcceptor struct {
	reg    *registry.Registry
	ev     EventBroadcaster
	policy *policy.TargetPolicy
	signer *handshake.Signer

	srv *http.Server
}

// NewServerAcceptor builds a ServerAcceptor listening on addr.
func NewServerAcceptor(addr string, reg *registry.Registry, ev EventBroadcaster, pol *policy.TargetPolicy, signer *handshake.Signer) *ServerAcceptor {
	a := &ServerAcceptor{reg: reg, ev: ev, policy: pol, signer: signer}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleUpgrade)
	a.srv = &http.Server{Addr: addr, Handler: mux}
	return a
}

// ListenAndServe blocks until ctx is cancelled or the server fails to
// bind, mirroring the teacher's accept-loop-plus-signal-shutdown
// structure in cmd/outline-cli-ws/main.go.
func (a *ServerAcceptor) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- a.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Printf("listener: shutting down %s", a.srv.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), bridge.CloseDrain)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listener: serve %s: %w", a.srv.Addr, err)
	}
}

func (a *ServerAcceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	wsc, err := wsconn.Accept(w, r)
	if err != nil {
		return
	}
	fc := wsconn.NewFrameConn(wsc)

	id := session.NewID()
	ctx := r.Context()

	req, _, err := handshake.ServerHandshake(ctx, fc, a.policy, a.signer)
	if err != nil {
		log.Printf("listener: session %s handshake: %v", id, err)
		var rej *handshake.ErrRejected
		if a.ev != nil {
			if errors.As(err, &rej) {
				a.ev.Status(id, false, "error: rejected")
			} else {
				a.ev.Status(id, false, "error: handshake")
			}
		}
		_ = fc.Close(closeStatusFor(err), "handshake failed")
		return
	}

	dialer := dialerFor(req.Proto)
	localAdapter, err := dialer.Dial(ctx, TargetHost, req.Port)
	if err != nil {
		log.Printf("listener: session %s dial target %s:%d: %v", id, TargetHost, req.Port, err)
		if a.ev != nil {
			a.ev.Status(id, false, "error: connect")
		}
		_ = fc.Close(wsconn.StatusPolicyViolation, "target unreachable")
		return
	}

	b := bridge.New(bridge.Config{
		ID:        id,
		Role:      session.RoleServer,
		WS:        fc,
		Transport: localAdapter,
		Events:    a.ev,
	})
	a.reg.Start(id, b)
}

func dialerFor(proto handshake.Proto) transport.Dialer {
	if proto == handshake.ProtoUDP {
		return transport.UDPDialer{}
	}
	return transport.TCPDialer{}
}

func closeStatusFor(err error) wsconn.StatusCode {
	if errors.Is(err, handshake.ErrTimeout) {
		return wsconn.StatusTimeout
	}
	return wsconn.StatusPolicyViolation
}
