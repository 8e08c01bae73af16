// Package mcc provides a small public surface for reusing this
// repository as a library. The implementation lives in internal/ and
// may change without notice.
package mcc

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"

	"mcc/internal/config"
	"mcc/internal/events"
	"mcc/internal/handshake"
	"mcc/internal/listener"
	"mcc/internal/metrics"
	"mcc/internal/policy"
	"mcc/internal/registry"
	"mcc/internal/session"
)

// --- Config ---

type Mapping = config.Mapping

type ClientConfig = config.ClientConfig

type ServerConfig = config.ServerConfig

func LoadClientConfig(path string) (*ClientConfig, error) { return config.LoadClientConfig(path) }

func LoadServerConfig(path string) (*ServerConfig, error) { return config.LoadServerConfig(path) }

// --- Events ---

type Event = events.Event

type StatsSnapshot = session.Snapshot

// --- Client runtime ---

// Client owns every active client-side mapping plus the event channel
// callers subscribe to for StatusEvent/StatsEvent (§4.7).
type Client struct {
	reg *registry.Registry
	ev  *events.Broadcaster
	cl  *listener.ClientListener
}

// NewClient constructs an idle Client with no mappings running.
func NewClient() *Client {
	reg := registry.New()
	ev := events.New()
	return &Client{reg: reg, ev: ev, cl: listener.NewClientListener(reg, ev)}
}

// Subscribe returns a stream of every Event published across all of
// this Client's mappings, plus a function to unsubscribe.
func (c *Client) Subscribe() (<-chan Event, func()) { return c.ev.Subscribe() }

// StartMapping decodes m's base64 server public key, derives its
// fingerprint, and starts the mapping (§6 start_mapping). The returned
// id names the mapping and is accepted by StopMapping. TriggerPing,
// IsRunning and SnapshotStats take a session id: for a UDP mapping that
// is the returned id; each accepted TCP connection has its own session
// id, reported in StatusEvents.
func (c *Client) StartMapping(ctx context.Context, m Mapping) (string, error) {
	pub, err := base64.StdEncoding.DecodeString(m.PubKeyB64)
	if err != nil {
		return "", fmt.Errorf("mcc: decode pubkey: %w", err)
	}
	fingerprint := handshake.Fingerprint(pub)
	return c.cl.StartMapping(ctx, m, fingerprint)
}

// StopMapping cancels a mapping and every session it spawned, blocking
// until each one reaches Closed (§6 stop_mapping).
func (c *Client) StopMapping(id string) error { return c.cl.StopMapping(id) }

// TriggerPing enqueues one manual PING on a live session.
func (c *Client) TriggerPing(ctx context.Context, id string) error {
	return c.reg.TriggerPing(ctx, id)
}

// IsRunning reports whether id is still tracked by the Registry.
func (c *Client) IsRunning(id string) bool { return c.reg.IsRunning(id) }

// SnapshotStats returns the latest stats for a live session.
func (c *Client) SnapshotStats(id string) (StatsSnapshot, error) { return c.reg.SnapshotStats(id) }

// --- Server runtime ---

// Server runs the WebSocket upgrade acceptor and the Registry behind
// it.
type Server struct {
	reg      *registry.Registry
	ev       *events.Broadcaster
	acceptor *listener.ServerAcceptor
	running  atomic.Bool
}

// NewServer builds a Server bound to addr, authorizing only the
// targets in allow ("tcp/25565" style entries) and signing handshakes
// with signer.
func NewServer(addr string, allow []string, signer *handshake.Signer) (*Server, error) {
	targets := make([]policy.Target, 0, len(allow))
	for _, a := range allow {
		t, err := policy.ParseTarget(a)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	reg := registry.New()
	ev := events.New()
	acceptor := listener.NewServerAcceptor(addr, reg, ev, policy.New(targets), signer)
	return &Server{reg: reg, ev: ev, acceptor: acceptor}, nil
}

// Subscribe returns a stream of every Event published across all of
// this Server's sessions.
func (s *Server) Subscribe() (<-chan Event, func()) { return s.ev.Subscribe() }

// Run blocks serving connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	return s.acceptor.ListenAndServe(ctx)
}

// IsRunning reports whether a server-side session id is still active.
func (s *Server) IsRunning(id string) bool { return s.reg.IsRunning(id) }

// IsServerRunning reports whether this Server's Run is currently
// serving (§6 is_server_running).
func (s *Server) IsServerRunning() bool { return s.running.Load() }

// --- Keys ---

// GenerateServerKeys creates a fresh long-term signing keypair for the
// given algorithm ("rsa" or "ed25519").
func GenerateServerKeys(algorithm string) (priv, pub []byte, err error) {
	algo, err := handshake.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, nil, err
	}
	return handshake.GenerateKeyPair(algo)
}

// NewSigner wraps a generated or loaded keypair for use with NewServer.
func NewSigner(priv, pub []byte) (*handshake.Signer, error) { return handshake.NewSigner(priv, pub) }

// --- Server descriptor exchange ---

func ExportDescriptor(name, wsURL string, allow []string, pub []byte, algorithm string) ([]byte, error) {
	return config.ExportDescriptor(name, wsURL, allow, pub, algorithm)
}

func ImportDescriptor(data []byte) (*config.ImportedServer, error) { return config.ImportDescriptor(data) }

// --- Metrics ---

// StartMetricsServer serves /metrics on addr until ctx is cancelled.
func StartMetricsServer(ctx context.Context, addr string, m *metrics.Registry) error {
	return m.StartServer(ctx, addr)
}

// NewMetricsRegistry constructs an empty metrics.Registry.
func NewMetricsRegistry() *metrics.Registry { return metrics.New() }
