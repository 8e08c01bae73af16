// Package transport provides the uniform byte-stream and datagram
// abstractions the Bridge pumps frames to/from (spec §4.3): a TCP
// adapter over a real half-closeable stream, and a UDP adapter over a
// bound datagram socket with single-peer learning.
package transport

import "context"

// Adapter is the capability set spec §4.3 requires of both variants.
type Adapter interface {
	Read(buf []byte) (n int, err error)
	Write(buf []byte) (n int, err error)
	// CloseWrite performs a half-close on the write side, letting the
	// peer observe EOF while Read can still deliver data already in
	// flight. A no-op for UDP (§4.3).
	CloseWrite() error
	Close() error
}

// Stats tracks adapter-level counters beyond what the Bridge's own
// frame counters cover — currently just UDP datagram drops (oversize
// datagrams, §4.3, and datagrams from an address other than the pinned
// peer).
type Stats struct {
	Dropped uint64
}

// Dialer opens an Adapter to a remote target. Implemented by
// TCPDialer/UDPDialer on the server side, where the target comes from
// an authorized handshake request rather than being dialed in from a
// static config.
type Dialer interface {
	Dial(ctx context.Context, host string, port uint16) (Adapter, error)
}
