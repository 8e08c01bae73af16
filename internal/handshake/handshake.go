package handshake

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"mcc/internal/frame"
)

// Timeout is the total deadline for the handshake sequence (§4.2
// HANDSHAKE_TIMEOUT). On expiry ClientHandshake and ServerHandshake
// return ErrTimeout without sending a CLOSE frame; closing the
// WebSocket is left to the caller (the server acceptor closes with
// status 1013, the client listener with 1008).
var Timeout = 10 * time.Second

const protoVersion = uint16(1)

// FrameConn is the subset of *wsconn.FrameConn the handshake needs.
// Defined locally so this package doesn't import wsconn (wsconn has no
// reason to depend on handshake either; keeping the dependency one-way
// avoids a cycle).
type FrameConn interface {
	ReadFrame(ctx context.Context) (frame.Frame, error)
	WriteFrame(ctx context.Context, fr frame.Frame) error
}

// Proto identifies the transport protocol requested in HELLO.
type Proto uint8

const (
	ProtoTCP Proto = 1
	ProtoUDP Proto = 2
)

// Request is what the client asks for: a (host is implicit — carried
// out-of-band via the dial URL) port and protocol.
type Request struct {
	Port  uint16
	Proto Proto
}

// Result is what both sides end up with after a successful handshake.
type Result struct {
	SessionKey [32]byte
}

// ErrAuthFailed indicates the server's signature did not verify
// against the expected fingerprint.
var ErrAuthFailed = errors.New("handshake: server authentication failed")

// ErrRejected indicates the server refused the requested target.
type ErrRejected struct {
	Code   uint16
	Reason string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("handshake: rejected (code=%d reason=%q)", e.Code, e.Reason)
}

// ErrProtocol indicates a frame arrived out of the expected sequence.
var ErrProtocol = errors.New("handshake: protocol error")

// ErrTimeout indicates the handshake did not complete within Timeout.
var ErrTimeout = errors.New("handshake: timeout")

func randomNonce() ([32]byte, error) {
	var n [32]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

func deriveSessionKey(clientNonce, serverNonce [32]byte) ([32]byte, error) {
	ikm := append(append([]byte{}, clientNonce[:]...), serverNonce[:]...)
	r := hkdf.New(sha256.New, ikm, nil, []byte("mcc-v1"))
	var key [32]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, Timeout)
}

// ClientHandshake runs the client side of §4.2's sequence: send HELLO,
// verify the server's AUTH signature against expectedFingerprint,
// derive the session key, and exchange READY.
func ClientHandshake(ctx context.Context, c FrameConn, req Request, expectedFingerprint [32]byte) (Result, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	clientNonce, err := randomNonce()
	if err != nil {
		return Result{}, err
	}

	hello := frame.Frame{
		Kind:        frame.KindHello,
		Version:     protoVersion,
		Proto:       uint8(req.Proto),
		Port:        req.Port,
		ClientNonce: clientNonce,
	}
	if err := c.WriteFrame(ctx, hello); err != nil {
		return Result{}, timeoutOr(ctx, fmt.Errorf("send hello: %w", err))
	}

	reply, err := c.ReadFrame(ctx)
	if err != nil {
		return Result{}, timeoutOr(ctx, fmt.Errorf("read auth/reject: %w", err))
	}

	switch reply.Kind {
	case frame.KindReject:
		return Result{}, &ErrRejected{Code: reply.RejectCode, Reason: reply.RejectReason}
	case frame.KindAuth:
		// handled below
	default:
		return Result{}, fmt.Errorf("%w: expected AUTH or REJECT, got %v", ErrProtocol, reply.Kind)
	}

	gotFingerprint := Fingerprint(reply.Pub)
	if gotFingerprint != expectedFingerprint {
		_ = writeClose(ctx, c, 1008, "auth")
		return Result{}, ErrAuthFailed
	}

	signedMsg := signedMessage(clientNonce, req.Proto, req.Port)
	if err := Verify(reply.Pub, signedMsg, reply.Sig); err != nil {
		_ = writeClose(ctx, c, 1008, "auth")
		return Result{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	sessionKey, err := deriveSessionKey(clientNonce, reply.ServerNonce)
	if err != nil {
		return Result{}, err
	}

	if err := c.WriteFrame(ctx, frame.Frame{Kind: frame.KindReady}); err != nil {
		return Result{}, timeoutOr(ctx, fmt.Errorf("send ready: %w", err))
	}

	ack, err := c.ReadFrame(ctx)
	if err != nil {
		return Result{}, timeoutOr(ctx, fmt.Errorf("read ready: %w", err))
	}
	if ack.Kind != frame.KindReady {
		return Result{}, fmt.Errorf("%w: expected READY, got %v", ErrProtocol, ack.Kind)
	}

	return Result{SessionKey: sessionKey}, nil
}

// PolicyChecker authorizes a requested (port, proto) pair (§3
// TargetPolicy). Implemented by internal/policy.TargetPolicy.
type PolicyChecker interface {
	Check(port uint16, proto Proto) bool
}

// ServerHandshake runs the server side of §4.2: receive HELLO,
// authorize against policy, reply AUTH (or REJECT and return
// ErrRejected), then wait for the client's READY and mirror it.
func ServerHandshake(ctx context.Context, c FrameConn, policy PolicyChecker, signer *Signer) (Request, Result, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	hello, err := c.ReadFrame(ctx)
	if err != nil {
		return Request{}, Result{}, timeoutOr(ctx, fmt.Errorf("read hello: %w", err))
	}
	if hello.Kind != frame.KindHello {
		return Request{}, Result{}, fmt.Errorf("%w: expected HELLO, got %v", ErrProtocol, hello.Kind)
	}

	req := Request{Port: hello.Port, Proto: Proto(hello.Proto)}

	if !policy.Check(req.Port, req.Proto) {
		_ = c.WriteFrame(ctx, frame.Frame{Kind: frame.KindReject, RejectCode: 403, RejectReason: "policy"})
		return req, Result{}, &ErrRejected{Code: 403, Reason: "policy"}
	}

	serverNonce, err := randomNonce()
	if err != nil {
		return req, Result{}, err
	}

	signedMsg := signedMessage(hello.ClientNonce, req.Proto, req.Port)
	sig, err := signer.Sign(signedMsg)
	if err != nil {
		return req, Result{}, fmt.Errorf("sign auth: %w", err)
	}

	auth := frame.Frame{
		Kind:        frame.KindAuth,
		ServerNonce: serverNonce,
		Sig:         sig,
		Pub:         signer.Pub(),
	}
	if err := c.WriteFrame(ctx, auth); err != nil {
		return req, Result{}, timeoutOr(ctx, fmt.Errorf("send auth: %w", err))
	}

	ready, err := c.ReadFrame(ctx)
	if err != nil {
		return req, Result{}, timeoutOr(ctx, fmt.Errorf("read ready: %w", err))
	}
	if ready.Kind != frame.KindReady {
		return req, Result{}, fmt.Errorf("%w: expected READY, got %v", ErrProtocol, ready.Kind)
	}

	sessionKey, err := deriveSessionKey(hello.ClientNonce, serverNonce)
	if err != nil {
		return req, Result{}, err
	}

	if err := c.WriteFrame(ctx, frame.Frame{Kind: frame.KindReady}); err != nil {
		return req, Result{}, timeoutOr(ctx, fmt.Errorf("send ready: %w", err))
	}

	return req, Result{SessionKey: sessionKey}, nil
}

func signedMessage(clientNonce [32]byte, proto Proto, port uint16) []byte {
	msg := make([]byte, 32+1+2)
	copy(msg[0:32], clientNonce[:])
	msg[32] = byte(proto)
	binary.BigEndian.PutUint16(msg[33:35], port)
	return msg
}

func writeClose(ctx context.Context, c FrameConn, code uint16, reason string) error {
	return c.WriteFrame(ctx, frame.Frame{Kind: frame.KindClose, Code: code, Reason: reason})
}

func timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrTimeout
	}
	return err
}
