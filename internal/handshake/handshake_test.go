package handshake

import (
	"context"
	"errors"
	"testing"
	"time"

	"mcc/internal/frame"
)

// pipeConn is an in-memory FrameConn used to test the handshake
// sequence without a real WebSocket, mirroring the teacher's use of
// net.Pipe() in internal/socks5_test.go.
type pipeConn struct {
	out chan frame.Frame
	in  chan frame.Frame
}

func newPipe() (a, b *pipeConn) {
	c1 := make(chan frame.Frame, 4)
	c2 := make(chan frame.Frame, 4)
	return &pipeConn{out: c1, in: c2}, &pipeConn{out: c2, in: c1}
}

func (p *pipeConn) ReadFrame(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (p *pipeConn) WriteFrame(ctx context.Context, f frame.Frame) error {
	select {
	case p.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type allowAll struct{}

func (allowAll) Check(uint16, Proto) bool { return true }

type denyAll struct{}

func (denyAll) Check(uint16, Proto) bool { return false }

func TestHandshakeSuccess(t *testing.T) {
	old := Timeout
	Timeout = time.Second
	defer func() { Timeout = old }()

	clientSide, serverSide := newPipe()

	priv, pub, err := GenerateKeyPair(AlgorithmEd25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	signer, err := NewSigner(priv, pub)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	fingerprint := Fingerprint(pub)

	type srvResult struct {
		req Request
		res Result
		err error
	}
	srvCh := make(chan srvResult, 1)
	go func() {
		req, res, err := ServerHandshake(context.Background(), serverSide, allowAll{}, signer)
		srvCh <- srvResult{req, res, err}
	}()

	clientRes, err := ClientHandshake(context.Background(), clientSide, Request{Port: 25565, Proto: ProtoTCP}, fingerprint)
	if err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}

	srv := <-srvCh
	if srv.err != nil {
		t.Fatalf("ServerHandshake: %v", srv.err)
	}
	if srv.req.Port != 25565 || srv.req.Proto != ProtoTCP {
		t.Fatalf("server saw wrong request: %+v", srv.req)
	}
	if srv.res.SessionKey != clientRes.SessionKey {
		t.Fatalf("session keys differ: client=%x server=%x", clientRes.SessionKey, srv.res.SessionKey)
	}
}

func TestHandshakeDeterministicSessionKey(t *testing.T) {
	var clientNonce, serverNonce [32]byte
	for i := range clientNonce {
		clientNonce[i] = byte(i)
	}
	for i := range serverNonce {
		serverNonce[i] = byte(255 - i)
	}

	k1, err := deriveSessionKey(clientNonce, serverNonce)
	if err != nil {
		t.Fatalf("derive 1: %v", err)
	}
	k2, err := deriveSessionKey(clientNonce, serverNonce)
	if err != nil {
		t.Fatalf("derive 2: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("HKDF derivation is not deterministic: %x != %x", k1, k2)
	}
}

func TestHandshakeRejected(t *testing.T) {
	old := Timeout
	Timeout = time.Second
	defer func() { Timeout = old }()

	clientSide, serverSide := newPipe()

	priv, pub, err := GenerateKeyPair(AlgorithmEd25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	signer, err := NewSigner(priv, pub)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	fingerprint := Fingerprint(pub)

	go func() {
		_, _, _ = ServerHandshake(context.Background(), serverSide, denyAll{}, signer)
	}()

	_, err = ClientHandshake(context.Background(), clientSide, Request{Port: 25566, Proto: ProtoTCP}, fingerprint)
	var rejected *ErrRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *ErrRejected, got %v", err)
	}
	if rejected.Code != 403 {
		t.Fatalf("expected code 403, got %d", rejected.Code)
	}
}

func TestHandshakeAuthMismatch(t *testing.T) {
	old := Timeout
	Timeout = time.Second
	defer func() { Timeout = old }()

	clientSide, serverSide := newPipe()

	priv, pub, err := GenerateKeyPair(AlgorithmEd25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	signer, err := NewSigner(priv, pub)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	go func() {
		_, _, _ = ServerHandshake(context.Background(), serverSide, allowAll{}, signer)
	}()

	var wrongFingerprint [32]byte
	_, err = ClientHandshake(context.Background(), clientSide, Request{Port: 25565, Proto: ProtoTCP}, wrongFingerprint)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestHandshakeRSAAlgorithm(t *testing.T) {
	priv, pub, err := GenerateKeyPair(AlgorithmRSA)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if pub[0] != byte(AlgorithmRSA) {
		t.Fatalf("expected prefix 0x01, got %#x", pub[0])
	}
	signer, err := NewSigner(priv, pub)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	msg := []byte("sign-me")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(pub, msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestEd25519WirePrefix(t *testing.T) {
	_, pub, err := GenerateKeyPair(AlgorithmEd25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if pub[0] != 0x02 {
		t.Fatalf("expected ed25519 prefix 0x02, got %#x", pub[0])
	}
}
