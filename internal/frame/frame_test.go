package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	b, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTripData(t *testing.T) {
	f := Frame{Kind: KindData, Payload: []byte("hello minecraft")}
	got := roundTrip(t, f)
	if got.Kind != KindData || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestRoundTripPingPong(t *testing.T) {
	for _, k := range []Kind{KindPing, KindPong} {
		f := Frame{Kind: k, Nonce: 0xdeadbeef, TSendMs: 1234567890}
		got := roundTrip(t, f)
		if got.Kind != k || got.Nonce != f.Nonce || got.TSendMs != f.TSendMs {
			t.Fatalf("got %+v, want %+v", got, f)
		}
	}
}

func TestRoundTripClose(t *testing.T) {
	f := Frame{Kind: KindClose, Code: 1000, Reason: "bye"}
	got := roundTrip(t, f)
	if got.Kind != KindClose || got.Code != 1000 || got.Reason != "bye" {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestRoundTripHello(t *testing.T) {
	f := Frame{Kind: KindHello, Version: 1, Proto: 1, Port: 25565}
	copy(f.ClientNonce[:], bytes.Repeat([]byte{0x42}, 32))
	got := roundTrip(t, f)
	if got.Version != 1 || got.Proto != 1 || got.Port != 25565 || got.ClientNonce != f.ClientNonce {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestRoundTripAuth(t *testing.T) {
	f := Frame{Kind: KindAuth, Sig: []byte("sig-bytes"), Pub: []byte("pub-bytes")}
	copy(f.ServerNonce[:], bytes.Repeat([]byte{0x7a}, 32))
	got := roundTrip(t, f)
	if !bytes.Equal(got.Sig, f.Sig) || !bytes.Equal(got.Pub, f.Pub) || got.ServerNonce != f.ServerNonce {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestRoundTripReady(t *testing.T) {
	got := roundTrip(t, Frame{Kind: KindReady})
	if got.Kind != KindReady {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripReject(t *testing.T) {
	f := Frame{Kind: KindReject, RejectCode: 403, RejectReason: "rejected"}
	got := roundTrip(t, f)
	if got.RejectCode != 403 || got.RejectReason != "rejected" {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestDecodeEmptyMessage(t *testing.T) {
	_, err := Decode(nil)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0x01, 0x02})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeOversizeData(t *testing.T) {
	old := FrameMax
	FrameMax = 4
	defer func() { FrameMax = old }()

	_, err := Encode(Frame{Kind: KindData, Payload: []byte("too long")})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeZeroLengthData(t *testing.T) {
	_, err := Encode(Frame{Kind: KindData, Payload: nil})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeOversizeData(t *testing.T) {
	old := FrameMax
	FrameMax = 4
	defer func() { FrameMax = old }()

	b := append([]byte{byte(KindData)}, []byte("too long")...)
	_, err := Decode(b)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeCloseReasonTooLong(t *testing.T) {
	_, err := Encode(Frame{Kind: KindClose, Reason: strings.Repeat("x", MaxCloseReason+1)})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeCloseInvalidUTF8(t *testing.T) {
	b := []byte{byte(KindClose), 0x03, 0xe8, 0xff, 0xfe}
	_, err := Decode(b)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodePingPongWrongLength(t *testing.T) {
	_, err := Decode([]byte{byte(KindPing), 0x01, 0x02})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}
