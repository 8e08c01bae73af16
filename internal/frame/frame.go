// Package frame implements the length-tagged control/data framing that
// rides inside each WebSocket binary message. A WebSocket message
// carries exactly one Frame.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind identifies the wire type of a Frame (byte 0 of every message).
type Kind byte

const (
	KindData   Kind = 1
	KindPing   Kind = 2
	KindPong   Kind = 3
	KindClose  Kind = 4
	KindHello  Kind = 5
	KindAuth   Kind = 6
	KindReady  Kind = 7
	KindReject Kind = 8
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindClose:
		return "CLOSE"
	case KindHello:
		return "HELLO"
	case KindAuth:
		return "AUTH"
	case KindReady:
		return "READY"
	case KindReject:
		return "REJECT"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// FrameMax is the maximum DATA payload length in a single frame.
// The spec leaves this configurable (§9 Open Questions); 64 KiB is the
// recommended default based on common WebSocket intermediary limits.
var FrameMax = 65536

// MaxCloseReason is the maximum length, in bytes, of a CLOSE reason.
const MaxCloseReason = 123

// ErrMalformedFrame is returned (wrapped with details) whenever Decode
// rejects a message: unknown kind, a length outside the bounds the
// spec defines, or invalid UTF-8 where required.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a tagged union covering every frame kind in §4.1 and the
// handshake frames in §4.2. Only the fields relevant to Kind are set.
type Frame struct {
	Kind Kind

	// DATA
	Payload []byte

	// PING / PONG
	Nonce    uint64
	TSendMs  uint64

	// CLOSE
	Code   uint16
	Reason string

	// HELLO
	Version      uint16
	Proto        uint8
	Port         uint16
	ClientNonce  [32]byte

	// AUTH
	ServerNonce [32]byte
	Sig         []byte
	Pub         []byte

	// REJECT
	RejectCode   uint16
	RejectReason string
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Encode serializes f into a single WebSocket binary message.
func Encode(f Frame) ([]byte, error) {
	switch f.Kind {
	case KindData:
		if len(f.Payload) < 1 || len(f.Payload) > FrameMax {
			return nil, malformed("data payload length %d out of bounds [1,%d]", len(f.Payload), FrameMax)
		}
		b := make([]byte, 1+len(f.Payload))
		b[0] = byte(KindData)
		copy(b[1:], f.Payload)
		return b, nil

	case KindPing, KindPong:
		b := make([]byte, 1+16)
		b[0] = byte(f.Kind)
		binary.BigEndian.PutUint64(b[1:9], f.Nonce)
		binary.BigEndian.PutUint64(b[9:17], f.TSendMs)
		return b, nil

	case KindClose:
		if len(f.Reason) > MaxCloseReason {
			return nil, malformed("close reason length %d exceeds %d", len(f.Reason), MaxCloseReason)
		}
		if !utf8.ValidString(f.Reason) {
			return nil, malformed("close reason is not valid utf-8")
		}
		b := make([]byte, 1+2+len(f.Reason))
		b[0] = byte(KindClose)
		binary.BigEndian.PutUint16(b[1:3], f.Code)
		copy(b[3:], f.Reason)
		return b, nil

	case KindHello:
		b := make([]byte, 1+2+1+2+32)
		off := 0
		b[off] = byte(KindHello)
		off++
		binary.BigEndian.PutUint16(b[off:off+2], f.Version)
		off += 2
		b[off] = f.Proto
		off++
		binary.BigEndian.PutUint16(b[off:off+2], f.Port)
		off += 2
		copy(b[off:off+32], f.ClientNonce[:])
		return b, nil

	case KindAuth:
		if len(f.Sig) > 0xFFFF || len(f.Pub) > 0xFFFF {
			return nil, malformed("auth sig/pub too long")
		}
		total := 1 + 32 + 2 + len(f.Sig) + 2 + len(f.Pub)
		b := make([]byte, total)
		off := 0
		b[off] = byte(KindAuth)
		off++
		copy(b[off:off+32], f.ServerNonce[:])
		off += 32
		binary.LittleEndian.PutUint16(b[off:off+2], uint16(len(f.Sig)))
		off += 2
		copy(b[off:off+len(f.Sig)], f.Sig)
		off += len(f.Sig)
		binary.LittleEndian.PutUint16(b[off:off+2], uint16(len(f.Pub)))
		off += 2
		copy(b[off:off+len(f.Pub)], f.Pub)
		return b, nil

	case KindReady:
		return []byte{byte(KindReady)}, nil

	case KindReject:
		if len(f.RejectReason) > MaxCloseReason {
			return nil, malformed("reject reason length %d exceeds %d", len(f.RejectReason), MaxCloseReason)
		}
		if !utf8.ValidString(f.RejectReason) {
			return nil, malformed("reject reason is not valid utf-8")
		}
		b := make([]byte, 1+2+len(f.RejectReason))
		b[0] = byte(KindReject)
		binary.BigEndian.PutUint16(b[1:3], f.RejectCode)
		copy(b[3:], f.RejectReason)
		return b, nil

	default:
		return nil, malformed("unknown kind %v", f.Kind)
	}
}

// Decode parses a single WebSocket binary message into a Frame.
func Decode(b []byte) (Frame, error) {
	if len(b) < 1 {
		return Frame{}, malformed("empty message")
	}
	kind := Kind(b[0])
	body := b[1:]

	switch kind {
	case KindData:
		if len(body) < 1 || len(body) > FrameMax {
			return Frame{}, malformed("data payload length %d out of bounds [1,%d]", len(body), FrameMax)
		}
		payload := make([]byte, len(body))
		copy(payload, body)
		return Frame{Kind: KindData, Payload: payload}, nil

	case KindPing, KindPong:
		if len(body) != 16 {
			return Frame{}, malformed("ping/pong body length %d != 16", len(body))
		}
		return Frame{
			Kind:    kind,
			Nonce:   binary.BigEndian.Uint64(body[0:8]),
			TSendMs: binary.BigEndian.Uint64(body[8:16]),
		}, nil

	case KindClose:
		if len(body) < 2 {
			return Frame{}, malformed("close body too short")
		}
		code := binary.BigEndian.Uint16(body[0:2])
		reason := body[2:]
		if len(reason) > MaxCloseReason {
			return Frame{}, malformed("close reason length %d exceeds %d", len(reason), MaxCloseReason)
		}
		if !utf8.Valid(reason) {
			return Frame{}, malformed("close reason is not valid utf-8")
		}
		return Frame{Kind: KindClose, Code: code, Reason: string(reason)}, nil

	case KindHello:
		if len(body) != 2+1+2+32 {
			return Frame{}, malformed("hello body length %d != %d", len(body), 2+1+2+32)
		}
		var f Frame
		f.Kind = KindHello
		off := 0
		f.Version = binary.BigEndian.Uint16(body[off : off+2])
		off += 2
		f.Proto = body[off]
		off++
		f.Port = binary.BigEndian.Uint16(body[off : off+2])
		off += 2
		copy(f.ClientNonce[:], body[off:off+32])
		return f, nil

	case KindAuth:
		if len(body) < 32+2 {
			return Frame{}, malformed("auth body too short")
		}
		var f Frame
		f.Kind = KindAuth
		off := 0
		copy(f.ServerNonce[:], body[off:off+32])
		off += 32
		if len(body) < off+2 {
			return Frame{}, malformed("auth body truncated before sig_len")
		}
		sigLen := int(binary.LittleEndian.Uint16(body[off : off+2]))
		off += 2
		if len(body) < off+sigLen+2 {
			return Frame{}, malformed("auth body truncated before sig/pub_len")
		}
		f.Sig = append([]byte(nil), body[off:off+sigLen]...)
		off += sigLen
		pubLen := int(binary.LittleEndian.Uint16(body[off : off+2]))
		off += 2
		if len(body) != off+pubLen {
			return Frame{}, malformed("auth body length mismatch")
		}
		f.Pub = append([]byte(nil), body[off:off+pubLen]...)
		return f, nil

	case KindReady:
		if len(body) != 0 {
			return Frame{}, malformed("ready body must be empty")
		}
		return Frame{Kind: KindReady}, nil

	case KindReject:
		if len(body) < 2 {
			return Frame{}, malformed("reject body too short")
		}
		code := binary.BigEndian.Uint16(body[0:2])
		reason := body[2:]
		if len(reason) > MaxCloseReason {
			return Frame{}, malformed("reject reason length %d exceeds %d", len(reason), MaxCloseReason)
		}
		if !utf8.Valid(reason) {
			return Frame{}, malformed("reject reason is not valid utf-8")
		}
		return Frame{Kind: KindReject, RejectCode: code, RejectReason: string(reason)}, nil

	default:
		return Frame{}, malformed("unknown kind %d", byte(kind))
	}
}
