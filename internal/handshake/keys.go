// Package handshake implements the authenticated session establishment
// described in spec §4.2: HELLO/AUTH/READY/REJECT and per-session key
// derivation.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Algorithm selects the signature scheme used by the server's
// long-term key, signaled on the wire by the first byte of pub.
type Algorithm byte

const (
	AlgorithmRSA     Algorithm = 0x01
	AlgorithmEd25519 Algorithm = 0x02
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmRSA:
		return "rsa"
	case AlgorithmEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("Algorithm(%d)", byte(a))
	}
}

// ParseAlgorithm maps the CLI/config spelling ("rsa", "ed25519",
// case-insensitively) to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "rsa":
		return AlgorithmRSA, nil
	case "ed25519":
		return AlgorithmEd25519, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q", s)
	}
}

// rsaKeyBits is the modulus size used for generated RSA keys.
const rsaKeyBits = 3072

// ErrUnknownAlgorithm is returned when a public key's prefix byte does
// not match a known Algorithm.
var ErrUnknownAlgorithm = errors.New("handshake: unknown algorithm prefix")

// GenerateKeyPair creates a new long-term signing key for the given
// algorithm. priv and pub are both self-describing: pub[0] is the
// Algorithm prefix byte, matching the wire encoding in §4.2.
func GenerateKeyPair(algo Algorithm) (priv, pub []byte, err error) {
	switch algo {
	case AlgorithmRSA:
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, nil, fmt.Errorf("generate rsa key: %w", err)
		}
		privDER, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal rsa private key: %w", err)
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal rsa public key: %w", err)
		}
		return prefixed(AlgorithmRSA, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
			prefixed(AlgorithmRSA, pubDER), nil

	case AlgorithmEd25519:
		pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return prefixed(AlgorithmEd25519, privKey), prefixed(AlgorithmEd25519, pubKey), nil

	default:
		return nil, nil, fmt.Errorf("generate key pair: %w: %v", ErrUnknownAlgorithm, algo)
	}
}

func prefixed(algo Algorithm, b []byte) []byte {
	out := make([]byte, 1+len(b))
	out[0] = byte(algo)
	copy(out[1:], b)
	return out
}

// Fingerprint returns the SHA-256 digest of a public key blob (as
// produced by GenerateKeyPair / carried in an AUTH frame's pub field),
// used by the client to pin the server's identity (§4.2 step 3).
func Fingerprint(pub []byte) [32]byte {
	return sha256.Sum256(pub)
}

// Signer signs a message with a server's long-term private key.
type Signer struct {
	algo Algorithm
	rsa  *rsa.PrivateKey
	ed   ed25519.PrivateKey
	pub  []byte
}

// NewSigner parses a prefixed private key (as returned by
// GenerateKeyPair) and the matching prefixed public key.
func NewSigner(priv, pub []byte) (*Signer, error) {
	if len(priv) < 1 || len(pub) < 1 {
		return nil, fmt.Errorf("handshake: empty key material")
	}
	algo := Algorithm(priv[0])
	if Algorithm(pub[0]) != algo {
		return nil, fmt.Errorf("handshake: priv/pub algorithm mismatch")
	}
	s := &Signer{algo: algo, pub: pub}
	switch algo {
	case AlgorithmRSA:
		block, _ := pem.Decode(priv[1:])
		if block == nil {
			return nil, fmt.Errorf("handshake: invalid rsa private key PEM")
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse rsa private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("handshake: private key is not RSA")
		}
		s.rsa = rsaKey
	case AlgorithmEd25519:
		s.ed = ed25519.PrivateKey(priv[1:])
	default:
		return nil, fmt.Errorf("new signer: %w: %v", ErrUnknownAlgorithm, algo)
	}
	return s, nil
}

// Pub returns the prefixed public key to embed in the AUTH frame.
func (s *Signer) Pub() []byte { return s.pub }

// Sign signs msg, returning a raw (unprefixed) signature.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	switch s.algo {
	case AlgorithmRSA:
		digest := sha256.Sum256(msg)
		return rsa.SignPKCS1v15(rand.Reader, s.rsa, 0, digest[:])
	case AlgorithmEd25519:
		return ed25519.Sign(s.ed, msg), nil
	default:
		return nil, fmt.Errorf("sign: %w: %v", ErrUnknownAlgorithm, s.algo)
	}
}

// Verify checks sig over msg against a prefixed public key (as carried
// in an AUTH frame's pub field).
func Verify(pub, msg, sig []byte) error {
	if len(pub) < 1 {
		return fmt.Errorf("handshake: empty public key")
	}
	switch Algorithm(pub[0]) {
	case AlgorithmRSA:
		key, err := x509.ParsePKIXPublicKey(pub[1:])
		if err != nil {
			return fmt.Errorf("parse rsa public key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("handshake: public key is not RSA")
		}
		digest := sha256.Sum256(msg)
		if err := rsa.VerifyPKCS1v15(rsaKey, 0, digest[:], sig); err != nil {
			return fmt.Errorf("verify rsa signature: %w", err)
		}
		return nil
	case AlgorithmEd25519:
		pubKey := ed25519.PublicKey(pub[1:])
		if !ed25519.Verify(pubKey, msg, sig) {
			return errors.New("verify ed25519 signature: mismatch")
		}
		return nil
	default:
		return fmt.Errorf("verify: %w: %v", ErrUnknownAlgorithm, Algorithm(pub[0]))
	}
}
