package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Descriptor is the portable, shareable description of a server's
// public connection parameters — what an operator hands a client
// operator out-of-band. Supplements spec §6, which mentions a JSON
// shape for server info but names no explicit export/import
// operations; mirrors the teacher's ParseKey/GetKeyString round trip
// for Outline keys, but as a JSON object instead of a ss:// URI.
type Descriptor struct {
	Name      string   `json:"name"`
	WSURL     string   `json:"ws_url"`
	Algorithm string   `json:"algorithm"`
	PubKeyB64 string   `json:"pubkey"`
	Allow     []string `json:"allow"`
}

// ImportedServer is what ImportDescriptor hands back: everything a
// client needs to populate a Mapping (minus the local bind address and
// remote port, which the operator still chooses per mapping).
type ImportedServer struct {
	Name      string
	WSURL     string
	Algorithm string
	PubKeyB64 string
	Allow     []string
}

// ExportDescriptor serializes a server's shareable connection info.
func ExportDescriptor(name, wsURL string, allow []string, pub []byte, algo string) ([]byte, error) {
	d := Descriptor{
		Name:      name,
		WSURL:     wsURL,
		Algorithm: algo,
		PubKeyB64: base64.StdEncoding.EncodeToString(pub),
		Allow:     allow,
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("config: export descriptor: %w", err)
	}
	return b, nil
}

// ImportDescriptor parses a Descriptor produced by ExportDescriptor.
func ImportDescriptor(data []byte) (*ImportedServer, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: import descriptor: %w", err)
	}
	if d.WSURL == "" {
		return nil, fmt.Errorf("config: import descriptor: missing ws_url")
	}
	if d.PubKeyB64 == "" {
		return nil, fmt.Errorf("config: import descriptor: missing pubkey")
	}
	return &ImportedServer{
		Name:      d.Name,
		WSURL:     d.WSURL,
		Algorithm: d.Algorithm,
		PubKeyB64: d.PubKeyB64,
		Allow:     d.Allow,
	}, nil
}
