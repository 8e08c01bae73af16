// Package config holds the YAML/JSON-backed configuration shapes for
// both sides of mcc: the client's port-mapping config, the server's
// TargetPolicy config, and the JSON server-descriptor exchange format
// (SUPPLEMENTED FEATURES). Adapted from the teacher's internal/config.go
// load-with-defaults pattern and internal/config/types.go's Validate()
// convention.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mapping describes one client-side port mapping: a local bind that
// tunnels to a remote target through a server's WebSocket endpoint.
type Mapping struct {
	Name       string        `yaml:"name"`
	WSURL      string        `yaml:"ws_url"`
	BindAddr   string        `yaml:"bind_addr"`
	RemotePort uint16        `yaml:"remote_port"`
	Proto      string        `yaml:"proto"` // "tcp" or "udp"
	PingPeriod time.Duration `yaml:"ping_period"`
	PubKeyB64  string        `yaml:"pubkey"` // base64 of the server's long-term public key
}

// ClientConfig is the top-level client config file: one or more
// mappings started together.
type ClientConfig struct {
	Mappings []Mapping `yaml:"mappings"`
}

// Validate checks the fields Load cannot default its way out of,
// mirroring internal/config/types.go's ServerConfig.Validate().
func (m *Mapping) Validate() error {
	if m.WSURL == "" {
		return fmt.Errorf("config: mapping %q: ws_url is required", m.Name)
	}
	if m.BindAddr == "" {
		return fmt.Errorf("config: mapping %q: bind_addr is required", m.Name)
	}
	if m.RemotePort == 0 {
		return fmt.Errorf("config: mapping %q: remote_port is required", m.Name)
	}
	switch m.Proto {
	case "tcp", "udp":
	default:
		return fmt.Errorf("config: mapping %q: proto must be tcp or udp, got %q", m.Name, m.Proto)
	}
	if m.PubKeyB64 == "" {
		return fmt.Errorf("config: mapping %q: pubkey is required", m.Name)
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	for i := range c.Mappings {
		if c.Mappings[i].PingPeriod == 0 {
			c.Mappings[i].PingPeriod = 15 * time.Second
		}
		if c.Mappings[i].Proto == "" {
			c.Mappings[i].Proto = "tcp"
		}
	}
}

// LoadClientConfig reads and validates a client mapping config file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c ClientConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	for i := range c.Mappings {
		if err := c.Mappings[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
