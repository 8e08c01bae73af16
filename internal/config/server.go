package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the server side's listen address, target whitelist,
// and long-term keypair path.
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	Allow       []string `yaml:"allow"` // "tcp/25565" style entries, parsed via policy.ParseTarget
	KeyPath     string   `yaml:"key_path"`
	Algorithm   string   `yaml:"algorithm"` // "rsa" or "ed25519"
	MetricsAddr string   `yaml:"metrics_addr"`
}

// Validate checks the required fields, mirroring
// internal/config/types.go's ServerConfig.Validate().
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if len(c.Allow) == 0 {
		return fmt.Errorf("config: at least one allow entry is required")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("config: key_path is required")
	}
	switch c.Algorithm {
	case "", "rsa", "ed25519":
	default:
		return fmt.Errorf("config: unknown algorithm %q", c.Algorithm)
	}
	return nil
}

func (c *ServerConfig) applyDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = "rsa"
	}
}

// LoadServerConfig reads and validates a server config file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c ServerConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
