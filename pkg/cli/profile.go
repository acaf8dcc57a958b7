package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile holds connection defaults loaded from a YAML file. Command-line
// flags override profile values.
type Profile struct {
	// URL is the default endpoint, used when none is given on the command line.
	URL string `yaml:"url,omitempty"`

	// Headers are additional handshake request headers.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Subprotocols to offer during the handshake.
	Subprotocols []string `yaml:"subprotocols,omitempty"`

	// Timeout bounds the handshake, e.g. "30s".
	Timeout string `yaml:"timeout,omitempty"`

	// Transport selects the WebSocket library: "coder" or "gorilla".
	Transport string `yaml:"transport,omitempty"`

	// Log configures diagnostics output.
	Log struct {
		Level  string `yaml:"level,omitempty"`
		Format string `yaml:"format,omitempty"`
	} `yaml:"log,omitempty"`
}

// LoadProfile reads and parses a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return &p, nil
}

// timeoutDuration parses the profile timeout, returning 0 when unset.
func (p *Profile) timeoutDuration() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q in profile: %w", p.Timeout, err)
	}
	return d, nil
}
