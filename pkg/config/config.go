// Package config loads the process-level YAML configuration: listener
// addresses, data directory, secret backend choice, and the reporting
// endpoint for blocked-event notifications.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretBackend selects which secretstore.Store implementation to build.
type SecretBackend string

const (
	SecretBackendFile    SecretBackend = "file"
	SecretBackendKeyring SecretBackend = "keyring"
	SecretBackendMemory  SecretBackend = "memory"
)

// Config is the top-level YAML document.
type Config struct {
	DataDir string `yaml:"data_dir"`

	ProxyAddr string `yaml:"proxy_addr"`
	MetaAddr  string `yaml:"meta_addr"`

	// MitmAll forces TLS termination for every CONNECT target, not just
	// ones matched by a firewall rule or the connectivity probe domain.
	MitmAll bool `yaml:"mitm_all"`

	SecretBackend SecretBackend `yaml:"secret_backend"`
	KeyringService string       `yaml:"keyring_service"`

	ReportingEndpoint string `yaml:"reporting_endpoint"`

	MalwareListBaseURL string        `yaml:"malware_list_base_url"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`

	EventRetention time.Duration `yaml:"event_retention"`
	MaxEvents      int           `yaml:"max_events"`

	Verbose bool `yaml:"verbose"`
}

// Default returns a Config populated with sensible defaults for running
// without an explicit config file.
func Default() Config {
	return Config{
		DataDir:            "./data",
		ProxyAddr:          "127.0.0.1:0",
		MetaAddr:           "127.0.0.1:0",
		SecretBackend:      SecretBackendFile,
		KeyringService:     "aikido-safe-chain",
		MalwareListBaseURL: "https://malware-list.aikido.dev",
		RefreshInterval:    10 * time.Minute,
		EventRetention:     7 * 24 * time.Hour,
		MaxEvents:          100_000,
	}
}

// Load reads and parses the YAML file at path, applying it on top of
// Default. A missing path is not an error: Default() is returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	switch c.SecretBackend {
	case SecretBackendFile, SecretBackendKeyring, SecretBackendMemory:
	default:
		return fmt.Errorf("config: unrecognized secret_backend %q", c.SecretBackend)
	}
	if c.MaxEvents < 1 {
		return fmt.Errorf("config: max_events must be >= 1")
	}
	return nil
}
