package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, SecretBackendFile, cfg.SecretBackend)
	assert.Equal(t, 100_000, cfg.MaxEvents)
}

func TestLoadWithEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
proxy_addr: "127.0.0.1:3128"
secret_backend: keyring
keyring_service: my-service
event_retention: 48h
max_events: 500
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3128", cfg.ProxyAddr)
	assert.Equal(t, SecretBackendKeyring, cfg.SecretBackend)
	assert.Equal(t, "my-service", cfg.KeyringService)
	assert.Equal(t, 48*time.Hour, cfg.EventRetention)
	assert.Equal(t, 500, cfg.MaxEvents)
	// Fields not present in the file keep their defaults.
	assert.Equal(t, Default().MalwareListBaseURL, cfg.MalwareListBaseURL)
}

func TestLoadWithMalformedYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSecretBackend(t *testing.T) {
	cfg := Default()
	cfg.SecretBackend = "vault"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMaxEvents(t *testing.T) {
	cfg := Default()
	cfg.MaxEvents = 0
	assert.Error(t, cfg.Validate())
}
