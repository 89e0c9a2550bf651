package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"server": {"host": "0.0.0.0", "port": 9000},
		"storage": {"provider": "badger", "path": "/tmp/disot", "cache_size": 64},
		"signature": {"algorithm": "secp256k1"},
		"log_level": "debug"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Storage.Provider)
	assert.Equal(t, 64, cfg.Storage.CacheSize)
	assert.Equal(t, "secp256k1", cfg.Signature.Algorithm)
	assert.Equal(t, "debug", cfg.LogLevel)
	// defaults fill the rest
	assert.Equal(t, "disot", cfg.Storage.Namespace)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 7000
storage:
  provider: bolt
  path: ./data/disot.db
  compress: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "bolt", cfg.Storage.Provider)
	assert.True(t, cfg.Storage.Compress)
	assert.Equal(t, "mock-sha256", cfg.Signature.Algorithm)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeFile(t, "config.json", `{"storage": {"provider": "indexeddb"}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadDefaultWhenNoFile(t *testing.T) {
	t.Setenv("DISOT_ENV", "does-not-exist")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
