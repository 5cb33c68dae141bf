package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:50000", cfg.Addr)
	assert.Empty(t, cfg.WebSocketAddr)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// file sets everything below
		"addr": "127.0.0.1:1111",
		"websocket_addr": "127.0.0.1:2222",
		"idle_timeout": "1m",
		"log": {"level": "warn"}
	}`), 0o600))

	t.Setenv("CHAT_WS_ADDR", "127.0.0.1:3333")
	t.Setenv("CHAT_IDLE_TIMEOUT", "2m")

	cfg, err := loadConfig([]string{"--config", path, "--idle-timeout", "3m"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:1111", cfg.Addr, "file overrides default")
	assert.Equal(t, "127.0.0.1:3333", cfg.WebSocketAddr, "env overrides file")
	assert.Equal(t, 3*time.Minute, cfg.IdleTimeout, "flag overrides env")
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := loadConfig([]string{
		"--addr", ":9000",
		"--allowed-origin", "http://a.example",
		"--allowed-origin", "http://b.example",
		"--rate-limit-burst", "4",
		"--password-hash", "bcrypt",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 4, cfg.RateLimit.Burst)
	assert.Equal(t, "bcrypt", cfg.PasswordHash)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig([]string{"--no-such-flag"})
	assert.Error(t, err)

	_, err = loadConfig([]string{"stray"})
	assert.Error(t, err)

	_, err = loadConfig([]string{"--config", filepath.Join(t.TempDir(), "missing.jsonc")})
	assert.Error(t, err)

	_, err = loadConfig([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}
