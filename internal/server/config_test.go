package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tcpchat/internal/auth"
	"github.com/Tyrowin/tcpchat/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:50000", cfg.Addr)
	assert.Empty(t, cfg.WebSocketAddr)
	assert.Zero(t, cfg.MaxFrameSize)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Zero(t, cfg.MaxQueuedFrames)
	assert.Zero(t, cfg.RateLimit.Burst)
	assert.Equal(t, auth.SchemeSHA256, cfg.PasswordHash)
	assert.Equal(t, logging.DefaultConfig(), cfg.Log)
	assert.NoError(t, cfg.Validate())
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Addr:            "  ",
		MaxFrameSize:    -1,
		IdleTimeout:     -time.Second,
		WriteTimeout:    0,
		MaxQueuedFrames: -3,
		RateLimit:       RateLimitConfig{Burst: -1},
		PasswordHash:    " BCRYPT ",
	})

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Zero(t, cfg.MaxFrameSize)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Equal(t, defaultWriteTimeout, cfg.WriteTimeout)
	assert.Zero(t, cfg.MaxQueuedFrames)
	assert.Zero(t, cfg.RateLimit.Burst)
	assert.Equal(t, defaultRefillInterval, cfg.RateLimit.RefillInterval)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, auth.SchemeBcrypt, cfg.PasswordHash)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PasswordHash = "md5"
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnknownScheme)
	assert.ErrorIs(t, err, logging.ErrInvalidLevel)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHAT_ADDR", "0.0.0.0:6000")
	t.Setenv("CHAT_WS_ADDR", ":8080")
	t.Setenv("CHAT_ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("CHAT_MAX_FRAME_SIZE", "4096")
	t.Setenv("CHAT_IDLE_TIMEOUT", "90")
	t.Setenv("CHAT_WRITE_TIMEOUT", "2s")
	t.Setenv("CHAT_MAX_QUEUED_FRAMES", "100")
	t.Setenv("CHAT_RATE_LIMIT_BURST", "5")
	t.Setenv("CHAT_RATE_LIMIT_REFILL_INTERVAL", "500ms")
	t.Setenv("CHAT_PASSWORD_HASH", "bcrypt")
	t.Setenv("CHAT_LOG_LEVEL", "debug")
	t.Setenv("CHAT_LOG_FORMAT", "json")
	t.Setenv("CHAT_LOG_OUTPUT", "stdout")

	cfg := NewConfigFromEnv()

	assert.Equal(t, "0.0.0.0:6000", cfg.Addr)
	assert.Equal(t, ":8080", cfg.WebSocketAddr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxFrameSize)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 100, cfg.MaxQueuedFrames)
	assert.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: 500 * time.Millisecond}, cfg.RateLimit)
	assert.Equal(t, "bcrypt", cfg.PasswordHash)
	assert.Equal(t, logging.Config{Level: "debug", Format: "json", Output: "stdout"}, cfg.Log)
}

func TestApplyEnvKeepsValuesOnBadInput(t *testing.T) {
	t.Setenv("CHAT_MAX_FRAME_SIZE", "-5")
	t.Setenv("CHAT_IDLE_TIMEOUT", "soon")
	t.Setenv("CHAT_RATE_LIMIT_BURST", "many")

	cfg := DefaultConfig()
	cfg.MaxFrameSize = 10
	ApplyEnv(&cfg)

	assert.Equal(t, int64(10), cfg.MaxFrameSize)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Zero(t, cfg.RateLimit.Burst)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonc")
	content := `{
		// listener
		"addr": "127.0.0.1:7000",
		"websocket_addr": "127.0.0.1:7001",
		"allowed_origins": ["*"],
		"idle_timeout": "5m",
		"write_timeout": 3,
		"rate_limit": {"burst": 20},
		"seed_users": [
			{"username": "admin", "password": "secret"},
		],
		"log": {"format": "json"},
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(path, &cfg))

	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "127.0.0.1:7001", cfg.WebSocketAddr)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, defaultRefillInterval, cfg.RateLimit.RefillInterval)
	assert.Equal(t, []SeedUser{{Username: "admin", Password: "secret"}}, cfg.SeedUsers)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, auth.SchemeSHA256, cfg.PasswordHash)
}

func TestLoadConfigFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, LoadConfigFile(filepath.Join(t.TempDir(), "missing.jsonc"), &cfg))

	path := filepath.Join(t.TempDir(), "bad.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"idle_timeout": "forever"}`), 0o600))
	assert.Error(t, LoadConfigFile(path, &cfg))
	assert.Zero(t, cfg.IdleTimeout)
}
