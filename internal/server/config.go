// Package server provides configuration helpers that define runtime defaults,
// sanitization, environment and file overlays, and rate-limiting parameters
// for the chat service.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/Tyrowin/tcpchat/internal/auth"
	"github.com/Tyrowin/tcpchat/internal/logging"
)

const (
	defaultAddr            = "127.0.0.1:50000"
	defaultWriteTimeout    = 10 * time.Second
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// RateLimitConfig defines the parameters for per-connection request rate
// limiting. A Burst of zero disables the limiter.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// SeedUser is an account registered when the server starts.
type SeedUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config holds the server configuration settings.
//
// Zero values for the optional caps (MaxFrameSize, IdleTimeout,
// MaxQueuedFrames, RateLimit.Burst) leave the corresponding protection off.
type Config struct {
	Addr            string
	WebSocketAddr   string
	AllowedOrigins  []string
	MaxFrameSize    int64
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxQueuedFrames int
	RateLimit       RateLimitConfig
	PasswordHash    string
	ShutdownTimeout time.Duration
	SeedUsers       []SeedUser
	Log             logging.Config
}

// DefaultConfig returns a Config populated with default values for all
// settings.
func DefaultConfig() Config {
	return Config{
		Addr:         defaultAddr,
		WriteTimeout: defaultWriteTimeout,
		RateLimit: RateLimitConfig{
			RefillInterval: defaultRefillInterval,
		},
		PasswordHash:    auth.SchemeSHA256,
		ShutdownTimeout: defaultShutdownTimeout,
		Log:             logging.DefaultConfig(),
	}
}

// NewConfig creates a Config instance populated with default values.
func NewConfig() *Config {
	cfg := DefaultConfig()
	return &cfg
}

func sanitizeConfig(cfg Config) Config {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	cfg.WebSocketAddr = strings.TrimSpace(cfg.WebSocketAddr)

	if cfg.MaxFrameSize < 0 {
		cfg.MaxFrameSize = 0
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxQueuedFrames < 0 {
		cfg.MaxQueuedFrames = 0
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.PasswordHash = strings.ToLower(strings.TrimSpace(cfg.PasswordHash))
	if cfg.PasswordHash == "" {
		cfg.PasswordHash = auth.SchemeSHA256
	}

	defaults := logging.DefaultConfig()
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Format
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = defaults.Output
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	cfg.SeedUsers = append([]SeedUser(nil), cfg.SeedUsers...)
	return cfg
}

// Validate reports settings that cannot be repaired by sanitization.
func (c Config) Validate() error {
	var errs []error
	if _, err := auth.NewHasher(c.PasswordHash); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(&cfg)
	return &cfg
}

// ApplyEnv overlays the CHAT_* environment variables onto cfg. Unset or
// unparsable values leave the current setting in place.
func ApplyEnv(cfg *Config) {
	if addr := os.Getenv("CHAT_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if addr := os.Getenv("CHAT_WS_ADDR"); addr != "" {
		cfg.WebSocketAddr = addr
	}

	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("CHAT_MAX_FRAME_SIZE"); maxSize != "" {
		cfg.MaxFrameSize = parseMaxFrameSize(maxSize, cfg.MaxFrameSize)
	}

	if idle := os.Getenv("CHAT_IDLE_TIMEOUT"); idle != "" {
		cfg.IdleTimeout = parseDuration(idle, cfg.IdleTimeout)
	}

	if write := os.Getenv("CHAT_WRITE_TIMEOUT"); write != "" {
		cfg.WriteTimeout = parseDuration(write, cfg.WriteTimeout)
	}

	if queued := os.Getenv("CHAT_MAX_QUEUED_FRAMES"); queued != "" {
		cfg.MaxQueuedFrames = parseIntValue(queued, cfg.MaxQueuedFrames)
	}

	if burst := os.Getenv("CHAT_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("CHAT_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if scheme := os.Getenv("CHAT_PASSWORD_HASH"); scheme != "" {
		cfg.PasswordHash = scheme
	}

	if level := os.Getenv("CHAT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if format := os.Getenv("CHAT_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	if output := os.Getenv("CHAT_LOG_OUTPUT"); output != "" {
		cfg.Log.Output = output
	}
}

// fileConfig mirrors Config for JSONC files. Pointer fields distinguish
// "absent" from zero so a file only overrides what it names.
type fileConfig struct {
	Addr            *string   `json:"addr"`
	WebSocketAddr   *string   `json:"websocket_addr"`
	AllowedOrigins  []string  `json:"allowed_origins"`
	MaxFrameSize    *int64    `json:"max_frame_size"`
	IdleTimeout     *duration `json:"idle_timeout"`
	WriteTimeout    *duration `json:"write_timeout"`
	MaxQueuedFrames *int      `json:"max_queued_frames"`
	RateLimit       *struct {
		Burst          *int      `json:"burst"`
		RefillInterval *duration `json:"refill_interval"`
	} `json:"rate_limit"`
	PasswordHash    *string         `json:"password_hash"`
	ShutdownTimeout *duration       `json:"shutdown_timeout"`
	SeedUsers       []SeedUser      `json:"seed_users"`
	Log             *logging.Config `json:"log"`
}

// LoadConfigFile overlays the JSONC file at path onto cfg. Comments and
// trailing commas are allowed.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc fileConfig) apply(cfg *Config) {
	if fc.Addr != nil {
		cfg.Addr = *fc.Addr
	}
	if fc.WebSocketAddr != nil {
		cfg.WebSocketAddr = *fc.WebSocketAddr
	}
	if fc.AllowedOrigins != nil {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.MaxFrameSize != nil {
		cfg.MaxFrameSize = *fc.MaxFrameSize
	}
	if fc.IdleTimeout != nil {
		cfg.IdleTimeout = time.Duration(*fc.IdleTimeout)
	}
	if fc.WriteTimeout != nil {
		cfg.WriteTimeout = time.Duration(*fc.WriteTimeout)
	}
	if fc.MaxQueuedFrames != nil {
		cfg.MaxQueuedFrames = *fc.MaxQueuedFrames
	}
	if fc.RateLimit != nil {
		if fc.RateLimit.Burst != nil {
			cfg.RateLimit.Burst = *fc.RateLimit.Burst
		}
		if fc.RateLimit.RefillInterval != nil {
			cfg.RateLimit.RefillInterval = time.Duration(*fc.RateLimit.RefillInterval)
		}
	}
	if fc.PasswordHash != nil {
		cfg.PasswordHash = *fc.PasswordHash
	}
	if fc.ShutdownTimeout != nil {
		cfg.ShutdownTimeout = time.Duration(*fc.ShutdownTimeout)
	}
	if fc.SeedUsers != nil {
		cfg.SeedUsers = fc.SeedUsers
	}
	if fc.Log != nil {
		if fc.Log.Level != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if fc.Log.Format != "" {
			cfg.Log.Format = fc.Log.Format
		}
		if fc.Log.Output != "" {
			cfg.Log.Output = fc.Log.Output
		}
	}
}

// duration accepts either a Go duration string ("1.5s") or a number of
// seconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = duration(parsed)
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(b, &seconds); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = duration(seconds * float64(time.Second))
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxFrameSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size >= 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts a Go duration string or a whole number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
