package config

import (
	"time"

	"github.com/socialrelay/socialrelay/internal/core/engine"
	"github.com/socialrelay/socialrelay/internal/core/oauth"
	"github.com/socialrelay/socialrelay/internal/core/platform"
)

// Config represents the complete application configuration, resolved in
// layers: in-code defaults, the user config file, SOCIALRELAY_* environment
// variables and runtime overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Security  SecurityConfig  `mapstructure:"security"`
	Platforms PlatformsConfig `mapstructure:"platforms"`
	Client    ClientConfig    `mapstructure:"client"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Connect   ConnectConfig   `mapstructure:"connect"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`

	// Retry overrides the per-platform retry policy. Zero fields keep the
	// platform default.
	Retry map[string]engine.RetryConfig `mapstructure:"retry"`

	// RateLimits overrides or adds limiter presets by name.
	RateLimits      map[string]engine.RateLimitPreset `mapstructure:"rate_limits"`
	RateLimitMargin float64                           `mapstructure:"rate_limit_margin" validate:"gt=0,lte=1"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" validate:"omitempty,oneof=libsql"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// SecurityConfig holds the master secret tokens are sealed with. The store
// refuses to open without it unless AllowPlaintextTokens is set.
type SecurityConfig struct {
	TokenEncryptionKey   string `mapstructure:"token_encryption_key" validate:"omitempty,min=16"`
	AllowPlaintextTokens bool   `mapstructure:"allow_plaintext_tokens"`
}

// PlatformsConfig holds OAuth client credentials and API endpoints.
type PlatformsConfig struct {
	Instagram PlatformConfig `mapstructure:"instagram"`
	Facebook  PlatformConfig `mapstructure:"facebook"`
	Twitter   TwitterConfig  `mapstructure:"twitter"`
}

// PlatformConfig is one platform's OAuth app and API base URL. APIURL serves
// both token refresh and proxied requests; AuthURL, TokenURL and Scopes drive
// the connect flow.
type PlatformConfig struct {
	platform.Credentials `mapstructure:",squash"`

	APIURL   string   `mapstructure:"api_url" validate:"omitempty,url"`
	AuthURL  string   `mapstructure:"auth_url" validate:"omitempty,url"`
	TokenURL string   `mapstructure:"token_url" validate:"omitempty,url"`
	Scopes   []string `mapstructure:"scopes"`
}

// TwitterConfig adds token revocation.
type TwitterConfig struct {
	PlatformConfig `mapstructure:",squash"`

	RevokeURL string `mapstructure:"revoke_url" validate:"omitempty,url"`
}

// ClientConfig tunes the outbound API client.
type ClientConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	BatchPause time.Duration `mapstructure:"batch_pause" validate:"gte=0"`
}

// TokensConfig controls when tokens are treated as stale.
type TokensConfig struct {
	RefreshBuffer time.Duration `mapstructure:"refresh_buffer" validate:"gte=0"`
}

// SchedulerConfig controls the background token refresher.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	oauth.SchedulerConfig `mapstructure:",squash"`
}

// ConnectConfig controls the OAuth connect flow.
type ConnectConfig struct {
	// StateTTL bounds how long an authorization request stays redeemable.
	StateTTL time.Duration `mapstructure:"state_ttl" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile" validate:"omitempty,oneof=simple structured"`

	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
