// Package config provides centralized configuration management for socialrelay.
// Configuration is resolved in layers, later layers winning:
// Layer 1: in-code defaults (Defaults)
// Layer 2: the user config file (explicit path or XDG discovery)
// Layer 3: SOCIALRELAY_* environment variables, then runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/socialrelay/socialrelay/internal/appid"
	"github.com/socialrelay/socialrelay/internal/validate"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex

	// userConfigFile, when set, replaces XDG discovery of the user config.
	userConfigFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetUserConfigFile pins the user config layer to path. An empty path
// restores discovery.
func SetUserConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	userConfigFile = strings.TrimSpace(path)
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":             "localhost",
			"port":             8080,
			"read_timeout":     "30s",
			"write_timeout":    "30s",
			"idle_timeout":     "120s",
			"shutdown_timeout": "10s",
		},
		"store": map[string]any{
			"driver": "libsql",
		},
		"platforms": map[string]any{
			"instagram": map[string]any{
				"api_url":   "https://graph.instagram.com",
				"auth_url":  "https://api.instagram.com/oauth/authorize",
				"token_url": "https://api.instagram.com/oauth/access_token",
				"scopes":    []any{"user_profile", "user_media"},
			},
			"facebook": map[string]any{
				"api_url":   "https://graph.facebook.com/v18.0",
				"auth_url":  "https://www.facebook.com/v18.0/dialog/oauth",
				"token_url": "https://graph.facebook.com/v18.0/oauth/access_token",
				"scopes":    []any{"pages_manage_posts", "pages_read_engagement", "pages_show_list"},
			},
			"twitter": map[string]any{
				"api_url":    "https://api.twitter.com/2",
				"auth_url":   "https://twitter.com/i/oauth2/authorize",
				"token_url":  "https://api.twitter.com/2/oauth2/token",
				"revoke_url": "https://api.twitter.com/2/oauth2/revoke",
				"scopes":     []any{"tweet.read", "tweet.write", "users.read", "offline.access"},
			},
		},
		"client": map[string]any{
			"timeout":     "30s",
			"batch_pause": "100ms",
		},
		"tokens": map[string]any{
			"refresh_buffer": "5m",
		},
		"scheduler": map[string]any{
			"enabled":     true,
			"interval":    "30m",
			"max_retries": 3,
			"retry_delay": "2m",
			"batch_size":  5,
			"lookahead":   "1h",
		},
		"connect": map[string]any{
			"state_ttl": "10m",
		},
		"logging": map[string]any{
			"level":       "info",
			"profile":     "structured",
			"environment": "production",
		},
		"metrics": map[string]any{
			"enabled": true,
			"port":    9090,
		},
		"health": map[string]any{
			"enabled": true,
		},
		"debug": map[string]any{
			"enabled":       false,
			"pprof_enabled": false,
		},
		"rate_limit_margin": 1.0,
	}
}

// Load resolves, decodes and validates the configuration.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	layers := []map[string]any{Defaults()}

	user, err := loadUserConfig()
	if err != nil {
		return nil, err
	}
	if user != nil {
		layers = append(layers, user)
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}

	prefix := envPrefix()
	if value := strings.TrimSpace(os.Getenv(prefix + "RATE_LIMIT_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit margin: %w", err)
		}
		envOverrides["rate_limit_margin"] = margin
	}
	if err := applyDynamicEnvOverrides(prefix, os.Environ(), envOverrides); err != nil {
		return nil, err
	}

	layers = append(layers, envOverrides)
	layers = append(layers, runtimeOverrides...)

	merged := map[string]any{}
	for _, layer := range layers {
		mergeInto(merged, layer)
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %s", validate.Summary(err))
	}

	setConfig(cfg)
	return cfg, nil
}

func decode(merged map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// loadUserConfig reads the pinned config file, or the first discovered one.
// A pinned file must exist; discovered paths are optional.
func loadUserConfig() (map[string]any, error) {
	configMu.RLock()
	pinned := userConfigFile
	configMu.RUnlock()

	if pinned != "" {
		return readYAML(pinned)
	}

	for _, path := range getUserConfigPaths() {
		data, err := readYAML(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return data, err
	}
	return nil, nil
}

func readYAML(path string) (map[string]any, error) {
	// #nosec G304 -- path comes from the operator or XDG discovery
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	out := map[string]any{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return out, nil
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	id := appid.Get()
	var legacy []string
	if id.BinaryName != "" && id.BinaryName != id.ConfigName {
		legacy = append(legacy, id.BinaryName)
	}
	return gfconfig.GetAppConfigPaths(id.ConfigName, legacy...)
}

func envPrefix() string {
	prefix := appid.Get().EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	specs := []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},
		{Name: prefix + "ENVIRONMENT", Path: []string{"logging", "environment"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		{Name: prefix + "TOKEN_ENCRYPTION_KEY", Path: []string{"security", "token_encryption_key"}, Type: EnvString},
		{Name: prefix + "ALLOW_PLAINTEXT_TOKENS", Path: []string{"security", "allow_plaintext_tokens"}, Type: EnvBool},

		{Name: prefix + "TWITTER_REVOKE_URL", Path: []string{"platforms", "twitter", "revoke_url"}, Type: EnvString},

		{Name: prefix + "CLIENT_TIMEOUT", Path: []string{"client", "timeout"}, Type: EnvString},
		{Name: prefix + "CLIENT_BATCH_PAUSE", Path: []string{"client", "batch_pause"}, Type: EnvString},
		{Name: prefix + "TOKEN_REFRESH_BUFFER", Path: []string{"tokens", "refresh_buffer"}, Type: EnvString},

		{Name: prefix + "SCHEDULER_ENABLED", Path: []string{"scheduler", "enabled"}, Type: EnvBool},
		{Name: prefix + "SCHEDULER_INTERVAL", Path: []string{"scheduler", "interval"}, Type: EnvString},
		{Name: prefix + "SCHEDULER_MAX_RETRIES", Path: []string{"scheduler", "max_retries"}, Type: EnvInt},
		{Name: prefix + "SCHEDULER_RETRY_DELAY", Path: []string{"scheduler", "retry_delay"}, Type: EnvString},
		{Name: prefix + "SCHEDULER_BATCH_SIZE", Path: []string{"scheduler", "batch_size"}, Type: EnvInt},
		{Name: prefix + "SCHEDULER_LOOKAHEAD", Path: []string{"scheduler", "lookahead"}, Type: EnvString},

		{Name: prefix + "CONNECT_STATE_TTL", Path: []string{"connect", "state_ttl"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}

	// OAuth app credentials per platform
	for _, name := range []string{"instagram", "facebook", "twitter"} {
		upper := strings.ToUpper(name)
		specs = append(specs,
			EnvVarSpec{Name: prefix + upper + "_CLIENT_ID", Path: []string{"platforms", name, "client_id"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_CLIENT_SECRET", Path: []string{"platforms", name, "client_secret"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_REDIRECT_URL", Path: []string{"platforms", name, "redirect_url"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_API_URL", Path: []string{"platforms", name, "api_url"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_AUTH_URL", Path: []string{"platforms", name, "auth_url"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_TOKEN_URL", Path: []string{"platforms", name, "token_url"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_SCOPES", Path: []string{"platforms", name, "scopes"}, Type: EnvString},
		)
	}
	return specs
}

// applyDynamicEnvOverrides maps keyed settings that have no fixed binding:
//
//	{PREFIX}RATE_LIMITS_<NAME>_MAX_REQUESTS / _WINDOW
//	{PREFIX}RETRY_<PLATFORM>_MAX_ATTEMPTS / _BASE_DELAY / _MAX_DELAY / _MULTIPLIER
//
// Preset names use '-' where the variable uses '_' (FACEBOOK_PAGE -> facebook-page).
func applyDynamicEnvOverrides(prefix string, environ []string, envOverrides map[string]any) error {
	rateLimitPrefix := prefix + "RATE_LIMITS_"
	retryPrefix := prefix + "RETRY_"

	for _, item := range environ {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch {
		case strings.HasPrefix(key, rateLimitPrefix):
			if err := applyKeyedOverride(envOverrides, "rate_limits", key[len(rateLimitPrefix):], value,
				map[string]string{"MAX_REQUESTS": "max_requests", "WINDOW": "window"}); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case strings.HasPrefix(key, retryPrefix):
			if err := applyKeyedOverride(envOverrides, "retry", key[len(retryPrefix):], value,
				map[string]string{"MAX_ATTEMPTS": "max_attempts", "BASE_DELAY": "base_delay",
					"MAX_DELAY": "max_delay", "MULTIPLIER": "multiplier"}); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

func applyKeyedOverride(envOverrides map[string]any, section, raw, value string, fields map[string]string) error {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for suffix, field := range fields {
		if raw == suffix {
			return errors.New("missing name")
		}
		name, ok := strings.CutSuffix(raw, "_"+suffix)
		if !ok {
			continue
		}
		slug := toSlug(name)
		if slug == "" {
			return errors.New("missing name")
		}
		entry := ensureMap(ensureMap(envOverrides, section), slug)
		entry[field] = value
		return nil
	}
	return nil
}

// mergeInto deep-merges src into dst. Nested maps merge; everything else
// replaces.
func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := asMap(value)
		if srcIsMap {
			if dstMap, ok := asMap(dst[key]); ok {
				mergeInto(dstMap, srcMap)
				dst[key] = dstMap
				continue
			}
			copied := map[string]any{}
			mergeInto(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func toSlug(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, "-")
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.Get().ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.Get().ConfigName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	id := appid.Get()
	dataDir := gfconfig.GetAppDataDir(id.ConfigName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + id.BinaryName + ".db"
	}
	return filepath.Join(dataDir, id.BinaryName+".db")
}
