// Package config manages zenohd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete zenohd configuration.
type Config struct {
	Session   SessionConfig   `koanf:"session"`
	Scouting  ScoutingConfig  `koanf:"scouting"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Subscribe []PathConfig    `koanf:"subscribe"`
	Queryable []QueryableConfig `koanf:"queryable"`
}

// SessionConfig holds spec.md §6's session-level keys.
type SessionConfig struct {
	// Mode is "client" or "peer".
	Mode string `koanf:"mode"`
	// Connect is a comma-separated list of egress endpoints.
	Connect string `koanf:"connect"`
	// Listen is a comma-separated list of ingress endpoints.
	Listen string `koanf:"listen"`
	// User and Password are optional credentials forwarded to the link.
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	SNResolution uint64        `koanf:"sn_resolution"`
	BatchSize    uint16        `koanf:"batch_size"`
	Lease        time.Duration `koanf:"lease"`
}

// ScoutingConfig holds spec.md §6's scouting keys.
type ScoutingConfig struct {
	// Timeout is the scouting budget in milliseconds.
	Timeout int `koanf:"timeout"`
	// What is the bitmask {router=1, peer=2, client=4} of roles to scout for.
	What    uint8  `koanf:"what"`
	Locator string `koanf:"locator"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// PathConfig declares a subscription to create on startup.
type PathConfig struct {
	Key string `koanf:"key"`
}

// QueryableConfig declares a queryable to create on startup.
type QueryableConfig struct {
	Key      string `koanf:"key"`
	Complete bool   `koanf:"complete"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Mode:         "client",
			SNResolution: 1 << 32,
			BatchSize:    2048,
			Lease:        10 * time.Second,
		},
		Scouting: ScoutingConfig{
			Timeout: 1000,
			What:    4, // client
			Locator: "udp/224.0.0.224:7446",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for zenohd configuration.
// Variables are named ZENOHD_<section>_<key>, e.g., ZENOHD_SESSION_CONNECT.
const envPrefix = "ZENOHD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (ZENOHD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	ZENOHD_SESSION_MODE      -> session.mode
//	ZENOHD_SESSION_CONNECT   -> session.connect
//	ZENOHD_SESSION_LISTEN    -> session.listen
//	ZENOHD_SCOUTING_TIMEOUT  -> scouting.timeout
//	ZENOHD_SCOUTING_WHAT     -> scouting.what
//	ZENOHD_METRICS_ADDR      -> metrics.addr
//	ZENOHD_LOG_LEVEL         -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ZENOHD_SESSION_CONNECT -> session.connect.
// Strips the ZENOHD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"session.mode":          defaults.Session.Mode,
		"session.sn_resolution": defaults.Session.SNResolution,
		"session.batch_size":    defaults.Session.BatchSize,
		"session.lease":         defaults.Session.Lease.String(),
		"scouting.timeout":      defaults.Scouting.Timeout,
		"scouting.what":         defaults.Scouting.What,
		"scouting.locator":      defaults.Scouting.Locator,
		"metrics.addr":          defaults.Metrics.Addr,
		"metrics.path":          defaults.Metrics.Path,
		"log.level":             defaults.Log.Level,
		"log.format":            defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidMode indicates session.mode is not client or peer.
	ErrInvalidMode = errors.New("session.mode must be client or peer")

	// ErrMissingEndpoint indicates neither connect nor listen was configured.
	ErrMissingEndpoint = errors.New("session.connect or session.listen must be set")

	// ErrInvalidScoutingTimeout indicates scouting.timeout is not positive.
	ErrInvalidScoutingTimeout = errors.New("scouting.timeout must be > 0")

	// ErrInvalidSubscribeKey indicates a declared subscription has an empty key.
	ErrInvalidSubscribeKey = errors.New("subscribe[].key must not be empty")

	// ErrInvalidQueryableKey indicates a declared queryable has an empty key.
	ErrInvalidQueryableKey = errors.New("queryable[].key must not be empty")
)

// ValidModes lists the recognized session.mode strings.
var ValidModes = map[string]bool{
	"client": true,
	"peer":   true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if !ValidModes[cfg.Session.Mode] {
		return fmt.Errorf("%q: %w", cfg.Session.Mode, ErrInvalidMode)
	}

	if cfg.Session.Connect == "" && cfg.Session.Listen == "" {
		return ErrMissingEndpoint
	}

	if cfg.Scouting.Timeout <= 0 {
		return ErrInvalidScoutingTimeout
	}

	for i, sub := range cfg.Subscribe {
		if sub.Key == "" {
			return fmt.Errorf("subscribe[%d]: %w", i, ErrInvalidSubscribeKey)
		}
	}

	for i, q := range cfg.Queryable {
		if q.Key == "" {
			return fmt.Errorf("queryable[%d]: %w", i, ErrInvalidQueryableKey)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
