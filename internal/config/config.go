// ABOUTME: Configuration loading and parsing for voxplane
// ABOUTME: Supports YAML files with env var expansion, durations and env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the complete voxplane configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
	Context   ContextConfig   `yaml:"context"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" envconfig:"HTTP_ADDR"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"PATH"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// CacheConfig holds context cache configuration. Disabling the cache keeps
// the system correct, only slower.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"ENABLED"`
	TTL     time.Duration `yaml:"-"`
	MaxSize int           `yaml:"max_size" envconfig:"MAX_SIZE"`

	TTLRaw string `yaml:"ttl" envconfig:"TTL"`
}

// ContextConfig bounds the conversation context window
type ContextConfig struct {
	MessageWindow int `yaml:"message_window" envconfig:"MESSAGE_WINDOW"`
	SummaryWindow int `yaml:"summary_window" envconfig:"SUMMARY_WINDOW"`
}

// ReconcileConfig holds reconciler timing configuration
type ReconcileConfig struct {
	Interval      time.Duration `yaml:"-"`
	SessionMaxAge time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IntervalRaw      string `yaml:"interval" envconfig:"INTERVAL"`
	SessionMaxAgeRaw string `yaml:"session_max_age" envconfig:"SESSION_MAX_AGE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// VOXPLANE_* environment variables override file values, and duration
// strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// VOXPLANE_* env vars take precedence over file values
	if err := envconfig.Process("voxplane", cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a config with sensible defaults applied. Load starts from
// here so an omitted section does not mean a zeroed one.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "data/voxplane.db"},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
			MaxSize: 1000,
		},
		Context: ContextConfig{
			MessageWindow: 20,
			SummaryWindow: 3,
		},
		Reconcile: ReconcileConfig{
			Interval:      time.Minute,
			SessionMaxAge: time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. If the environment variable is not set, it
// is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure
// encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive when cache is enabled")
	}
	if c.Context.MessageWindow <= 0 {
		return fmt.Errorf("context.message_window must be positive")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Reconcile.IntervalRaw != "" {
		cfg.Reconcile.Interval, err = time.ParseDuration(cfg.Reconcile.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reconcile.interval %q: %w", cfg.Reconcile.IntervalRaw, err)
		}
	}

	if cfg.Reconcile.SessionMaxAgeRaw != "" {
		cfg.Reconcile.SessionMaxAge, err = time.ParseDuration(cfg.Reconcile.SessionMaxAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing reconcile.session_max_age %q: %w", cfg.Reconcile.SessionMaxAgeRaw, err)
		}
	}

	return nil
}
