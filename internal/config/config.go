// ABOUTME: Configuration loading and parsing for daisyd
// ABOUTME: Supports YAML and TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding config values are absent.
const (
	DefaultClaimTTL       = 120 * time.Second
	DefaultPollInterval   = 300 * time.Millisecond
	DefaultStartupTimeout = 10 * time.Second
)

// Config represents the complete daisyd configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Claims    ClaimsConfig    `yaml:"claims" toml:"claims"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the listen address for the protocol server
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration for remote observers
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration for the observer API.
// When JWTSecret is empty the /api endpoints are served unauthenticated.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SessionsConfig holds agent session supervision configuration
type SessionsConfig struct {
	// Command is the program launched for each agent session.
	Command string `yaml:"command" toml:"command"`
	// Backend selects the process backend: "tmux" (default) or "pty".
	Backend string `yaml:"backend" toml:"backend"`

	PollInterval   time.Duration `yaml:"-" toml:"-"`
	StartupTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for file unmarshaling
	PollIntervalRaw   string `yaml:"poll_interval" toml:"poll_interval"`
	StartupTimeoutRaw string `yaml:"startup_timeout" toml:"startup_timeout"`
}

// ClaimsConfig holds file claim lease configuration
type ClaimsConfig struct {
	TTL time.Duration `yaml:"-" toml:"-"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The listen address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if b := c.Sessions.Backend; b != "" && b != "tmux" && b != "pty" {
		return fmt.Errorf("sessions.backend must be \"tmux\" or \"pty\", got %q", b)
	}

	return nil
}

// applyDefaults fills in zero-valued timing fields.
func applyDefaults(cfg *Config) {
	if cfg.Claims.TTL == 0 {
		cfg.Claims.TTL = DefaultClaimTTL
	}
	if cfg.Sessions.PollInterval == 0 {
		cfg.Sessions.PollInterval = DefaultPollInterval
	}
	if cfg.Sessions.StartupTimeout == 0 {
		cfg.Sessions.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "tmux"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Claims.TTLRaw != "" {
		cfg.Claims.TTL, err = time.ParseDuration(cfg.Claims.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing claims.ttl %q: %w", cfg.Claims.TTLRaw, err)
		}
	}

	if cfg.Sessions.PollIntervalRaw != "" {
		cfg.Sessions.PollInterval, err = time.ParseDuration(cfg.Sessions.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.poll_interval %q: %w", cfg.Sessions.PollIntervalRaw, err)
		}
	}

	if cfg.Sessions.StartupTimeoutRaw != "" {
		cfg.Sessions.StartupTimeout, err = time.ParseDuration(cfg.Sessions.StartupTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.startup_timeout %q: %w", cfg.Sessions.StartupTimeoutRaw, err)
		}
	}

	return nil
}
