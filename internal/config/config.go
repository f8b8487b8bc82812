// ABOUTME: Configuration loading and parsing for coven-console
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied when a setting is absent.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMessagePageSize   = 15
	DefaultListPageSize      = 50
	DefaultOptimisticWindow  = 5 * time.Second
	DefaultJustSentTTL       = 60 * time.Second
	DefaultRecencyWindow     = 60 * time.Second
	DefaultRefreshInterval   = 3 * time.Second
	DefaultAwaitingAfter     = 5 * time.Second
	DefaultErrorAfter        = 60 * time.Second
	DefaultMetricsAddr       = "127.0.0.1:9464"
)

// Config represents the complete coven-console configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Identity   IdentityConfig   `yaml:"identity" toml:"identity"`
	Stream     StreamConfig     `yaml:"stream" toml:"stream"`
	Pagination PaginationConfig `yaml:"pagination" toml:"pagination"`
	Sync       SyncConfig       `yaml:"sync" toml:"sync"`
	Handover   HandoverConfig   `yaml:"handover" toml:"handover"`
	Reply      ReplyConfig      `yaml:"reply" toml:"reply"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the platform address
type ServerConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// AuthConfig holds the bearer token sent with every request
type AuthConfig struct {
	Token string `yaml:"token" toml:"token"`
}

// IdentityConfig is the actor the console sends as when a thread does not
// name one
type IdentityConfig struct {
	ParticipantID string `yaml:"participant_id" toml:"participant_id"`
	WorkflowType  string `yaml:"workflow_type" toml:"workflow_type"`
	WorkflowID    string `yaml:"workflow_id" toml:"workflow_id"`
}

// StreamConfig holds push stream settings
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// PaginationConfig holds page sizes
type PaginationConfig struct {
	MessagePageSize int `yaml:"message_page_size" toml:"message_page_size"`
	ListPageSize    int `yaml:"list_page_size" toml:"list_page_size"`
}

// SyncConfig holds optimistic write settings
type SyncConfig struct {
	OptimisticWindow time.Duration `yaml:"-" toml:"-"`
	JustSentTTL      time.Duration `yaml:"-" toml:"-"`

	OptimisticWindowRaw string `yaml:"optimistic_window" toml:"optimistic_window"`
	JustSentTTLRaw      string `yaml:"just_sent_ttl" toml:"just_sent_ttl"`
}

// HandoverConfig holds handover detection settings
type HandoverConfig struct {
	RecencyWindow   time.Duration `yaml:"-" toml:"-"`
	RefreshInterval time.Duration `yaml:"-" toml:"-"`

	RecencyWindowRaw   string `yaml:"recency_window" toml:"recency_window"`
	RefreshIntervalRaw string `yaml:"refresh_interval" toml:"refresh_interval"`
}

// ReplyConfig holds the reply indicator thresholds
type ReplyConfig struct {
	AwaitingAfter time.Duration `yaml:"-" toml:"-"`
	ErrorAfter    time.Duration `yaml:"-" toml:"-"`

	AwaitingAfterRaw string `yaml:"awaiting_after" toml:"awaiting_after"`
	ErrorAfterRaw    string `yaml:"error_after" toml:"error_after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// DefaultPath returns the path to the console config file.
// Priority: COVEN_CONSOLE_CONFIG env var > XDG_CONFIG_HOME/coven/console.yaml > ~/.config/coven/console.yaml
func DefaultPath() string {
	if envPath := os.Getenv("COVEN_CONSOLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "console.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, isTOMLPath(path))
}

// LoadOptional is like Load but does not validate, and treats a missing
// file as empty so flags and environment variables can supply everything.
// Callers apply their overrides and then call Validate.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Decode(data, isTOMLPath(path))
}

// Parse decodes configuration content, applies defaults and validates it.
func Parse(data []byte, isTOML bool) (*Config, error) {
	cfg, err := Decode(data, isTOML)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Decode decodes configuration content and applies defaults without
// validating it.
func Decode(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
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
	cfg.applyDefaults()

	return &cfg, nil
}

func isTOMLPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
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

func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = os.Getenv("COVEN_CONSOLE_BASE_URL")
	}
	if c.Auth.Token == "" {
		c.Auth.Token = os.Getenv("COVEN_CONSOLE_TOKEN")
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Pagination.MessagePageSize == 0 {
		c.Pagination.MessagePageSize = DefaultMessagePageSize
	}
	if c.Pagination.ListPageSize == 0 {
		c.Pagination.ListPageSize = DefaultListPageSize
	}
	if c.Sync.OptimisticWindow == 0 {
		c.Sync.OptimisticWindow = DefaultOptimisticWindow
	}
	if c.Sync.JustSentTTL == 0 {
		c.Sync.JustSentTTL = DefaultJustSentTTL
	}
	if c.Handover.RecencyWindow == 0 {
		c.Handover.RecencyWindow = DefaultRecencyWindow
	}
	if c.Handover.RefreshInterval == 0 {
		c.Handover.RefreshInterval = DefaultRefreshInterval
	}
	if c.Reply.AwaitingAfter == 0 {
		c.Reply.AwaitingAfter = DefaultAwaitingAfter
	}
	if c.Reply.ErrorAfter == 0 {
		c.Reply.ErrorAfter = DefaultErrorAfter
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("server.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url must use http or https scheme")
	}

	if c.Pagination.MessagePageSize < 0 || c.Pagination.ListPageSize < 0 {
		return fmt.Errorf("pagination page sizes must be positive")
	}
	if c.Reply.ErrorAfter <= c.Reply.AwaitingAfter {
		return fmt.Errorf("reply.error_after must be longer than reply.awaiting_after")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"stream.heartbeat_interval", cfg.Stream.HeartbeatIntervalRaw, &cfg.Stream.HeartbeatInterval},
		{"sync.optimistic_window", cfg.Sync.OptimisticWindowRaw, &cfg.Sync.OptimisticWindow},
		{"sync.just_sent_ttl", cfg.Sync.JustSentTTLRaw, &cfg.Sync.JustSentTTL},
		{"handover.recency_window", cfg.Handover.RecencyWindowRaw, &cfg.Handover.RecencyWindow},
		{"handover.refresh_interval", cfg.Handover.RefreshIntervalRaw, &cfg.Handover.RefreshInterval},
		{"reply.awaiting_after", cfg.Reply.AwaitingAfterRaw, &cfg.Reply.AwaitingAfter},
		{"reply.error_after", cfg.Reply.ErrorAfterRaw, &cfg.Reply.ErrorAfter},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
