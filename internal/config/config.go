// ABOUTME: Configuration loading and parsing for pdfchat-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a value is left unset.
const (
	DefaultHTTPAddr        = "localhost:8080"
	DefaultProviderTimeout = 120 * time.Second
	DefaultAppendTimeout   = 10 * time.Second
	DefaultReplayWindow    = 5 * time.Minute
	DefaultSessionTTL      = 7 * 24 * time.Hour
	DefaultMaxUploadBytes  = 20 << 20
	DefaultMetricsPath     = "/metrics"
	DefaultMCPPath         = "/mcp"

	// MinJWTSecretLength matches the verifier's minimum key size.
	MinJWTSecretLength = 32
)

// Config represents the complete pdfchat-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Provider     ProviderConfig     `yaml:"provider"`
	Conversation ConversationConfig `yaml:"conversation"`
	Uploads      UploadsConfig      `yaml:"uploads"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	MCP          MCPConfig          `yaml:"mcp"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // public HTTPS via Funnel
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session and Google sign-in configuration
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	GoogleClientID string `yaml:"google_client_id"`

	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// ProviderConfig selects and tunes the answer provider
type ProviderConfig struct {
	Kind     string `yaml:"kind"` // "gemini" or "echo"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`

	// RequestsPerSecond of zero disables client-side rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// Timeout bounds one provider call. Zero means no bound.
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// ConversationConfig holds ask-flow tuning
type ConversationConfig struct {
	// HistoryTurns is how many prior turns are folded into the prompt. Zero sends none.
	HistoryTurns int `yaml:"history_turns"`

	AppendTimeout time.Duration `yaml:"-"`
	ReplayWindow  time.Duration `yaml:"-"`

	AppendTimeoutRaw string `yaml:"append_timeout"`
	ReplayWindowRaw  string `yaml:"replay_window"`
}

// UploadsConfig limits PDF uploads
type UploadsConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig holds the MCP endpoint configuration
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, applying the same steps as Load.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if dbPath := os.Getenv("PDFCHAT_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = "gemini"
	}
	if c.Provider.TimeoutRaw == "" {
		c.Provider.Timeout = DefaultProviderTimeout
	}
	if c.Conversation.AppendTimeout == 0 {
		c.Conversation.AppendTimeout = DefaultAppendTimeout
	}
	if c.Conversation.ReplayWindow == 0 {
		c.Conversation.ReplayWindow = DefaultReplayWindow
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = DefaultMaxUploadBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.MCP.Path == "" {
		c.MCP.Path = DefaultMCPPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	switch c.Provider.Kind {
	case "", "gemini":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required for the gemini provider")
		}
	case "echo":
	default:
		return fmt.Errorf("provider.kind %q is not supported (gemini, echo)", c.Provider.Kind)
	}

	if c.Provider.RequestsPerSecond < 0 {
		return fmt.Errorf("provider.requests_per_second must not be negative")
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("provider.timeout must not be negative")
	}
	if c.Conversation.HistoryTurns < 0 {
		return fmt.Errorf("conversation.history_turns must not be negative")
	}
	if c.Uploads.MaxBytes < 0 {
		return fmt.Errorf("uploads.max_bytes must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (text, json)", c.Logging.Format)
	}

	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if c.MCP.Path != "" && !strings.HasPrefix(c.MCP.Path, "/") {
		return fmt.Errorf("mcp.path must start with /")
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
		{"auth.session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"provider.timeout", cfg.Provider.TimeoutRaw, &cfg.Provider.Timeout},
		{"conversation.append_timeout", cfg.Conversation.AppendTimeoutRaw, &cfg.Conversation.AppendTimeout},
		{"conversation.replay_window", cfg.Conversation.ReplayWindowRaw, &cfg.Conversation.ReplayWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
