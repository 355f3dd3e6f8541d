package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Supported codecs and duration strategies
var (
	SupportedCodecs     = []string{"flac", "mp3"}
	SupportedStrategies = []string{"auto", "probe", "metadata"}
)

// Config holds application configuration
type Config struct {
	// Backend credentials. The refresh token rotates on every exchange and
	// is only ever held in memory.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Tenant       string `yaml:"tenant"`

	Drive    string `yaml:"drive"`
	Root     string `yaml:"root"`
	GraphURL string `yaml:"graph_url"`
	ProxyURL string `yaml:"proxy_url"`

	Codec            string `yaml:"codec"`
	DurationStrategy string `yaml:"duration_strategy"`

	ListenAddr      string `yaml:"listen"`
	ScanConcurrency int    `yaml:"scan_concurrency"`

	// Logging configuration
	LogLevel    string `yaml:"log_level"`
	EnableDebug bool   `yaml:"debug"`
	QuietMode   bool   `yaml:"quiet"`
	LogFile     string `yaml:"log_file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Tenant:           "common",
		Drive:            "me",
		GraphURL:         "https://graph.microsoft.com/v1.0",
		Codec:            "flac",
		DurationStrategy: "auto",
		ListenAddr:       "127.0.0.1:8090",
		ScanConcurrency:  4,

		// Logging defaults
		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
	}
}

// LoadConfigFile reads a YAML file over the defaults. If path is empty the
// standard locations are searched; a missing file yields the defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	locations := []string{
		"./drivecast.yaml",
		"./drivecast.yml",
	}
	if home != "" {
		locations = append(locations,
			filepath.Join(home, ".config", "drivecast", "config.yaml"),
			filepath.Join(home, ".config", "drivecast", "config.yml"),
		)
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	c.ClientID = GetEnvWithDefault("DRIVECAST_CLIENT_ID", c.ClientID)
	c.ClientSecret = GetEnvWithDefault("DRIVECAST_CLIENT_SECRET", c.ClientSecret)
	c.RefreshToken = GetEnvWithDefault("DRIVECAST_REFRESH_TOKEN", c.RefreshToken)
	c.Tenant = GetEnvWithDefault("DRIVECAST_TENANT", c.Tenant)
	c.Drive = GetEnvWithDefault("DRIVECAST_DRIVE", c.Drive)
	c.Root = GetEnvWithDefault("DRIVECAST_ROOT", c.Root)
	c.GraphURL = GetEnvWithDefault("DRIVECAST_GRAPH_URL", c.GraphURL)
	c.ProxyURL = GetEnvWithDefault("DRIVECAST_PROXY", c.ProxyURL)
	c.Codec = GetEnvWithDefault("DRIVECAST_CODEC", c.Codec)
	c.DurationStrategy = GetEnvWithDefault("DRIVECAST_DURATION", c.DurationStrategy)
	c.ListenAddr = GetEnvWithDefault("DRIVECAST_LISTEN", c.ListenAddr)

	if n := os.Getenv("DRIVECAST_SCAN_CONCURRENCY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 && v <= 32 {
			c.ScanConcurrency = v
		}
	}

	// Load logging configuration from environment
	if logLevel := os.Getenv("DRIVECAST_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if debug := os.Getenv("DRIVECAST_DEBUG"); debug != "" {
		c.EnableDebug = debug == "true" || debug == "1"
	}

	if quiet := os.Getenv("DRIVECAST_QUIET"); quiet != "" {
		c.QuietMode = quiet == "true" || quiet == "1"
	}

	if logFile := os.Getenv("DRIVECAST_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.ClientID == "" {
		return NewConfigError("client_id", "client id is required")
	}

	if c.RefreshToken == "" {
		return NewConfigError("refresh_token", "refresh token is required").
			WithSuggestion("Set DRIVECAST_REFRESH_TOKEN rather than storing the token in a file")
	}

	if c.Drive == "" {
		return NewConfigError("drive", "drive location cannot be empty")
	}

	if strings.Contains(c.Root, ":") {
		return NewConfigError("root", fmt.Sprintf("catalog root %q must not contain ':'", c.Root))
	}

	if !strings.HasPrefix(c.GraphURL, "http://") && !strings.HasPrefix(c.GraphURL, "https://") {
		return NewConfigError("graph_url", "graph URL must start with http:// or https://")
	}

	if !lo.Contains(SupportedCodecs, c.Codec) {
		return NewConfigError("codec", fmt.Sprintf("unsupported codec %q, valid codecs: %v", c.Codec, SupportedCodecs))
	}

	if !lo.Contains(SupportedStrategies, c.DurationStrategy) {
		return NewConfigError("duration_strategy",
			fmt.Sprintf("unsupported duration strategy %q, valid strategies: %v", c.DurationStrategy, SupportedStrategies))
	}

	if c.ScanConcurrency < 1 || c.ScanConcurrency > 32 {
		return NewConfigError("scan_concurrency", fmt.Sprintf("invalid scan concurrency: %d (must be 1-32)", c.ScanConcurrency))
	}

	return nil
}

// ResolvedStrategy returns the effective duration strategy. "auto" probes
// FLAC streams and queries backend metadata for MP3.
func (c *Config) ResolvedStrategy() string {
	if c.DurationStrategy != "" && c.DurationStrategy != "auto" {
		return c.DurationStrategy
	}
	if c.Codec == "mp3" {
		return "metadata"
	}
	return "probe"
}

// NormalizedRoot returns the catalog root without surrounding separators
func (c *Config) NormalizedRoot() string {
	return strings.Trim(c.Root, "/")
}

// Summary describes the configuration without secret material
func (c *Config) Summary() string {
	return fmt.Sprintf("drive=%s root=%q codec=%s duration=%s tenant=%s client_secret_set=%v refresh_token_set=%v",
		c.Drive, c.NormalizedRoot(), c.Codec, c.ResolvedStrategy(), c.Tenant,
		c.ClientSecret != "", c.RefreshToken != "")
}
