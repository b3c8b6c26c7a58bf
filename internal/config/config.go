// Package config loads the library's YAML configuration: logging, outbound
// proxy, retry policy, serializer behavior, and per-provider credentials.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	// LogLevel selects the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log-level" json:"log-level"`

	// LoggingToFile redirects logs to a rotating file under LogDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotating log files. Defaults to "logs".
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// ProxyURL routes outbound requests through a proxy (http, https, socks5).
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RetryOn401 enables the single bounded retry after an auth failure.
	RetryOn401 bool `yaml:"retry-on-401" json:"retry-on-401"`

	// UnsupportedParts selects how serializers handle cross-provider parts
	// with no wire representation: "drop" (default) or "text".
	UnsupportedParts string `yaml:"unsupported-parts" json:"unsupported-parts"`

	// Providers lists configured upstream providers.
	Providers []ProviderConfig `yaml:"providers" json:"providers"`
}

// ProviderConfig describes one upstream provider entry.
type ProviderConfig struct {
	// Name selects the provider implementation (anthropic, openai).
	Name string `yaml:"name" json:"name"`

	// APIKey is the credential sent on every request. A ${VAR} value is
	// expanded from the environment at load time.
	APIKey string `yaml:"api-key" json:"-"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// Headers are extra headers attached to every request to this provider.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Options passes provider-specific settings (anthropic-version, beta
	// flags, organization).
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		LogDir:     "logs",
		RetryOn401: true,
	}
}

// LoadConfig reads and parses the YAML file at path. Missing optional fields
// fall back to defaults; ${VAR} references in api-key values are expanded
// from the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses raw YAML bytes into a Config.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = expandEnv(cfg.Providers[i].APIKey)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.UnsupportedParts {
	case "", "drop", "text":
	default:
		return fmt.Errorf("config: invalid unsupported-parts %q (want drop or text)", c.UnsupportedParts)
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider entry missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Provider returns the entry for name, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// expandEnv resolves a ${VAR} reference; other values pass through.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	}
	return value
}
