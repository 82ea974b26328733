// Package config loads cdpmux settings from a YAML file and CDPMUX_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvEndpoint          = "CDPMUX_ENDPOINT"
	EnvTimeout           = "CDPMUX_TIMEOUT"
	EnvNavigationTimeout = "CDPMUX_NAVIGATION_TIMEOUT"
	EnvReadLimit         = "CDPMUX_READ_LIMIT"
	EnvNetworkEvents     = "CDPMUX_NETWORK_EVENTS"
	EnvEventBuffer       = "CDPMUX_EVENT_BUFFER"
	EnvDebug             = "CDPMUX_DEBUG"
)

// Duration is a time.Duration written as a string ("30s", "2m") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds connection and output settings.
type Config struct {
	// Endpoint is a ws:// URL or a host:port debugging address.
	Endpoint          string   `yaml:"endpoint"`
	Timeout           Duration `yaml:"timeout"`
	NavigationTimeout Duration `yaml:"navigation_timeout"`
	ReadLimit         int64    `yaml:"read_limit"`
	NetworkEvents     bool     `yaml:"network_events"`
	// EventBuffer is the number of events the watch command keeps.
	EventBuffer int  `yaml:"event_buffer"`
	Debug       bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint:          "127.0.0.1:9222",
		Timeout:           Duration(30 * time.Second),
		NavigationTimeout: Duration(30 * time.Second),
		ReadLimit:         100 << 20,
		EventBuffer:       1000,
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cdpmux", "config.yaml")
}

// Load returns the defaults overlaid with the file at path, then with
// environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Endpoint = v
	}
	if err := envDuration(EnvTimeout, &c.Timeout); err != nil {
		return err
	}
	if err := envDuration(EnvNavigationTimeout, &c.NavigationTimeout); err != nil {
		return err
	}
	if v := os.Getenv(EnvReadLimit); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvReadLimit, err)
		}
		c.ReadLimit = n
	}
	if v := os.Getenv(EnvEventBuffer); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvEventBuffer, err)
		}
		c.EventBuffer = n
	}
	if err := envBool(EnvNetworkEvents, &c.NetworkEvents); err != nil {
		return err
	}
	return envBool(EnvDebug, &c.Debug)
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", time.Duration(c.Timeout))
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be positive, got %s", time.Duration(c.NavigationTimeout))
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("read_limit must be positive, got %d", c.ReadLimit)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
