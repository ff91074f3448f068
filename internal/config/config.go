package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/radio-recorder/internal/storage"
)

// Environment variables that override the file
const (
	EnvBaseDirectory = "RECORDER_BASE_DIRECTORY"
	EnvLogLevel      = "RECORDER_LOG_LEVEL"
	EnvHTTPPort      = "RECORDER_HTTP_PORT"
)

// Supported network transports
const (
	TransportWebsocket = "websocket"
	TransportUDP       = "udp"
)

// ErrNoNetworks is returned when no usable network entry remains after validation
var ErrNoNetworks = errors.New("no valid networks configured")

// Config represents the complete recorder configuration
type Config struct {
	BaseDirectory  string           `yaml:"base_directory" toml:"base_directory"`
	StaggerDelayMs int              `yaml:"stagger_delay_ms" toml:"stagger_delay_ms"`
	Recording      RecordingConfig  `yaml:"recording" toml:"recording"`
	Connection     ConnectionConfig `yaml:"connection" toml:"connection"`
	HTTP           HTTPConfig       `yaml:"http" toml:"http"`
	Logging        LoggingConfig    `yaml:"logging" toml:"logging"`
	Networks       []NetworkConfig  `yaml:"networks" toml:"networks"`

	// Skipped lists the network entries dropped by Validate, one error each
	Skipped []error `yaml:"-" toml:"-"`
}

// RecordingConfig controls transmission segmentation
type RecordingConfig struct {
	IdleTimeoutMs   int `yaml:"idle_timeout_ms" toml:"idle_timeout_ms"`
	SweepIntervalMs int `yaml:"sweep_interval_ms" toml:"sweep_interval_ms"`
	QueueSize       int `yaml:"queue_size" toml:"queue_size"`
}

// ConnectionConfig controls how network links are kept up
type ConnectionConfig struct {
	RetryIntervalMs     int `yaml:"retry_interval_ms" toml:"retry_interval_ms"`
	LinkTimeoutMs       int `yaml:"link_timeout_ms" toml:"link_timeout_ms"`
	KeepAliveIntervalMs int `yaml:"keepalive_interval_ms" toml:"keepalive_interval_ms"`
}

// HTTPConfig contains HTTP front end configuration
type HTTPConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Address    string `yaml:"address" toml:"address"`
	Port       int    `yaml:"port" toml:"port"`
	CacheTTLMs int    `yaml:"cache_ttl_ms" toml:"cache_ttl_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// NetworkConfig describes one radio network endpoint
type NetworkConfig struct {
	Name      string `yaml:"name" toml:"name"`
	Address   string `yaml:"address" toml:"address"`
	Port      int    `yaml:"port" toml:"port"`
	Transport string `yaml:"transport" toml:"transport"`
	Path      string `yaml:"path" toml:"path"`
}

// Default returns the configuration used for anything the file leaves out
func Default() *Config {
	return &Config{
		BaseDirectory:  "recordings",
		StaggerDelayMs: 2000,
		Recording: RecordingConfig{
			IdleTimeoutMs:   2500,
			SweepIntervalMs: 1000,
			QueueSize:       256,
		},
		Connection: ConnectionConfig{
			RetryIntervalMs:     5000,
			LinkTimeoutMs:       15000,
			KeepAliveIntervalMs: 5000,
		},
		HTTP: HTTPConfig{
			Enabled:    true,
			Address:    "0.0.0.0",
			Port:       3000,
			CacheTTLMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads variables from .env files into the environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads the configuration file, applies environment overrides and validates it.
// Entries dropped during validation are reported in Config.Skipped.
func Load(path string) (*Config, error) {
	config, err := Parse(path)
	if err != nil {
		return nil, err
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Parse reads path on top of the defaults. Files ending in .toml are read as
// TOML, anything else as YAML.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return config, nil
}

// ApplyEnv overrides settings from the environment using lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBaseDirectory); ok && v != "" {
		c.BaseDirectory = v
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", EnvHTTPPort, v)
		}
		c.HTTP.Port = port
	}

	return nil
}

// Validate checks every section. Invalid or duplicate network entries are not
// fatal: they are removed from Networks and recorded in Skipped. Only when no
// network remains does Validate fail with ErrNoNetworks.
func (c *Config) Validate() error {
	if c.BaseDirectory == "" {
		return fmt.Errorf("base_directory cannot be empty")
	}

	if c.StaggerDelayMs < 0 {
		return fmt.Errorf("stagger_delay_ms cannot be negative, got %d", c.StaggerDelayMs)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("connection config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	c.Networks, c.Skipped = filterNetworks(c.Networks)
	if len(c.Networks) == 0 {
		if len(c.Skipped) > 0 {
			return fmt.Errorf("%w: %v", ErrNoNetworks, &multierror.Error{Errors: c.Skipped})
		}
		return ErrNoNetworks
	}

	return nil
}

// filterNetworks keeps valid entries in order; the first of several entries
// sharing a name wins
func filterNetworks(networks []NetworkConfig) (valid []NetworkConfig, skipped []error) {
	seen := make(map[string]bool, len(networks))

	for i, n := range networks {
		if err := n.Validate(); err != nil {
			skipped = append(skipped, fmt.Errorf("networks[%d] %s: %w", i, n.describe(), err))
			continue
		}
		if seen[n.Name] {
			skipped = append(skipped, fmt.Errorf("networks[%d] %s: duplicate network name", i, n.describe()))
			continue
		}
		seen[n.Name] = true

		if n.Transport == "" {
			n.Transport = TransportWebsocket
		}
		valid = append(valid, n)
	}

	return valid, skipped
}

// Validate validates a single network entry
func (n *NetworkConfig) Validate() error {
	var result *multierror.Error

	if n.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name is required"))
	} else if err := storage.ValidateSegment(n.Name); err != nil {
		result = multierror.Append(result, fmt.Errorf("name cannot be used as a directory: %w", err))
	}

	if n.Address == "" {
		result = multierror.Append(result, fmt.Errorf("address is required"))
	}

	if n.Port < 1 || n.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port must be between 1 and 65535, got %d", n.Port))
	}

	switch n.Transport {
	case "", TransportWebsocket, TransportUDP:
	default:
		result = multierror.Append(result, fmt.Errorf("transport must be 'websocket' or 'udp', got '%s'", n.Transport))
	}

	return result.ErrorOrNil()
}

func (n *NetworkConfig) describe() string {
	if n.Name != "" {
		return fmt.Sprintf("%q", n.Name)
	}
	return fmt.Sprintf("{address: %q, port: %d}", n.Address, n.Port)
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.IdleTimeoutMs < 1 {
		return fmt.Errorf("idle_timeout_ms must be positive, got %d", r.IdleTimeoutMs)
	}

	if r.SweepIntervalMs < 1 {
		return fmt.Errorf("sweep_interval_ms must be positive, got %d", r.SweepIntervalMs)
	}

	if r.QueueSize < 0 {
		return fmt.Errorf("queue_size cannot be negative, got %d", r.QueueSize)
	}

	return nil
}

// Validate validates connection configuration
func (c *ConnectionConfig) Validate() error {
	if c.RetryIntervalMs < 1 {
		return fmt.Errorf("retry_interval_ms must be positive, got %d", c.RetryIntervalMs)
	}

	if c.LinkTimeoutMs < 0 {
		return fmt.Errorf("link_timeout_ms cannot be negative, got %d", c.LinkTimeoutMs)
	}

	if c.KeepAliveIntervalMs < 1 {
		return fmt.Errorf("keepalive_interval_ms must be positive, got %d", c.KeepAliveIntervalMs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.CacheTTLMs < 0 {
		return fmt.Errorf("cache_ttl_ms cannot be negative, got %d", h.CacheTTLMs)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true, "auto": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json', 'text' or 'auto', got '%s'", l.Format)
	}

	return nil
}

// GetStaggerDelay returns the pause between starting consecutive networks
func (c *Config) GetStaggerDelay() time.Duration {
	return time.Duration(c.StaggerDelayMs) * time.Millisecond
}

// GetIdleTimeout returns the silence that ends a transmission
func (r *RecordingConfig) GetIdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutMs) * time.Millisecond
}

// GetSweepInterval returns how often idle sessions are reaped
func (r *RecordingConfig) GetSweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalMs) * time.Millisecond
}

// GetRetryInterval returns the minimum spacing between connection attempts
func (c *ConnectionConfig) GetRetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

// GetLinkTimeout returns the silence after which a link is declared lost
func (c *ConnectionConfig) GetLinkTimeout() time.Duration {
	return time.Duration(c.LinkTimeoutMs) * time.Millisecond
}

// GetKeepAliveInterval returns the UDP keepalive period
func (c *ConnectionConfig) GetKeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalMs) * time.Millisecond
}

// GetCacheTTL returns how long a recordings listing is served from cache
func (h *HTTPConfig) GetCacheTTL() time.Duration {
	return time.Duration(h.CacheTTLMs) * time.Millisecond
}

// ListenAddress returns address:port of the HTTP front end
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
