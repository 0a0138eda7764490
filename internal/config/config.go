package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/farmscan/internal/logging"
)

// Bounds accepted for live engine reconfiguration.
const (
	MinConcurrency = 1
	MaxConcurrency = 1000
	MinTimeout     = 100 * time.Millisecond
	MaxTimeout     = 60 * time.Second

	// DefaultMaxAddresses caps a single scan request.
	DefaultMaxAddresses = 65535
	// DefaultProbePort is the Moonraker API port.
	DefaultProbePort = 7125
)

// Config represents the complete farmscan configuration
type Config struct {
	// Scan engine configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Candidate discovery configuration
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
}

// ScanningConfig holds scan engine settings
type ScanningConfig struct {
	// Number of concurrent probe workers
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Per-probe timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Maximum addresses a single request may expand to (0 disables the cap)
	MaxAddresses int `yaml:"max_addresses" json:"max_addresses"`

	// TCP port of the Moonraker API
	ProbePort int `yaml:"probe_port" json:"probe_port"`

	// Only recognize devices whose machine type starts with this prefix
	VendorPrefix string `yaml:"vendor_prefix" json:"vendor_prefix"`

	// Probe rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Completed tasks older than this are pruned (0 keeps them forever)
	Retention time.Duration `yaml:"retention" json:"retention"`

	// Cron spec for the retention sweep
	RetentionSchedule string `yaml:"retention_schedule" json:"retention_schedule"`

	// Upper bound on waiting for workers during shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// RateLimitConfig holds probe rate limiting settings
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	ProbesPerSecond float64 `yaml:"probes_per_second" json:"probes_per_second"`
	Burst           int     `yaml:"burst" json:"burst"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Maximum request header size in bytes
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// Maximum request body size in bytes
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`

	// Interval between WebSocket progress frames
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Per-client request rate limiting
	RateLimit APIRateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// APIRateLimitConfig holds per-client request limits
type APIRateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// DiscoveryConfig holds mDNS candidate discovery settings
type DiscoveryConfig struct {
	MDNS MDNSConfig `yaml:"mdns" json:"mdns"`
}

// MDNSConfig describes the service browse used to seed scans.
type MDNSConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Service string        `yaml:"service" json:"service"`
	Domain  string        `yaml:"domain" json:"domain"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Concurrency:  200,
			Timeout:      2 * time.Second,
			MaxAddresses: DefaultMaxAddresses,
			ProbePort:    DefaultProbePort,
			RateLimit: RateLimitConfig{
				Enabled:         false,
				ProbesPerSecond: 500,
				Burst:           100,
			},
			Retention:         time.Hour,
			RetentionSchedule: "@every 1m",
			ShutdownTimeout:   10 * time.Second,
		},
		API: APIConfig{
			ListenAddr:       "127.0.0.1",
			Port:             8080,
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      60 * time.Second,
			MaxHeaderBytes:   1 << 20,     // 1MB
			MaxRequestSize:   1024 * 1024, // 1MB
			ProgressInterval: time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			},
			RateLimit: APIRateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Logging: logging.DefaultConfig(),
		Discovery: DiscoveryConfig{
			MDNS: MDNSConfig{
				Enabled: false,
				Service: "_moonraker._tcp",
				Domain:  "local.",
				Timeout: 3 * time.Second,
			},
		},
	}
}

// Load loads configuration from a file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// yaml.v3 reads JSON documents as well.
	switch filepath.Ext(path) {
	case ".json":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	s := c.Scanning
	if s.Concurrency < MinConcurrency || s.Concurrency > MaxConcurrency {
		return fmt.Errorf("scanning concurrency must be between %d and %d", MinConcurrency, MaxConcurrency)
	}
	if s.Timeout < MinTimeout || s.Timeout > MaxTimeout {
		return fmt.Errorf("scanning timeout must be between %s and %s", MinTimeout, MaxTimeout)
	}
	if s.MaxAddresses < 0 {
		return fmt.Errorf("max addresses must not be negative")
	}
	if s.ProbePort <= 0 || s.ProbePort > 65535 {
		return fmt.Errorf("probe port must be between 1 and 65535")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.ProbesPerSecond <= 0 {
			return fmt.Errorf("probes per second must be positive when rate limiting is enabled")
		}
		if s.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive when rate limiting is enabled")
		}
	}
	if s.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	if s.Retention > 0 && s.RetentionSchedule == "" {
		return fmt.Errorf("retention schedule is required when retention is set")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("API listen address is required")
	}
	if c.API.ProgressInterval <= 0 {
		return fmt.Errorf("API progress interval must be positive")
	}
	if c.API.RateLimit.Enabled {
		if c.API.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("API requests per second must be positive when rate limiting is enabled")
		}
		if c.API.RateLimit.Burst <= 0 {
			return fmt.Errorf("API rate limit burst must be positive when rate limiting is enabled")
		}
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != logging.FormatText && c.Logging.Format != logging.FormatJSON {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Discovery.MDNS.Enabled {
		if c.Discovery.MDNS.Service == "" {
			return fmt.Errorf("mDNS service is required when mDNS discovery is enabled")
		}
		if c.Discovery.MDNS.Timeout <= 0 {
			return fmt.Errorf("mDNS timeout must be positive")
		}
	}

	return nil
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
