package config

import (
	"fmt"
	"os"
	"time"

	"github.com/adamscao/certregistry/internal/registry"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Registry  RegistryConfig  `yaml:"registry"`
	Policy    PolicyConfig    `yaml:"policy"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig contains the construction parameters of the registry.
// They are stored on first start and may not change afterwards.
type RegistryConfig struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
	Issuer string `yaml:"issuer"`
}

// PolicyConfig contains request limits applied before minting
type PolicyConfig struct {
	MaxTokenURILength int  `yaml:"max_token_uri_length"`
	MaxHours          int  `yaml:"max_hours"`
	RequireIssuerTOTP bool `yaml:"require_issuer_totp"`
}

// AdminConfig contains admin configuration
type AdminConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Default returns a configuration with every optional field populated
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{
			Path: "/var/lib/certregistry/registry.db",
		},
		Policy: PolicyConfig{
			MaxTokenURILength: 2048,
			MaxHours:          1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			Burst:             50,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout is invalid: %w", err)
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Registry validation
	if _, err := c.RegistryParams(); err != nil {
		return err
	}

	// Policy validation
	if c.Policy.MaxTokenURILength <= 0 {
		return fmt.Errorf("policy.max_token_uri_length must be positive")
	}
	if c.Policy.MaxHours <= 0 {
		return fmt.Errorf("policy.max_hours must be positive")
	}

	// Admin validation
	if c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required")
	}
	if c.Admin.Token == "change-me" {
		fmt.Fprintf(os.Stderr, "WARNING: Using default admin token. Please change it in production!\n")
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	// Rate limit validation
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limit.requests_per_minute must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive")
		}
	}

	return nil
}

// RegistryParams converts the registry section into construction parameters
func (c *Config) RegistryParams() (registry.Params, error) {
	if c.Registry.Name == "" {
		return registry.Params{}, fmt.Errorf("registry.name is required")
	}
	if c.Registry.Symbol == "" {
		return registry.Params{}, fmt.Errorf("registry.symbol is required")
	}

	issuer, err := ethaddr.Parse(c.Registry.Issuer)
	if err != nil {
		return registry.Params{}, fmt.Errorf("registry.issuer is invalid: %w", err)
	}
	if issuer.IsZero() {
		return registry.Params{}, fmt.Errorf("registry.issuer must not be the zero address")
	}

	return registry.Params{
		Name:   c.Registry.Name,
		Symbol: c.Registry.Symbol,
		Issuer: issuer,
	}, nil
}

// GetShutdownTimeout returns the shutdown timeout as time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.ShutdownTimeout)
	return d
}

// ParseDuration parses duration with support for days (e.g., "90d")
func ParseDuration(s string) (time.Duration, error) {
	// Handle "d" suffix for days
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
