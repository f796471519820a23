// Package common provides shared utilities for Verso
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Verso
type Config struct {
	Environment     string        `toml:"environment"`
	DefaultCurrency string        `toml:"default_currency"` // Display currency for new portfolios (default "USD")
	Server          ServerConfig  `toml:"server"`
	Storage         StorageConfig `toml:"storage"`
	Clients         ClientsConfig `toml:"clients"`
	FX              FXConfig      `toml:"fx"`
	Sync            SyncConfig    `toml:"sync"`
	Auth            AuthConfig    `toml:"auth"`
	Logging         LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Plaid    PlaidConfig    `toml:"plaid"`
	Tink     TinkConfig     `toml:"tink"`
	StockAPI StockAPIConfig `toml:"stockapi"`
}

// PlaidConfig holds Plaid API configuration
type PlaidConfig struct {
	BaseURL   string `toml:"base_url"`
	ClientID  string `toml:"client_id"`
	Secret    string `toml:"secret"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *PlaidConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// TinkConfig holds Tink API configuration
type TinkConfig struct {
	BaseURL     string `toml:"base_url"`
	ClientID    string `toml:"client_id"`
	Secret      string `toml:"secret"`
	RedirectURI string `toml:"redirect_uri"`
	RateLimit   int    `toml:"rate_limit"`
	Timeout     string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *TinkConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// StockAPIConfig holds stock/financials data API configuration
type StockAPIConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *StockAPIConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// FXConfig holds currency conversion configuration.
type FXConfig struct {
	RefreshSchedule string   `toml:"refresh_schedule"` // cron spec, default "@every 1h"
	Pairs           []string `toml:"pairs"`            // currency pairs to keep in the rate table, e.g. "USD/EUR"
}

// SyncConfig holds provider sync behaviour configuration.
type SyncConfig struct {
	MaxRetries    int    `toml:"max_retries"`    // transient-error retry cap, default 3
	RetryBackoff  string `toml:"retry_backoff"`  // base backoff duration, default "2s"
	NightlySync   string `toml:"nightly_sync"`   // cron spec for the overnight refresh, empty disables
	StaleInterval string `toml:"stale_interval"` // skip non-forced syncs newer than this, default "1h"
}

// GetRetryBackoff parses and returns the base backoff duration.
func (c *SyncConfig) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetStaleInterval parses and returns the stale interval duration.
func (c *SyncConfig) GetStaleInterval() time.Duration {
	d, err := time.ParseDuration(c.StaleInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// AuthConfig holds authentication configuration for JWT.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	TokenExpiry string `toml:"token_expiry"` // duration string, default "24h"
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment:     "development",
		DefaultCurrency: "USD",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000",
			Namespace: "verso",
			Database:  "verso",
			Username:  "root",
			Password:  "root",
		},
		Clients: ClientsConfig{
			Plaid: PlaidConfig{
				BaseURL:   "https://sandbox.plaid.com",
				RateLimit: 10,
				Timeout:   "30s",
			},
			Tink: TinkConfig{
				BaseURL:   "https://api.tink.com",
				RateLimit: 5,
				Timeout:   "30s",
			},
			StockAPI: StockAPIConfig{
				BaseURL:   "http://localhost:3000",
				RateLimit: 10,
				Timeout:   "30s",
			},
		},
		FX: FXConfig{
			RefreshSchedule: "@every 1h",
			Pairs: []string{
				"USD/EUR", "USD/GBP", "USD/AUD", "USD/CAD",
				"EUR/GBP", "EUR/SEK", "EUR/NOK", "EUR/DKK",
			},
		},
		Sync: SyncConfig{
			MaxRetries:    3,
			RetryBackoff:  "2s",
			StaleInterval: "1h",
		},
		Auth: AuthConfig{
			JWTSecret:   "dev-jwt-secret-change-in-production",
			TokenExpiry: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	validateDefaultCurrency(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VERSO_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("VERSO_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("VERSO_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("VERSO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if addr := os.Getenv("VERSO_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if v := os.Getenv("VERSO_STORAGE_NAMESPACE"); v != "" {
		config.Storage.Namespace = v
	}
	if v := os.Getenv("VERSO_STORAGE_DATABASE"); v != "" {
		config.Storage.Database = v
	}
	if v := os.Getenv("VERSO_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("VERSO_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	if dc := os.Getenv("VERSO_DEFAULT_CURRENCY"); dc != "" {
		config.DefaultCurrency = strings.ToUpper(dc)
	}

	if v := os.Getenv("VERSO_PLAID_CLIENT_ID"); v != "" {
		config.Clients.Plaid.ClientID = v
	}
	if v := os.Getenv("VERSO_PLAID_SECRET"); v != "" {
		config.Clients.Plaid.Secret = v
	}
	if v := os.Getenv("VERSO_TINK_CLIENT_ID"); v != "" {
		config.Clients.Tink.ClientID = v
	}
	if v := os.Getenv("VERSO_TINK_SECRET"); v != "" {
		config.Clients.Tink.Secret = v
	}
	if v := os.Getenv("VERSO_STOCKAPI_URL"); v != "" {
		config.Clients.StockAPI.BaseURL = v
	}
	if v := os.Getenv("VERSO_STOCKAPI_KEY"); v != "" {
		config.Clients.StockAPI.APIKey = v
	}

	if v := os.Getenv("VERSO_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("VERSO_AUTH_TOKEN_EXPIRY"); v != "" {
		config.Auth.TokenExpiry = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// validateDefaultCurrency ensures DefaultCurrency is a plausible ISO 4217 code,
// defaulting to "USD".
func validateDefaultCurrency(config *Config) {
	dc := strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if len(dc) != 3 {
		dc = "USD"
	}
	config.DefaultCurrency = dc
}
