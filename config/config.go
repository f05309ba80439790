// Package config loads service configuration with koanf.
//
// Precedence (highest first): environment variables, .env file, YAML config
// file (CONFIG_PATH or ./config.yaml), built-in defaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Security  SecurityConfig  `koanf:"security"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Media     MediaConfig     `koanf:"media"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Mode is passed to gin.SetMode (debug, release, test).
	Mode string `koanf:"mode"`
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
}

type SecurityConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
}

// LedgerConfig tunes the donation transaction.
type LedgerConfig struct {
	// MaxRetries bounds how often a conflicting donation transaction is retried.
	MaxRetries      int           `koanf:"max_retries"`
	RetryInitial    time.Duration `koanf:"retry_initial"`
	TxTimeout       time.Duration `koanf:"tx_timeout"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type MediaConfig struct {
	BaseDir  string `koanf:"base_dir"`
	MaxBytes int64  `koanf:"max_bytes"`
}

type RateLimitConfig struct {
	// DonateRPS is the sustained per-client donate rate; 0 disables limiting.
	DonateRPS   float64 `koanf:"donate_rps"`
	DonateBurst int     `koanf:"donate_burst"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DevJWTSecret is used when no secret is configured.
const DevJWTSecret = "dev-insecure-secret-change"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8081",
			ShutdownTimeout: 10 * time.Second,
			Mode:            "release",
		},
		Database: DatabaseConfig{
			AutoMigrate:  true,
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Security: SecurityConfig{
			JWTSecret:  DevJWTSecret,
			AccessTTL:  7 * 24 * time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Ledger: LedgerConfig{
			MaxRetries:      5,
			RetryInitial:    20 * time.Millisecond,
			TxTimeout:       5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Media: MediaConfig{
			BaseDir:  "uploads",
			MaxBytes: 5 * 1024 * 1024,
		},
		RateLimit: RateLimitConfig{
			DonateRPS:   5,
			DonateBurst: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn (DB_DSN) is required"))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret must not be empty"))
	}
	if c.Security.AccessTTL <= 0 {
		errs = append(errs, fmt.Errorf("security.access_ttl must be positive, got %s", c.Security.AccessTTL))
	}
	if c.Ledger.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ledger.max_retries must be >= 0, got %d", c.Ledger.MaxRetries))
	}
	if c.Ledger.TxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ledger.tx_timeout must be positive, got %s", c.Ledger.TxTimeout))
	}
	if c.Media.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("media.max_bytes must be positive, got %d", c.Media.MaxBytes))
	}
	if c.RateLimit.DonateRPS < 0 {
		errs = append(errs, fmt.Errorf("ratelimit.donate_rps must be >= 0, got %v", c.RateLimit.DonateRPS))
	}
	return errors.Join(errs...)
}

// UsesDevSecret reports whether the development JWT secret is in effect.
func (c *Config) UsesDevSecret() bool {
	return c.Security.JWTSecret == DevJWTSecret
}
