// Package config defines the top-level configuration for the market
// lifecycle engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Feed       FeedConfig       `toml:"feed"`
	Treasury   TreasuryConfig   `toml:"treasury"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Automation AutomationConfig `toml:"automation"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// FeedConfig holds token-metrics feed endpoints and throttling parameters.
type FeedConfig struct {
	BaseURL  string  `toml:"base_url"`
	WsURL    string  `toml:"ws_url"`
	PageSize int     `toml:"page_size"`
	RPS      float64 `toml:"rps"`
	// SharedLimit enables the Redis-backed limiter shared across processes.
	SharedLimit bool `toml:"shared_limit"`
}

// TreasuryConfig holds transfer-service endpoints and credentials.
type TreasuryConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

// DatabaseConfig holds PostgreSQL / Supabase connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AutomationConfig holds lifecycle-loop cadence and settlement parameters.
// The runtime enable switch lives in the database, not here, so support can
// flip it without a redeploy.
type AutomationConfig struct {
	CreateInterval  duration `toml:"create_interval"`
	ResolveInterval duration `toml:"resolve_interval"`
	// ForceType pins creation to one market type instead of rotating.
	// Empty means normal rotation.
	ForceType            string  `toml:"force_type"`
	PayoutBatchSize      int     `toml:"payout_batch_size"`
	FeeReserve           float64 `toml:"fee_reserve"`
	ReplayLimit          int     `toml:"replay_limit"`
	ArchiveRetentionDays int     `toml:"archive_retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			BaseURL:     "https://frontend-api.pump.fun",
			WsURL:       "wss://pumpportal.fun/api/data",
			PageSize:    50,
			RPS:         2,
			SharedLimit: true,
		},
		Treasury: TreasuryConfig{
			BaseURL: "http://localhost:8090",
		},
		Database: DatabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Automation: AutomationConfig{
			CreateInterval:       duration{30 * time.Minute},
			ResolveInterval:      duration{30 * time.Second},
			PayoutBatchSize:      20,
			FeeReserve:           0.01,
			ReplayLimit:          100,
			ArchiveRetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "payout_failed", "treasury_low"},
		},
		Mode:     "engine",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"create":  true,
	"resolve": true,
	"replay":  true,
	"logs":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validForceTypes enumerates the accepted values for automation.force_type.
var validForceTypes = map[string]bool{
	"":            true,
	"market_cap":  true,
	"volume":      true,
	"holders":     true,
	"battle_race": true,
	"battle_dump": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, create, resolve, replay, logs, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.BaseURL == "" {
		errs = append(errs, "feed: base_url must not be empty")
	}
	if c.Feed.PageSize < 1 {
		errs = append(errs, "feed: page_size must be >= 1")
	}
	if c.Feed.RPS <= 0 {
		errs = append(errs, "feed: rps must be > 0")
	}

	// Treasury — settlement modes need the transfer service.
	needsTreasury := c.Mode == "engine" || c.Mode == "resolve" || c.Mode == "replay"
	if needsTreasury {
		if c.Treasury.BaseURL == "" {
			errs = append(errs, "treasury: base_url must not be empty for mode "+c.Mode)
		}
		if c.Treasury.ApiKey == "" {
			errs = append(errs, "treasury: api_key is required for mode "+c.Mode)
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only the archive path needs it, but engine mode runs archival too.
	if c.Mode == "engine" || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Automation
	if c.Automation.CreateInterval.Duration <= 0 {
		errs = append(errs, "automation: create_interval must be > 0")
	}
	if c.Automation.ResolveInterval.Duration <= 0 {
		errs = append(errs, "automation: resolve_interval must be > 0")
	}
	if !validForceTypes[c.Automation.ForceType] {
		errs = append(errs, fmt.Sprintf("automation: unknown force_type %q", c.Automation.ForceType))
	}
	if c.Automation.PayoutBatchSize < 1 {
		errs = append(errs, "automation: payout_batch_size must be >= 1")
	}
	if c.Automation.FeeReserve < 0 {
		errs = append(errs, "automation: fee_reserve must be >= 0")
	}
	if c.Automation.ArchiveRetentionDays < 1 {
		errs = append(errs, "automation: archive_retention_days must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
