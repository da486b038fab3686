package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.BaseURL, "MARKETD_FEED_BASE_URL")
	setStr(&cfg.Feed.WsURL, "MARKETD_FEED_WS_URL")
	setInt(&cfg.Feed.PageSize, "MARKETD_FEED_PAGE_SIZE")
	setFloat64(&cfg.Feed.RPS, "MARKETD_FEED_RPS")
	setBool(&cfg.Feed.SharedLimit, "MARKETD_FEED_SHARED_LIMIT")

	// ── Treasury ──
	setStr(&cfg.Treasury.BaseURL, "MARKETD_TREASURY_BASE_URL")
	setStr(&cfg.Treasury.ApiKey, "MARKETD_TREASURY_API_KEY")

	// ── Database ──
	setStr(&cfg.Database.DSN, "MARKETD_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "MARKETD_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "MARKETD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MARKETD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MARKETD_DATABASE_NAME")
	setStr(&cfg.Database.User, "MARKETD_DATABASE_USER")
	setStr(&cfg.Database.Password, "MARKETD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MARKETD_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "MARKETD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MARKETD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MARKETD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARKETD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETD_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETD_S3_FORCE_PATH_STYLE")

	// ── Automation ──
	setDuration(&cfg.Automation.CreateInterval, "MARKETD_AUTOMATION_CREATE_INTERVAL")
	setDuration(&cfg.Automation.ResolveInterval, "MARKETD_AUTOMATION_RESOLVE_INTERVAL")
	setStr(&cfg.Automation.ForceType, "MARKETD_AUTOMATION_FORCE_TYPE")
	setInt(&cfg.Automation.PayoutBatchSize, "MARKETD_AUTOMATION_PAYOUT_BATCH_SIZE")
	setFloat64(&cfg.Automation.FeeReserve, "MARKETD_AUTOMATION_FEE_RESERVE")
	setInt(&cfg.Automation.ReplayLimit, "MARKETD_AUTOMATION_REPLAY_LIMIT")
	setInt(&cfg.Automation.ArchiveRetentionDays, "MARKETD_AUTOMATION_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETD_MODE")
	setStr(&cfg.LogLevel, "MARKETD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
