package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/solcast/marketd/internal/blob/s3"
	"github.com/solcast/marketd/internal/cache/redis"
	"github.com/solcast/marketd/internal/config"
	"github.com/solcast/marketd/internal/domain"
	"github.com/solcast/marketd/internal/notify"
	"github.com/solcast/marketd/internal/platform/pumpfeed"
	"github.com/solcast/marketd/internal/platform/treasury"
	"github.com/solcast/marketd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore    domain.MarketStore
	TrackingStore  domain.TrackingStore
	LogStore       domain.AutomationLogStore
	AutoCfgStore   domain.AutomationConfigStore
	BetStore       domain.BetStore
	TxStore        domain.TransactionStore
	BalanceStore   domain.BalanceStore

	// Caches and messaging
	TokenCache  domain.TokenCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage (nil unless the mode needs object storage)
	BlobWriter domain.BlobWriter

	// Platform clients
	Feed   domain.TokenFeed
	FeedWS *pumpfeed.WSClient // nil unless a ws_url is configured
	Ledger domain.Ledger

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	switch mode {
	case "engine", "archive":
		return true
	default:
		return false
	}
}

// needsLedger returns true for modes that settle payouts.
func needsLedger(mode string) bool {
	switch mode {
	case "engine", "resolve", "replay":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.TrackingStore = postgres.NewTrackingStore(pool)
	deps.LogStore = postgres.NewAutomationLogStore(pool)
	deps.AutoCfgStore = postgres.NewAutomationConfigStore(pool)
	deps.BetStore = postgres.NewBetStore(pool)
	deps.TxStore = postgres.NewTransactionStore(pool)
	deps.BalanceStore = postgres.NewBalanceStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.TokenCache = redis.NewTokenCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that need object storage) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Token feed ---
	var shared domain.RateLimiter
	if cfg.Feed.SharedLimit {
		shared = deps.RateLimiter
	}
	deps.Feed = pumpfeed.New(cfg.Feed.BaseURL, cfg.Feed.PageSize, cfg.Feed.RPS, shared)
	if cfg.Feed.WsURL != "" {
		deps.FeedWS = pumpfeed.NewWSClient(cfg.Feed.WsURL)
	}

	// --- Treasury ---
	if needsLedger(cfg.Mode) {
		deps.Ledger = treasury.New(cfg.Treasury.BaseURL, cfg.Treasury.ApiKey)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
