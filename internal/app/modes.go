package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/solcast/marketd/internal/blob/s3"
	"github.com/solcast/marketd/internal/domain"
	"github.com/solcast/marketd/internal/engine"
	"github.com/solcast/marketd/internal/payout"
	"github.com/solcast/marketd/internal/selection"
)

// buildCreator assembles the market creation side of the lifecycle.
func (a *App) buildCreator(deps *Dependencies) *engine.Creator {
	return engine.NewCreator(
		deps.MarketStore,
		deps.LogStore,
		deps.AutoCfgStore,
		deps.Feed,
		deps.TokenCache,
		selection.NewSelector(deps.LogStore),
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	)
}

// buildDistributor assembles the payout distributor from settlement config.
func (a *App) buildDistributor(deps *Dependencies) *payout.Distributor {
	return payout.NewDistributor(
		deps.Ledger,
		deps.TxStore,
		deps.BalanceStore,
		a.cfg.Automation.PayoutBatchSize,
		decimal.NewFromFloat(a.cfg.Automation.FeeReserve),
		a.logger,
	)
}

// buildResolver assembles the resolution side of the lifecycle.
func (a *App) buildResolver(deps *Dependencies) *engine.Resolver {
	return engine.NewResolver(
		deps.MarketStore,
		deps.TrackingStore,
		deps.BetStore,
		deps.Feed,
		a.buildDistributor(deps),
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	)
}

// EngineMode runs the full lifecycle: the creation loop, the resolution loop,
// the token launch stream, and daily audit-log archival.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)

	orch := engine.NewOrchestrator(
		a.buildCreator(deps),
		a.buildResolver(deps),
		a.cfg.Automation.CreateInterval.Duration,
		a.cfg.Automation.ResolveInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	// Token launch stream: invalidate the candidate cache so brand-new tokens
	// are visible to the next creation cycle.
	if deps.FeedWS != nil {
		type invalidator interface {
			Invalidate(ctx context.Context) error
		}
		if inv, ok := deps.TokenCache.(invalidator); ok {
			deps.FeedWS.OnTokenLaunch(func(t domain.Token) {
				if err := inv.Invalidate(ctx); err != nil {
					a.logger.WarnContext(ctx, "invalidate candidate cache",
						slog.String("token", t.Address),
						slog.String("error", err.Error()),
					)
				}
			})
		}
		g.Go(func() error {
			defer deps.FeedWS.Close()
			if err := deps.FeedWS.Connect(ctx); err != nil {
				// The stream is an optimization; the polling loops carry on.
				a.logger.WarnContext(ctx, "token launch stream unavailable",
					slog.String("error", err.Error()))
				return nil
			}
			<-ctx.Done()
			return nil
		})
	}

	// Daily archival of old automation log rows.
	if deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.LogStore, a.logger)
		retention := time.Duration(a.cfg.Automation.ArchiveRetentionDays) * 24 * time.Hour
		g.Go(func() error {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := archiver.ArchiveLogs(ctx, time.Now().UTC().Add(-retention)); err != nil {
						a.logger.ErrorContext(ctx, "archive automation logs",
							slog.String("error", err.Error()))
					}
				}
			}
		})
	}

	return g.Wait()
}

// CreateMode runs exactly one creation cycle and exits. With force_type set
// it creates a market of that type with no rotation fallback.
func (a *App) CreateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting create mode")

	creator := a.buildCreator(deps)

	if ft := a.cfg.Automation.ForceType; ft != "" {
		m, err := creator.CreateForced(ctx, domain.MarketType(ft))
		if err != nil {
			return fmt.Errorf("app: forced create: %w", err)
		}
		a.logger.InfoContext(ctx, "market created",
			slog.String("market_id", m.ID),
			slog.String("type", ft),
		)
		return nil
	}

	if err := creator.RunCycle(ctx); err != nil {
		if errors.Is(err, domain.ErrAutomationDisabled) {
			a.logger.WarnContext(ctx, "automation is switched off, no market created")
			return nil
		}
		return fmt.Errorf("app: create cycle: %w", err)
	}
	return nil
}

// ResolveMode runs exactly one resolution sweep and exits.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolve mode")

	if err := a.buildResolver(deps).RunSweep(ctx); err != nil {
		return fmt.Errorf("app: resolve sweep: %w", err)
	}
	return nil
}

// ReplayMode resubmits failed settlement transactions and exits.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	n, err := a.buildDistributor(deps).Replay(ctx, a.cfg.Automation.ReplayLimit)
	if err != nil {
		return fmt.Errorf("app: replay: %w", err)
	}
	a.logger.InfoContext(ctx, "replay finished", slog.Int("replayed", n))
	return nil
}

// logPageSize caps how many audit rows the logs mode prints.
const logPageSize = 100

// LogsMode prints the recent automation audit trail (newest first) and exits.
func (a *App) LogsMode(ctx context.Context, deps *Dependencies) error {
	entries, err := deps.LogStore.List(ctx, domain.ListOpts{Limit: logPageSize})
	if err != nil {
		return fmt.Errorf("app: list automation logs: %w", err)
	}
	for _, e := range entries {
		a.logger.InfoContext(ctx, "automation log entry",
			slog.Time("created_at", e.CreatedAt),
			slog.String("question_type", e.QuestionType),
			slog.Bool("success", e.Success),
			slog.String("market_id", e.MarketID),
			slog.String("error", e.ErrorMessage),
		)
	}
	a.logger.InfoContext(ctx, "logs finished", slog.Int("entries", len(entries)))
	return nil
}

// ArchiveMode archives automation log rows past retention and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	archiver := s3blob.NewArchiver(deps.BlobWriter, deps.LogStore, a.logger)
	retention := time.Duration(a.cfg.Automation.ArchiveRetentionDays) * 24 * time.Hour

	n, err := archiver.ArchiveLogs(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive finished", slog.Int64("rows", n))
	return nil
}
