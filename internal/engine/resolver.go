package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solcast/marketd/internal/commit"
	"github.com/solcast/marketd/internal/domain"
	"github.com/solcast/marketd/internal/notify"
	"github.com/solcast/marketd/internal/payout"
)

const (
	// checkWindow is how close to expiry a single-token market must be
	// before the checker spends an API call on it.
	checkWindow = time.Minute

	// graceWindow is how long past expiry a single-token market may still be
	// resolved on merit. Beyond it the market is refunded.
	graceWindow = 5 * time.Minute

	// candleLimit covers a full battle window at coarse granularity.
	candleLimit = 576
)

// Resolver is the polling resolution checker. Each sweep visits every
// pending tracking row and decides yes/no/refund/no-action. Sweeps are
// idempotent: a row that went terminal between visits is a no-op, and every
// terminal transition is guarded by a status check in the store.
type Resolver struct {
	markets  domain.MarketStore
	tracking domain.TrackingStore
	bets     domain.BetStore
	feed     domain.TokenFeed
	dist     *payout.Distributor
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver wires a Resolver from its collaborators.
func NewResolver(
	markets domain.MarketStore,
	tracking domain.TrackingStore,
	bets domain.BetStore,
	feed domain.TokenFeed,
	dist *payout.Distributor,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		markets:  markets,
		tracking: tracking,
		bets:     bets,
		feed:     feed,
		dist:     dist,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "resolver")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunSweep visits every pending tracking row once. Per-row failures are
// logged and do not stop the sweep.
func (r *Resolver) RunSweep(ctx context.Context) error {
	rows, err := r.tracking.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("engine: list pending tracking: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.checkOne(ctx, row); err != nil {
			r.logger.ErrorContext(ctx, "resolution check failed",
				slog.String("market_id", row.MarketID),
				slog.String("type", string(row.MarketType)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// checkOne inspects a single pending row and applies at most one terminal
// transition. lastChecked is updated whether or not a transition occurred.
func (r *Resolver) checkOne(ctx context.Context, row domain.ResolutionTracking) error {
	if row.Status != domain.TrackingPending {
		return nil
	}
	defer func() {
		if err := r.tracking.Touch(ctx, row.ID, r.now()); err != nil {
			r.logger.WarnContext(ctx, "touch tracking failed",
				slog.String("tracking_id", row.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	market, err := r.markets.GetByID(ctx, row.MarketID)
	if err != nil {
		return fmt.Errorf("load market %s: %w", row.MarketID, err)
	}

	// A resolved market with a pending row means a previous sweep crashed
	// between the market write and the tracking write; just sync the row.
	if market.Status != domain.MarketStatusActive {
		return r.syncTerminal(ctx, row, market.ResolvedOutcome)
	}

	if row.MarketType.IsBattle() {
		return r.checkBattle(ctx, market, row)
	}
	return r.checkSingle(ctx, market, row)
}

// checkSingle handles market-cap, volume, and holders markets. Checks are
// skipped outside a one-minute window before expiry to avoid redundant API
// calls; past expiry a five-minute grace window still allows a merit check,
// after which the market is refunded.
func (r *Resolver) checkSingle(ctx context.Context, market domain.Market, row domain.ResolutionTracking) error {
	if market.ExpiresAt == nil {
		return nil // nothing to resolve against; manual markets only
	}
	now := r.now()
	expiresAt := *market.ExpiresAt

	if market.Expired(now) {
		if now.After(expiresAt.Add(graceWindow)) {
			// Too late to resolve meaningfully.
			return r.refund(ctx, market, row)
		}
		return r.terminalCheck(ctx, market, row, true)
	}

	if expiresAt.Sub(now) > checkWindow {
		return nil // not close enough to expiry yet
	}
	return r.terminalCheck(ctx, market, row, false)
}

// terminalCheck compares the token's current metric against the target.
// The boundary is inclusive on YES. Before expiry only a YES can be decided;
// a NO is only final once the expiry has passed.
func (r *Resolver) terminalCheck(ctx context.Context, market domain.Market, row domain.ResolutionTracking, pastExpiry bool) error {
	token, err := r.feed.GetToken(ctx, row.TokenAddress)
	if err != nil {
		return fmt.Errorf("fetch token %s: %w", row.TokenAddress, err)
	}

	current := token.Metric(row.MarketType)
	if current >= row.TargetValue {
		return r.resolve(ctx, market, row, domain.OutcomeYes)
	}
	if pastExpiry {
		return r.resolve(ctx, market, row, domain.OutcomeNo)
	}
	return nil // condition not met yet, expiry still ahead
}

// resolve finalizes a market with the given outcome: commitment hash first,
// then the guarded status transition, then settlement, then the tracking
// transition and audit of the commitment.
func (r *Resolver) resolve(ctx context.Context, market domain.Market, row domain.ResolutionTracking, outcome domain.Outcome) error {
	c, err := commit.New(outcome, market.ID)
	if err != nil {
		return fmt.Errorf("build commitment: %w", err)
	}
	if err := r.markets.SetCommitment(ctx, market.ID, c.Hash); err != nil {
		return fmt.Errorf("publish commitment: %w", err)
	}

	err = r.markets.Resolve(ctx, market.ID, outcome, c.Secret)
	if errors.Is(err, domain.ErrNotFound) {
		// Another sweep won the race; sync our row and stop.
		return r.syncTerminal(ctx, row, outcome)
	}
	if err != nil {
		return fmt.Errorf("resolve market: %w", err)
	}

	r.settle(ctx, market, outcome)

	if err := r.syncTerminal(ctx, row, outcome); err != nil {
		return err
	}

	// Audit the published hash against the revealed triple. A mismatch is a
	// fatal-severity integrity signal but never blocks the resolution, which
	// has already committed.
	if !commit.Verify(c.Hash, outcome, c.Secret, market.ID) {
		r.logger.ErrorContext(ctx, "commitment verification failed",
			slog.String("market_id", market.ID),
			slog.String("outcome", string(outcome)),
			slog.String("error", domain.ErrCommitMismatch.Error()),
		)
	}

	r.publishResolved(ctx, market, row, outcome)

	r.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", market.ID),
		slog.String("type", string(row.MarketType)),
		slog.String("outcome", string(outcome)),
	)
	return nil
}

// refund resolves the market as refunded; stakes go back to both sides.
func (r *Resolver) refund(ctx context.Context, market domain.Market, row domain.ResolutionTracking) error {
	if err := r.resolve(ctx, market, row, domain.OutcomeRefunded); err != nil {
		return err
	}
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, notify.EventRefundIssued,
			"Market refunded", market.Question)
	}
	return nil
}

// settle runs the payout distributor. Transfer failures are recorded inside
// the distributor for replay and never abort the resolution.
func (r *Resolver) settle(ctx context.Context, market domain.Market, outcome domain.Outcome) {
	bets, err := r.bets.ListByMarket(ctx, market.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "list bets failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(bets) == 0 {
		return
	}

	if err := r.dist.Distribute(ctx, market, bets, outcome); err != nil {
		r.logger.ErrorContext(ctx, "settlement incomplete",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
		if r.notifier != nil {
			event := notify.EventPayoutFailed
			if errors.Is(err, domain.ErrInsufficientTreasury) {
				event = notify.EventTreasuryLow
			}
			_ = r.notifier.Notify(ctx, event, "Settlement incomplete",
				fmt.Sprintf("market %s: %v", market.ID, err))
		}
	}
}

// syncTerminal moves the tracking row forward to match a decided outcome.
// Refunds park the row as expired; yes/no outcomes mark it resolved. A row
// that already went terminal is left alone.
func (r *Resolver) syncTerminal(ctx context.Context, row domain.ResolutionTracking, outcome domain.Outcome) error {
	var err error
	if outcome == domain.OutcomeRefunded {
		err = r.tracking.MarkExpired(ctx, row.ID)
	} else {
		err = r.tracking.MarkResolved(ctx, row.ID)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("advance tracking %s: %w", row.ID, err)
	}
	return nil
}

// publishResolved emits the fire-and-forget resolved event.
func (r *Resolver) publishResolved(ctx context.Context, market domain.Market, row domain.ResolutionTracking, outcome domain.Outcome) {
	if r.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"market_id": market.ID,
			"type":      string(row.MarketType),
			"outcome":   string(outcome),
		})
		if err == nil {
			if err := r.bus.Publish(ctx, domain.EventMarketResolved, payload); err != nil {
				r.logger.WarnContext(ctx, "publish resolved event failed", slog.String("error", err.Error()))
			}
			if err := r.bus.StreamAppend(ctx, domain.EventMarketResolved, payload); err != nil {
				r.logger.WarnContext(ctx, "append resolved event failed", slog.String("error", err.Error()))
			}
		}
	}
	if r.notifier != nil && outcome != domain.OutcomeRefunded {
		_ = r.notifier.Notify(ctx, notify.EventMarketResolved,
			"Market resolved "+string(outcome), market.Question)
	}
}

// RunLoop runs resolution sweeps on a fixed interval until ctx is cancelled.
// The first sweep runs immediately.
func (r *Resolver) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := r.RunSweep(ctx); err != nil {
		r.logger.ErrorContext(ctx, "resolution sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "resolution loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunSweep(ctx); err != nil {
				r.logger.ErrorContext(ctx, "resolution sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
