// Package engine contains the two background processes of the market
// lifecycle: the creation orchestrator and the resolution checker, plus the
// orchestrator that runs both loops.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solcast/marketd/internal/domain"
	"github.com/solcast/marketd/internal/milestone"
	"github.com/solcast/marketd/internal/notify"
	"github.com/solcast/marketd/internal/selection"
)

// defaultProbability is the initial probability estimate for a fresh
// automated market before any bets move it.
const defaultProbability = 50

// Creator runs one market-creation cycle: rotation, token selection,
// milestone computation, atomic persistence, and audit logging.
type Creator struct {
	markets  domain.MarketStore
	logs     domain.AutomationLogStore
	autoCfg  domain.AutomationConfigStore
	feed     domain.TokenFeed
	cache    domain.TokenCache // may be nil; feed is then hit directly
	selector *selection.Selector
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewCreator wires a Creator from its collaborators.
func NewCreator(
	markets domain.MarketStore,
	logs domain.AutomationLogStore,
	autoCfg domain.AutomationConfigStore,
	feed domain.TokenFeed,
	cache domain.TokenCache,
	selector *selection.Selector,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Creator {
	return &Creator{
		markets:  markets,
		logs:     logs,
		autoCfg:  autoCfg,
		feed:     feed,
		cache:    cache,
		selector: selector,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "creator")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle executes one automatic creation cycle. Eligibility failures
// rotate to the next type; any other failure aborts the cycle with a single
// failure log entry. A disabled config produces exactly one "disabled" log
// entry, no market, and ErrAutomationDisabled.
func (c *Creator) RunCycle(ctx context.Context) error {
	cfg, err := c.autoCfg.Get(ctx)
	if err != nil {
		c.logFailure(ctx, domain.LogTypeError, fmt.Sprintf("load automation config: %v", err))
		return fmt.Errorf("engine: automation config: %w", err)
	}
	if !cfg.Enabled {
		c.logger.InfoContext(ctx, "automation disabled, skipping cycle")
		c.appendLog(ctx, domain.AutomatedMarketLog{
			QuestionType: domain.LogTypeDisabled,
			Success:      false,
		})
		return fmt.Errorf("engine: %w", domain.ErrAutomationDisabled)
	}

	tokens, err := c.candidates(ctx)
	if err != nil {
		c.logFailure(ctx, domain.LogTypeError, fmt.Sprintf("token feed: %v", err))
		return fmt.Errorf("engine: token feed: %w", err)
	}

	active, err := c.markets.ListActiveAutomated(ctx)
	if err != nil {
		c.logFailure(ctx, domain.LogTypeError, fmt.Sprintf("list active markets: %v", err))
		return fmt.Errorf("engine: list active markets: %w", err)
	}
	used := selection.UsedTokens(active)

	excluded := make(map[domain.MarketType]bool)
	for {
		mt, err := c.selector.SelectNext(ctx, active, excluded)
		if errors.Is(err, domain.ErrTypesExhausted) {
			c.logFailure(ctx, domain.LogTypeError, "all market types exhausted this cycle")
			return fmt.Errorf("engine: %w", err)
		}
		if err != nil {
			c.logFailure(ctx, domain.LogTypeError, fmt.Sprintf("select type: %v", err))
			return fmt.Errorf("engine: select type: %w", err)
		}

		market, tracking, err := c.build(mt, tokens, used)
		if isEligibilityError(err) {
			// Rotation falls through past types that cannot be satisfied.
			c.logger.WarnContext(ctx, "type unsatisfiable, rotating",
				slog.String("type", string(mt)),
				slog.String("error", err.Error()),
			)
			c.logFailure(ctx, string(mt), err.Error())
			excluded[mt] = true
			continue
		}
		if err != nil {
			c.logFailure(ctx, string(mt), err.Error())
			return fmt.Errorf("engine: build %s market: %w", mt, err)
		}

		return c.commit(ctx, market, tracking)
	}
}

// CreateForced creates a market of an explicitly requested type. Unlike
// RunCycle it never rotates: an unsatisfiable type is a hard failure. The
// enabled flag is not consulted; forced requests are operator-driven.
func (c *Creator) CreateForced(ctx context.Context, mt domain.MarketType) (domain.Market, error) {
	tokens, err := c.candidates(ctx)
	if err != nil {
		c.logFailure(ctx, string(mt), fmt.Sprintf("token feed: %v", err))
		return domain.Market{}, fmt.Errorf("engine: token feed: %w", err)
	}

	active, err := c.markets.ListActiveAutomated(ctx)
	if err != nil {
		c.logFailure(ctx, string(mt), fmt.Sprintf("list active markets: %v", err))
		return domain.Market{}, fmt.Errorf("engine: list active markets: %w", err)
	}

	market, tracking, err := c.build(mt, tokens, selection.UsedTokens(active))
	if err != nil {
		c.logFailure(ctx, string(mt), err.Error())
		return domain.Market{}, fmt.Errorf("engine: build %s market: %w", mt, err)
	}

	if err := c.commit(ctx, market, tracking); err != nil {
		return domain.Market{}, err
	}
	return market, nil
}

// candidates returns the current token candidate page, preferring the cache.
func (c *Creator) candidates(ctx context.Context) ([]domain.Token, error) {
	if c.cache != nil {
		if tokens, ok, err := c.cache.GetCandidates(ctx); err == nil && ok && len(tokens) > 0 {
			return tokens, nil
		}
	}

	tokens, err := c.feed.ListCandidateTokens(ctx)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.SetCandidates(ctx, tokens); err != nil {
			c.logger.WarnContext(ctx, "token cache write failed", slog.String("error", err.Error()))
		}
	}
	return tokens, nil
}

// build assembles a market and its tracking row for the given type without
// persisting anything.
func (c *Creator) build(mt domain.MarketType, tokens []domain.Token, used map[string]bool) (domain.Market, domain.ResolutionTracking, error) {
	now := c.now()

	var (
		primary, second domain.Token
		target          float64
		err             error
	)

	if mt.IsBattle() {
		primary, second, err = selection.PickPair(mt, tokens, used)
		if err != nil {
			return domain.Market{}, domain.ResolutionTracking{}, err
		}
		if mt == domain.TypeBattleRace {
			target = milestone.RaceTarget(primary.MarketCap, second.MarketCap)
		} else {
			target = milestone.DumpTarget(primary.MarketCap, second.MarketCap)
		}
	} else {
		primary, err = selection.PickToken(mt, tokens, used)
		if err != nil {
			return domain.Market{}, domain.ResolutionTracking{}, err
		}
		target, err = milestone.Target(mt, primary.Metric(mt))
		if err != nil {
			return domain.Market{}, domain.ResolutionTracking{}, err
		}
	}

	expiresAt := now.Add(milestone.Expiry(mt))
	market := domain.Market{
		ID:           uuid.NewString(),
		Question:     milestone.Question(mt, target, primary, second),
		Category:     string(mt),
		Probability:  defaultProbability,
		YesPool:      decimal.Zero,
		NoPool:       decimal.Zero,
		Status:       domain.MarketStatusActive,
		ExpiresAt:    &expiresAt,
		IsAutomated:  true,
		TokenAddress: primary.Address,
		TokenImage:   primary.ImageURI,
		SecondToken:  second.Address,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tracking := domain.ResolutionTracking{
		ID:           uuid.NewString(),
		MarketID:     market.ID,
		MarketType:   mt,
		TargetValue:  target,
		TokenAddress: primary.Address,
		SecondToken:  second.Address,
		Status:       domain.TrackingPending,
		LastChecked:  now,
		CreatedAt:    now,
	}
	return market, tracking, nil
}

// commit persists the market atomically with its tracking row, then emits the
// created event, bumps last-run, and appends the success audit entry.
func (c *Creator) commit(ctx context.Context, market domain.Market, tracking domain.ResolutionTracking) error {
	mt := tracking.MarketType

	if err := c.markets.CreateWithTracking(ctx, market, tracking); err != nil {
		c.logFailure(ctx, string(mt), fmt.Sprintf("persist market: %v", err))
		return fmt.Errorf("engine: persist %s market: %w", mt, err)
	}

	c.publishCreated(ctx, market, tracking)

	if err := c.autoCfg.SetLastRun(ctx, c.now()); err != nil {
		c.logger.WarnContext(ctx, "update last run failed", slog.String("error", err.Error()))
	}

	c.appendLog(ctx, domain.AutomatedMarketLog{
		QuestionType: string(mt),
		Success:      true,
		MarketID:     market.ID,
	})

	c.logger.InfoContext(ctx, "automated market created",
		slog.String("market_id", market.ID),
		slog.String("type", string(mt)),
		slog.Float64("target", tracking.TargetValue),
		slog.String("question", market.Question),
	)

	if c.notifier != nil {
		_ = c.notifier.Notify(ctx, notify.EventMarketCreated,
			"Market created", market.Question)
	}
	return nil
}

// publishCreated emits the fire-and-forget created event toward the UI
// layer. Failures are logged and swallowed.
func (c *Creator) publishCreated(ctx context.Context, market domain.Market, tracking domain.ResolutionTracking) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"market_id":  market.ID,
		"type":       string(tracking.MarketType),
		"question":   market.Question,
		"target":     tracking.TargetValue,
		"expires_at": market.ExpiresAt,
	})
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, domain.EventMarketCreated, payload); err != nil {
		c.logger.WarnContext(ctx, "publish created event failed", slog.String("error", err.Error()))
	}
	if err := c.bus.StreamAppend(ctx, domain.EventMarketCreated, payload); err != nil {
		c.logger.WarnContext(ctx, "append created event failed", slog.String("error", err.Error()))
	}
}

// appendLog writes an audit row; audit failures are logged, never fatal.
func (c *Creator) appendLog(ctx context.Context, entry domain.AutomatedMarketLog) {
	entry.CreatedAt = c.now()
	if err := c.logs.Append(ctx, entry); err != nil {
		c.logger.ErrorContext(ctx, "append automation log failed",
			slog.String("question_type", entry.QuestionType),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Creator) logFailure(ctx context.Context, questionType, msg string) {
	c.appendLog(ctx, domain.AutomatedMarketLog{
		QuestionType: questionType,
		Success:      false,
		ErrorMessage: msg,
	})
}

// isEligibilityError reports whether the error is a typed no-candidate
// failure that the automatic rotation may fall through.
func isEligibilityError(err error) bool {
	return errors.Is(err, domain.ErrNoEligibleToken) ||
		errors.Is(err, domain.ErrNoEligiblePair) ||
		errors.Is(err, domain.ErrValueOutOfRange)
}

// RunLoop runs creation cycles on a fixed interval until ctx is cancelled.
// The first cycle runs immediately. A disabled switch is a skipped cycle, not
// a failure; the loop keeps polling so flipping the switch back takes effect
// without a restart.
func (c *Creator) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := c.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrAutomationDisabled) {
		c.logger.ErrorContext(ctx, "creation cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "creation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrAutomationDisabled) {
				c.logger.ErrorContext(ctx, "creation cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}
