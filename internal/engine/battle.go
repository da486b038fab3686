package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solcast/marketd/internal/domain"
)

// battleVerdict is the outcome of one candle scan over both tokens.
type battleVerdict int

const (
	battleNone battleVerdict = iota // neither token qualified yet
	battleYes                       // primary token qualified first
	battleNo                        // second token qualified first
	battleTie                       // both qualified in the same bucket
)

// checkBattle handles race and dump markets. Battles are checked every sweep
// regardless of time to expiry: the first token whose candle series meets the
// condition within the market's lifetime wins, a same-bucket tie is re-scanned
// at finer granularity, and a still-tied or never-decided battle past expiry
// is refunded.
func (r *Resolver) checkBattle(ctx context.Context, market domain.Market, row domain.ResolutionTracking) error {
	// The feed anchors candle history at now, so after expiry the series
	// carries buckets from after the market closed. Only candles between
	// creation and expiry can decide a battle.
	from := market.CreatedAt.Unix()
	until := r.now().Unix()
	if market.ExpiresAt != nil && market.ExpiresAt.Unix() < until {
		until = market.ExpiresAt.Unix()
	}

	verdict, err := r.scanBattle(ctx, row, domain.GranularityCoarse, from, until)
	if err != nil {
		return err
	}

	if verdict == battleTie {
		// Break the tie by re-scanning at finer time resolution.
		verdict, err = r.scanBattle(ctx, row, domain.GranularityFine, from, until)
		if err != nil {
			return err
		}
		if verdict == battleTie {
			r.logger.InfoContext(ctx, "battle tie unresolved at fine granularity, refunding",
				slog.String("market_id", market.ID),
			)
			return r.refund(ctx, market, row)
		}
	}

	switch verdict {
	case battleYes:
		return r.resolve(ctx, market, row, domain.OutcomeYes)
	case battleNo:
		return r.resolve(ctx, market, row, domain.OutcomeNo)
	}

	// No winner was ever detected; an expired battle refunds both sides.
	if market.Expired(r.now()) {
		return r.refund(ctx, market, row)
	}
	return nil
}

// scanBattle fetches both tokens' candle series at the given granularity and
// compares the first qualifying timestamps inside [from, until]. The strictly
// earlier timestamp wins; a token that never qualifies loses to one that does.
func (r *Resolver) scanBattle(ctx context.Context, row domain.ResolutionTracking, g domain.Granularity, from, until int64) (battleVerdict, error) {
	candlesA, err := r.feed.GetCandleHistory(ctx, row.TokenAddress, g, candleLimit)
	if err != nil {
		return battleNone, fmt.Errorf("candles for %s: %w", row.TokenAddress, err)
	}
	candlesB, err := r.feed.GetCandleHistory(ctx, row.SecondToken, g, candleLimit)
	if err != nil {
		return battleNone, fmt.Errorf("candles for %s: %w", row.SecondToken, err)
	}

	tsA, okA := firstQualifying(candlesA, row.MarketType, row.TargetValue, from, until)
	tsB, okB := firstQualifying(candlesB, row.MarketType, row.TargetValue, from, until)

	switch {
	case okA && okB && tsA == tsB:
		return battleTie, nil
	case okA && (!okB || tsA < tsB):
		return battleYes, nil
	case okB && (!okA || tsB < tsA):
		return battleNo, nil
	default:
		return battleNone, nil
	}
}

// firstQualifying scans a candle series in chronological order and returns
// the timestamp of the first bucket inside [from, until] meeting the battle
// condition: high at or above target for races, low at or below target for
// dumps. Buckets outside the window cannot qualify.
func firstQualifying(candles []domain.Candle, mt domain.MarketType, target float64, from, until int64) (int64, bool) {
	for _, c := range candles {
		if c.Time < from || c.Time > until {
			continue
		}
		if mt == domain.TypeBattleDump {
			if c.Low <= target {
				return c.Time, true
			}
		} else {
			if c.High >= target {
				return c.Time, true
			}
		}
	}
	return 0, false
}
