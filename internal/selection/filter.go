// Package selection picks which market type to create next and which feed
// tokens satisfy it: bounds filtering, used-token exclusion, battle pairing,
// and the rotation state machine.
package selection

import (
	"fmt"
	"math"

	"github.com/solcast/marketd/internal/domain"
)

// pairTolerance is the maximum relative distance between two battle tokens'
// sizes and ages, measured against their pairwise average.
const pairTolerance = 0.30

// metricBounds returns the [min, max) eligibility window for a type's metric,
// chosen so the doubled (or halved) target neither falls below the lowest
// milestone nor exceeds the ladder ceiling.
func metricBounds(mt domain.MarketType) (float64, float64) {
	switch mt {
	case domain.TypeMarketCap, domain.TypeBattleRace:
		return 50_000, 5_000_000
	case domain.TypeVolume:
		return 25_000, 5_000_000
	case domain.TypeHolders:
		return 100, 25_000
	case domain.TypeBattleDump:
		return 200_000, 10_000_000
	default:
		return 0, math.MaxFloat64
	}
}

// eligible reports whether the token's metric for the type is inside bounds.
func eligible(mt domain.MarketType, t domain.Token) bool {
	lo, hi := metricBounds(mt)
	v := t.Metric(mt)
	return v >= lo && v < hi
}

// UsedTokens collects every token address referenced by an existing automated
// market, either side. Uniqueness across the automated corpus is enforced by
// this linear scan; the candidate list is bounded by the feed's page size.
func UsedTokens(markets []domain.Market) map[string]bool {
	used := make(map[string]bool, len(markets))
	for _, m := range markets {
		if !m.IsAutomated {
			continue
		}
		if m.TokenAddress != "" {
			used[m.TokenAddress] = true
		}
		if m.SecondToken != "" {
			used[m.SecondToken] = true
		}
	}
	return used
}

// PickToken returns the first unused eligible candidate in feed rank order.
func PickToken(mt domain.MarketType, tokens []domain.Token, used map[string]bool) (domain.Token, error) {
	for _, t := range tokens {
		if used[t.Address] || !eligible(mt, t) {
			continue
		}
		return t, nil
	}
	return domain.Token{}, fmt.Errorf("selection: %s: %w", mt, domain.ErrNoEligibleToken)
}

// PickPair scans unused eligible candidates pairwise and returns the first
// pair whose sizes and ages are each within tolerance of their pairwise
// average. First match wins; there is no search for a globally best pair.
func PickPair(mt domain.MarketType, tokens []domain.Token, used map[string]bool) (domain.Token, domain.Token, error) {
	candidates := make([]domain.Token, 0, len(tokens))
	for _, t := range tokens {
		if used[t.Address] || !eligible(mt, t) {
			continue
		}
		candidates = append(candidates, t)
	}

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if withinTolerance(a.MarketCap, b.MarketCap) &&
				withinTolerance(float64(a.AgeSeconds), float64(b.AgeSeconds)) {
				return a, b, nil
			}
		}
	}
	return domain.Token{}, domain.Token{}, fmt.Errorf("selection: %s: %w", mt, domain.ErrNoEligiblePair)
}

// withinTolerance reports whether a and b differ by at most pairTolerance of
// their pairwise average.
func withinTolerance(a, b float64) bool {
	avg := (a + b) / 2
	if avg <= 0 {
		return false
	}
	return math.Abs(a-b)/avg <= pairTolerance
}
