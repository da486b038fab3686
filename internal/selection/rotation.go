package selection

import (
	"context"
	"fmt"

	"github.com/solcast/marketd/internal/domain"
)

// battleSlot is the rotation slot shared by both battle sub-types. The ladder
// has four slots; battles alternate race/dump inside theirs.
const battleSlot = "battle"

// rotationSlots is the fixed ladder order the selector walks.
var rotationSlots = []string{
	string(domain.TypeMarketCap),
	string(domain.TypeVolume),
	string(domain.TypeHolders),
	battleSlot,
}

// slotOf maps a concrete market type to its rotation slot.
func slotOf(mt domain.MarketType) string {
	if mt.IsBattle() {
		return battleSlot
	}
	return string(mt)
}

// Selector decides which market type the next automated cycle attempts. It
// holds no cursor state; rotation position is reconstructed from the set of
// currently active automated markets, and the battle sub-type alternation
// from the audit log.
type Selector struct {
	logs domain.AutomationLogStore
}

// NewSelector creates a Selector backed by the creation audit log.
func NewSelector(logs domain.AutomationLogStore) *Selector {
	return &Selector{logs: logs}
}

// SelectNext returns the next type to attempt: the first slot in ladder order
// with no currently active automated market and no entry in excluded. The
// excluded set carries the types that already failed this cycle, so the
// orchestrator can rotate past them. When every slot is active or excluded
// the cycle is exhausted and ErrTypesExhausted is returned.
func (s *Selector) SelectNext(ctx context.Context, active []domain.Market, excluded map[domain.MarketType]bool) (domain.MarketType, error) {
	occupied := make(map[string]bool, len(rotationSlots))
	for _, m := range active {
		if !m.IsAutomated || m.Status != domain.MarketStatusActive {
			continue
		}
		occupied[slotOf(marketTypeOf(m))] = true
	}

	excludedSlots := make(map[string]bool, len(excluded))
	for mt := range excluded {
		excludedSlots[slotOf(mt)] = true
	}

	for _, slot := range rotationSlots {
		if occupied[slot] || excludedSlots[slot] {
			continue
		}
		if slot == battleSlot {
			return s.nextBattleType(ctx)
		}
		return domain.MarketType(slot), nil
	}
	return "", fmt.Errorf("selection: %w", domain.ErrTypesExhausted)
}

// nextBattleType alternates the battle sub-type against the last battle
// attempt in the audit log: race after dump or on cold start, dump after
// race.
func (s *Selector) nextBattleType(ctx context.Context) (domain.MarketType, error) {
	last, err := s.logs.LastBattleType(ctx)
	if err != nil {
		return "", fmt.Errorf("selection: last battle type: %w", err)
	}
	if last == domain.TypeBattleRace {
		return domain.TypeBattleDump, nil
	}
	return domain.TypeBattleRace, nil
}

// marketTypeOf infers a market's rotation type from its shape. Automated
// markets always carry a category equal to their market type; the second
// token distinguishes battles when the category is missing.
func marketTypeOf(m domain.Market) domain.MarketType {
	if m.Category != "" {
		return domain.MarketType(m.Category)
	}
	if m.SecondToken != "" {
		return domain.TypeBattleRace
	}
	return domain.TypeMarketCap
}
