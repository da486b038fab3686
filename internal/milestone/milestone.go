// Package milestone computes resolution targets and question text for
// automated markets. All functions are pure; callers pass current metric
// values read from the token feed.
package milestone

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/solcast/marketd/internal/domain"
)

// Fixed ascending milestone ladders per market type. Targets always land on
// a ladder rung so questions read as round numbers.
var (
	MarketCapLadder = []float64{
		100_000, 250_000, 500_000, 750_000, 1_000_000, 1_500_000,
		2_000_000, 3_000_000, 5_000_000, 7_500_000, 10_000_000,
	}
	VolumeLadder = []float64{
		50_000, 100_000, 250_000, 500_000, 1_000_000,
		2_500_000, 5_000_000, 10_000_000,
	}
	HoldersLadder = []float64{
		200, 500, 1_000, 2_500, 5_000, 10_000, 25_000, 50_000,
	}
)

const (
	// HolderFloor is the minimum holder count for a holders market.
	HolderFloor = 100

	// DumpStep is the rounding step and minimum target for dump battles.
	// The floor prevents a degenerate near-zero target.
	DumpStep = 100_000
)

// Expiry returns the fixed expiration window for a market type.
func Expiry(mt domain.MarketType) time.Duration {
	switch mt {
	case domain.TypeMarketCap:
		return 120 * time.Minute
	case domain.TypeVolume, domain.TypeHolders:
		return 24 * time.Hour
	default: // battles
		return 48 * time.Hour
	}
}

// RoundUp returns the first ladder entry >= value, or the ladder maximum when
// value exceeds every entry. The ladder must be ascending and non-empty.
func RoundUp(value float64, ladder []float64) float64 {
	for _, rung := range ladder {
		if rung >= value {
			return rung
		}
	}
	return ladder[len(ladder)-1]
}

// RoundToNearest rounds value to the nearest multiple of step.
func RoundToNearest(step, value float64) float64 {
	return math.Round(value/step) * step
}

// ladderFor maps a single-token market type to its ladder.
func ladderFor(mt domain.MarketType) []float64 {
	switch mt {
	case domain.TypeVolume:
		return VolumeLadder
	case domain.TypeHolders:
		return HoldersLadder
	default:
		return MarketCapLadder
	}
}

// Target computes the resolution target for a single-token market type from
// the token's current metric value. The target is the doubled value rounded
// up to the next rung; if that rounds to a rung at or below the current value
// (possible for small holder counts) the current value is bumped 10% before
// rounding, guaranteeing target > current.
func Target(mt domain.MarketType, current float64) (float64, error) {
	ladder := ladderFor(mt)
	ceiling := ladder[len(ladder)-1]

	switch mt {
	case domain.TypeMarketCap, domain.TypeVolume:
		if current > ceiling {
			return 0, fmt.Errorf("milestone: %s value %.0f above ladder ceiling %.0f: %w",
				mt, current, ceiling, domain.ErrValueOutOfRange)
		}
	case domain.TypeHolders:
		if current < HolderFloor {
			return 0, fmt.Errorf("milestone: holder count %.0f below floor %d: %w",
				current, HolderFloor, domain.ErrValueOutOfRange)
		}
	default:
		return 0, fmt.Errorf("milestone: %s is not a single-token type", mt)
	}

	target := RoundUp(2*current, ladder)
	if target <= current {
		target = RoundUp(2*current*1.1, ladder)
	}
	if target <= current {
		return 0, fmt.Errorf("milestone: no rung above %s value %.0f: %w",
			mt, current, domain.ErrValueOutOfRange)
	}
	return target, nil
}

// RaceTarget computes a battle race target. The weaker token sets the pace so
// both sides have a realistic chance of reaching the target first.
func RaceTarget(sizeA, sizeB float64) float64 {
	return RoundUp(2*math.Min(sizeA, sizeB), MarketCapLadder)
}

// DumpTarget computes a battle dump target: half the weaker token's size,
// rounded to the nearest DumpStep, never below the floor.
func DumpTarget(sizeA, sizeB float64) float64 {
	return math.Max(DumpStep, RoundToNearest(DumpStep, 0.5*math.Min(sizeA, sizeB)))
}

// Question renders the human-readable market question. second is ignored for
// single-token types.
func Question(mt domain.MarketType, target float64, primary, second domain.Token) string {
	switch mt {
	case domain.TypeMarketCap:
		return fmt.Sprintf("Will $%s reach a %s market cap in the next 2 hours?",
			symbol(primary), FormatAmount(target))
	case domain.TypeVolume:
		return fmt.Sprintf("Will $%s trade %s in volume over the next 24 hours?",
			symbol(primary), FormatAmount(target))
	case domain.TypeHolders:
		return fmt.Sprintf("Will $%s reach %s holders in the next 24 hours?",
			symbol(primary), FormatAmount(target))
	case domain.TypeBattleRace:
		return fmt.Sprintf("Battle: will $%s hit a %s market cap before $%s?",
			symbol(primary), FormatAmount(target), symbol(second))
	case domain.TypeBattleDump:
		return fmt.Sprintf("Dump battle: will $%s fall to a %s market cap before $%s?",
			symbol(primary), FormatAmount(target), symbol(second))
	default:
		return ""
	}
}

func symbol(t domain.Token) string {
	if t.Symbol != "" {
		return strings.ToUpper(t.Symbol)
	}
	return t.Address
}

// FormatAmount renders a target as a short human figure: 750000 -> "750K",
// 1500000 -> "1.5M", 2500 -> "2,500".
func FormatAmount(v float64) string {
	switch {
	case v >= 1_000_000:
		return trimZero(v/1_000_000) + "M"
	case v >= 10_000:
		return trimZero(v/1_000) + "K"
	default:
		s := fmt.Sprintf("%.0f", v)
		if len(s) > 3 {
			return s[:len(s)-3] + "," + s[len(s)-3:]
		}
		return s
	}
}

func trimZero(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
