package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
)

// Outcome is the resolved result of a binary market.
type Outcome string

const (
	OutcomeYes      Outcome = "yes"
	OutcomeNo       Outcome = "no"
	OutcomeRefunded Outcome = "refunded"
)

// MarketType identifies which milestone family an automated market belongs to.
type MarketType string

const (
	TypeMarketCap  MarketType = "market_cap"
	TypeVolume     MarketType = "volume"
	TypeHolders    MarketType = "holders"
	TypeBattleRace MarketType = "battle_race"
	TypeBattleDump MarketType = "battle_dump"
)

// IsBattle reports whether the type pits two tokens against each other.
func (t MarketType) IsBattle() bool {
	return t == TypeBattleRace || t == TypeBattleDump
}

// Market is a single binary wagering instrument. While active,
// ResolvedOutcome is empty; once resolved the pools are frozen and only the
// refund path may zero them.
type Market struct {
	ID              string
	Question        string
	Category        string
	Probability     int // 0-100 estimate shown to users
	YesPool         decimal.Decimal
	NoPool          decimal.Decimal
	Status          MarketStatus
	ResolvedOutcome Outcome // empty while active
	ExpiresAt       *time.Time
	IsAutomated     bool
	WinnerTakeAll   bool // private markets split the pool evenly
	TokenAddress    string
	TokenImage      string
	SecondToken     string // battle markets only
	CommitHash      string // published before resolution
	CommitSecret    string // revealed after resolution commits
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired reports whether the market's expiry has passed at the given time.
// Markets without an expiry never expire.
func (m Market) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
