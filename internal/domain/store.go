package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists markets. Resolve and related mutations are guarded by
// a status check in the store so that overlapping resolution sweeps cannot
// double-settle a market; the status column is the concurrency control.
type MarketStore interface {
	// CreateWithTracking inserts a market and its resolution-tracking row in
	// one transaction. A market must never exist without its tracking row.
	CreateWithTracking(ctx context.Context, m Market, t ResolutionTracking) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListActiveAutomated(ctx context.Context) ([]Market, error)
	// SetCommitment publishes the commitment hash on an active market.
	SetCommitment(ctx context.Context, id, hash string) error
	// Resolve transitions the market to resolved with the given outcome and
	// reveals the commitment secret. A refunded outcome zeroes both pools.
	// Returns ErrNotFound if the market is not active anymore.
	Resolve(ctx context.Context, id string, outcome Outcome, secret string) error
}

// TrackingStore persists resolution-tracking rows.
type TrackingStore interface {
	ListPending(ctx context.Context) ([]ResolutionTracking, error)
	// MarkResolved and MarkExpired transition a pending row forward. They are
	// no-ops (ErrNotFound) when the row is already terminal.
	MarkResolved(ctx context.Context, id string) error
	MarkExpired(ctx context.Context, id string) error
	// Touch records the time of the latest check regardless of outcome.
	Touch(ctx context.Context, id string, checked time.Time) error
}

// AutomationLogStore persists the append-only creation audit trail.
type AutomationLogStore interface {
	Append(ctx context.Context, entry AutomatedMarketLog) error
	List(ctx context.Context, opts ListOpts) ([]AutomatedMarketLog, error)
	// LastBattleType returns the question type of the most recent battle
	// entry, or empty string if no battle has ever been attempted.
	LastBattleType(ctx context.Context) (MarketType, error)
	// ListBefore and DeleteBefore support cold-storage archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AutomatedMarketLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AutomationConfigStore reads and updates the singleton automation switch.
type AutomationConfigStore interface {
	Get(ctx context.Context) (AutomationConfig, error)
	SetLastRun(ctx context.Context, at time.Time) error
}

// BetStore reads bets for settlement. Bet writes belong to the wagering
// layer and are out of scope here.
type BetStore interface {
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)
}

// TransactionStore persists settlement ledger entries.
type TransactionStore interface {
	InsertBatch(ctx context.Context, txs []Transaction) error
	ListFailed(ctx context.Context, opts ListOpts) ([]Transaction, error)
	MarkCompleted(ctx context.Context, id, transferRef string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// BalanceStore credits user balances held by the wagering layer.
type BalanceStore interface {
	Credit(ctx context.Context, wallet string, amount decimal.Decimal) error
}
