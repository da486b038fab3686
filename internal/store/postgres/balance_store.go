package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solcast/marketd/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. Credits are
// additive upserts so a wallet's first payout creates its row.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Credit adds amount to the wallet's balance.
func (s *BalanceStore) Credit(ctx context.Context, wallet string, amount decimal.Decimal) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO user_balances (wallet, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (wallet) DO UPDATE SET
			balance    = user_balances.balance + EXCLUDED.balance,
			updated_at = NOW()`,
		wallet, amount); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", wallet, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)
