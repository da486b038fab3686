package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solcast/marketd/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. The engine only reads
// bets; writes belong to the wagering layer.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// ListByMarket returns every bet placed on the given market.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, wallet, position, amount, created_at
		FROM bets WHERE market_id = $1
		ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var position string
		if err := rows.Scan(&b.ID, &b.MarketID, &b.Wallet, &position, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Position = domain.Outcome(position)
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
