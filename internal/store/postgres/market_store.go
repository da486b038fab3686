package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solcast/marketd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. The status
// column doubles as the concurrency control: every resolving mutation carries
// a `status = 'active'` guard so overlapping sweeps cannot double-settle.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, category, probability, yes_pool, no_pool,
	status, resolved_outcome, expires_at, is_automated, winner_take_all,
	token_address, token_image, second_token, commit_hash, commit_secret,
	created_at, updated_at`

// CreateWithTracking inserts a market and its resolution-tracking row in one
// transaction. A market must never exist without its tracking row.
func (s *MarketStore) CreateWithTracking(ctx context.Context, m domain.Market, t domain.ResolutionTracking) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertMarket = `
		INSERT INTO markets (
			id, question, category, probability, yes_pool, no_pool,
			status, resolved_outcome, expires_at, is_automated, winner_take_all,
			token_address, token_image, second_token, commit_hash, commit_secret,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			NOW(), NOW()
		)`

	if _, err := tx.Exec(ctx, insertMarket,
		m.ID, m.Question, m.Category, m.Probability, m.YesPool, m.NoPool,
		string(m.Status), string(m.ResolvedOutcome), m.ExpiresAt, m.IsAutomated, m.WinnerTakeAll,
		m.TokenAddress, m.TokenImage, m.SecondToken, m.CommitHash, m.CommitSecret,
	); err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}

	const insertTracking = `
		INSERT INTO resolution_tracking (
			id, market_id, market_type, target_value,
			token_address, second_token, status, last_checked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`

	if _, err := tx.Exec(ctx, insertTracking,
		t.ID, t.MarketID, string(t.MarketType), t.TargetValue,
		t.TokenAddress, t.SecondToken, string(t.Status),
	); err != nil {
		return fmt.Errorf("postgres: insert tracking %s: %w", t.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market %s: %w", m.ID, err)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status, outcome string
	err := row.Scan(
		&m.ID, &m.Question, &m.Category, &m.Probability, &m.YesPool, &m.NoPool,
		&status, &outcome, &m.ExpiresAt, &m.IsAutomated, &m.WinnerTakeAll,
		&m.TokenAddress, &m.TokenImage, &m.SecondToken, &m.CommitHash, &m.CommitSecret,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.ResolvedOutcome = domain.Outcome(outcome)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListActiveAutomated returns all active automated markets, oldest first.
func (s *MarketStore) ListActiveAutomated(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status = 'active' AND is_automated
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active automated markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active automated market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active automated markets rows: %w", err)
	}
	return markets, nil
}

// SetCommitment publishes the commitment hash on an active market. Returns
// ErrNotFound when the market is no longer active.
func (s *MarketStore) SetCommitment(ctx context.Context, id, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET commit_hash = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`, id, hash)
	if err != nil {
		return fmt.Errorf("postgres: set commitment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve transitions an active market to resolved with the given outcome and
// reveals the commitment secret. A refunded outcome zeroes both pools. Returns
// ErrNotFound when the market is not active anymore, which callers treat as a
// lost race with another sweep.
func (s *MarketStore) Resolve(ctx context.Context, id string, outcome domain.Outcome, secret string) error {
	const query = `
		UPDATE markets SET
			status           = 'resolved',
			resolved_outcome = $2,
			commit_secret    = $3,
			yes_pool         = CASE WHEN $2 = 'refunded' THEN 0 ELSE yes_pool END,
			no_pool          = CASE WHEN $2 = 'refunded' THEN 0 ELSE no_pool END,
			updated_at       = NOW()
		WHERE id = $1 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, id, string(outcome), secret)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
