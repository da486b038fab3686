package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solcast/marketd/internal/domain"
)

// AutomationLogStore implements domain.AutomationLogStore using PostgreSQL.
// The table is append-only; rows only leave it through archival.
type AutomationLogStore struct {
	pool *pgxpool.Pool
}

// NewAutomationLogStore creates a new AutomationLogStore backed by the pool.
func NewAutomationLogStore(pool *pgxpool.Pool) *AutomationLogStore {
	return &AutomationLogStore{pool: pool}
}

// Append inserts one audit row. The entry's ID is assigned by the database.
func (s *AutomationLogStore) Append(ctx context.Context, entry domain.AutomatedMarketLog) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO automated_market_logs (question_type, success, market_id, error_message, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		entry.QuestionType, entry.Success, entry.MarketID, entry.ErrorMessage,
	); err != nil {
		return fmt.Errorf("postgres: append automation log: %w", err)
	}
	return nil
}

const logCols = `id, question_type, success, market_id, error_message, created_at`

// List returns audit rows newest first.
func (s *AutomationLogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AutomatedMarketLog, error) {
	query := `SELECT ` + logCols + ` FROM automated_market_logs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $2"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list automation logs: %w", err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

// LastBattleType returns the question type of the most recent battle entry,
// or empty string if no battle has ever been attempted.
func (s *AutomationLogStore) LastBattleType(ctx context.Context) (domain.MarketType, error) {
	var qt string
	err := s.pool.QueryRow(ctx, `
		SELECT question_type FROM automated_market_logs
		WHERE question_type IN ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		string(domain.TypeBattleRace), string(domain.TypeBattleDump),
	).Scan(&qt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("postgres: last battle type: %w", err)
	}
	return domain.MarketType(qt), nil
}

// ListBefore returns rows created strictly before the cutoff, oldest first.
// A limit of zero means no limit.
func (s *AutomationLogStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AutomatedMarketLog, error) {
	query := `SELECT ` + logCols + ` FROM automated_market_logs
		WHERE created_at < $1 ORDER BY created_at ASC, id ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list automation logs before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

// DeleteBefore removes rows created strictly before the cutoff and returns
// the number deleted.
func (s *AutomationLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM automated_market_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete automation logs before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func scanLogs(rows pgx.Rows) ([]domain.AutomatedMarketLog, error) {
	var out []domain.AutomatedMarketLog
	for rows.Next() {
		var l domain.AutomatedMarketLog
		if err := rows.Scan(&l.ID, &l.QuestionType, &l.Success, &l.MarketID, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan automation log: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: automation log rows: %w", err)
	}
	return out, nil
}

// AutomationConfigStore implements domain.AutomationConfigStore. The config
// lives in a single-row table keyed by id = 1.
type AutomationConfigStore struct {
	pool *pgxpool.Pool
}

// NewAutomationConfigStore creates a new AutomationConfigStore.
func NewAutomationConfigStore(pool *pgxpool.Pool) *AutomationConfigStore {
	return &AutomationConfigStore{pool: pool}
}

// Get reads the singleton automation switch.
func (s *AutomationConfigStore) Get(ctx context.Context) (domain.AutomationConfig, error) {
	var cfg domain.AutomationConfig
	err := s.pool.QueryRow(ctx, `
		SELECT enabled, last_run, updated_at
		FROM automation_config WHERE id = 1`,
	).Scan(&cfg.Enabled, &cfg.LastRun, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AutomationConfig{}, domain.ErrNotFound
		}
		return domain.AutomationConfig{}, fmt.Errorf("postgres: get automation config: %w", err)
	}
	return cfg, nil
}

// SetLastRun records the completion time of a creation cycle.
func (s *AutomationConfigStore) SetLastRun(ctx context.Context, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE automation_config SET last_run = $1, updated_at = NOW()
		WHERE id = 1`, at); err != nil {
		return fmt.Errorf("postgres: set automation last run: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.AutomationLogStore    = (*AutomationLogStore)(nil)
	_ domain.AutomationConfigStore = (*AutomationConfigStore)(nil)
)
