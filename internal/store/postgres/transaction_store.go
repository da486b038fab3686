package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solcast/marketd/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// InsertBatch inserts settlement ledger entries in a single batch operation.
func (s *TransactionStore) InsertBatch(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	const query = `
		INSERT INTO transactions (
			id, market_id, wallet, type, amount, status, transfer_ref, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	batch := &pgx.Batch{}
	for _, t := range txs {
		batch.Queue(query,
			t.ID, t.MarketID, t.Wallet, string(t.Type), t.Amount,
			string(t.Status), t.TransferRef, t.Error,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range txs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert transaction batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListFailed returns failed entries oldest first, for replay.
func (s *TransactionStore) ListFailed(ctx context.Context, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `
		SELECT id, market_id, wallet, type, amount, status, transfer_ref, error, created_at
		FROM transactions WHERE status = 'failed'
		ORDER BY created_at ASC`
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
		return nil, fmt.Errorf("postgres: list failed transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var typ, status string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.Wallet, &typ, &t.Amount,
			&status, &t.TransferRef, &t.Error, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		t.Type = domain.TransactionType(typ)
		t.Status = domain.TransactionStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed transactions rows: %w", err)
	}
	return out, nil
}

// MarkCompleted records a successful on-chain leg with its transfer reference.
func (s *TransactionStore) MarkCompleted(ctx context.Context, id, transferRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET status = 'completed', transfer_ref = $2, error = ''
		WHERE id = $1`, id, transferRef)
	if err != nil {
		return fmt.Errorf("postgres: mark transaction %s completed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed records a failed on-chain leg with the batch error.
func (s *TransactionStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET status = 'failed', error = $2
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: mark transaction %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
