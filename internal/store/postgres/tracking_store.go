package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solcast/marketd/internal/domain"
)

// TrackingStore implements domain.TrackingStore using PostgreSQL. Forward
// transitions carry a `status = 'pending'` guard so a row can only leave
// pending once.
type TrackingStore struct {
	pool *pgxpool.Pool
}

// NewTrackingStore creates a new TrackingStore backed by the given pool.
func NewTrackingStore(pool *pgxpool.Pool) *TrackingStore {
	return &TrackingStore{pool: pool}
}

// ListPending returns all pending tracking rows, oldest first.
func (s *TrackingStore) ListPending(ctx context.Context) ([]domain.ResolutionTracking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, market_type, target_value,
		       token_address, second_token, status, last_checked, created_at
		FROM resolution_tracking
		WHERE status = 'pending'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending tracking: %w", err)
	}
	defer rows.Close()

	var out []domain.ResolutionTracking
	for rows.Next() {
		var t domain.ResolutionTracking
		var mt, status string
		if err := rows.Scan(
			&t.ID, &t.MarketID, &mt, &t.TargetValue,
			&t.TokenAddress, &t.SecondToken, &status, &t.LastChecked, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan tracking row: %w", err)
		}
		t.MarketType = domain.MarketType(mt)
		t.Status = domain.TrackingStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending tracking rows: %w", err)
	}
	return out, nil
}

// MarkResolved transitions a pending row to resolved. Returns ErrNotFound
// when the row is already terminal.
func (s *TrackingStore) MarkResolved(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.TrackingResolved)
}

// MarkExpired transitions a pending row to expired. Returns ErrNotFound when
// the row is already terminal.
func (s *TrackingStore) MarkExpired(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.TrackingExpired)
}

func (s *TrackingStore) transition(ctx context.Context, id string, to domain.TrackingStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resolution_tracking SET status = $2
		 WHERE id = $1 AND status = 'pending'`, id, string(to))
	if err != nil {
		return fmt.Errorf("postgres: mark tracking %s %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Touch records the time of the latest check regardless of outcome.
func (s *TrackingStore) Touch(ctx context.Context, id string, checked time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE resolution_tracking SET last_checked = $2 WHERE id = $1`,
		id, checked); err != nil {
		return fmt.Errorf("postgres: touch tracking %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TrackingStore = (*TrackingStore)(nil)
