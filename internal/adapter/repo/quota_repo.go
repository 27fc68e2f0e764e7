package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropgen/internal/domain"
)

// QuotaStorePG persists quota counters keyed by window name.
type QuotaStorePG struct {
	pool *pgxpool.Pool
}

// NewQuotaStore creates a new quota store backed by PostgreSQL.
func NewQuotaStore(pool *pgxpool.Pool) *QuotaStorePG {
	return &QuotaStorePG{pool: pool}
}

// Load returns the persisted state for the window, nil when absent.
func (s *QuotaStorePG) Load(ctx context.Context, window string) (*domain.QuotaState, error) {
	query := `SELECT window_name, usage, reset_at FROM quota_counters WHERE window_name = $1;`
	var state domain.QuotaState
	if err := s.pool.QueryRow(ctx, query, window).Scan(&state.Window, &state.Usage, &state.ResetAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// Save upserts every window in one transaction.
func (s *QuotaStorePG) Save(ctx context.Context, states []domain.QuotaState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin quota save: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
INSERT INTO quota_counters (window_name, usage, reset_at)
VALUES ($1, $2, $3)
ON CONFLICT (window_name) DO UPDATE SET usage = EXCLUDED.usage, reset_at = EXCLUDED.reset_at;
`
	for _, state := range states {
		if _, err := tx.Exec(ctx, query, state.Window, state.Usage, state.ResetAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
