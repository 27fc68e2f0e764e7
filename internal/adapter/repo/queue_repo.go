package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropgen/internal/domain"
)

// QueueStorePG is the durable FIFO deferred queue. Ordering is
// (queued_at, seq); seq breaks ties by insertion order.
type QueueStorePG struct {
	pool *pgxpool.Pool
}

// NewQueueStore creates a new queue store backed by PostgreSQL.
func NewQueueStore(pool *pgxpool.Pool) *QueueStorePG {
	return &QueueStorePG{pool: pool}
}

// Enqueue appends the entry at the tail.
func (s *QueueStorePG) Enqueue(ctx context.Context, entry domain.QueueEntry) error {
	query := `INSERT INTO job_queue (job_id, queued_at) VALUES ($1, $2);`
	_, err := s.pool.Exec(ctx, query, entry.JobID, entry.QueuedAt)
	return err
}

const pushFrontRetries = 3

// PushFront reinserts the entry ahead of everything currently queued.
// Two processors (api and worker) can race to the same head seq; the
// loser hits the primary key and retries with a fresh MIN.
func (s *QueueStorePG) PushFront(ctx context.Context, entry domain.QueueEntry) error {
	query := `
INSERT INTO job_queue (seq, job_id, queued_at)
VALUES ((SELECT COALESCE(MIN(seq), 1) - 1 FROM job_queue), $1, $2);
`
	var err error
	for attempt := 0; attempt <= pushFrontRetries; attempt++ {
		if _, err = s.pool.Exec(ctx, query, entry.JobID, entry.QueuedAt); err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

// 23505 is the postgres unique_violation class.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Pop removes and returns the oldest entry.
func (s *QueueStorePG) Pop(ctx context.Context) (domain.QueueEntry, error) {
	query := `
DELETE FROM job_queue
WHERE seq = (
    SELECT seq FROM job_queue
    ORDER BY queued_at ASC, seq ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING job_id, queued_at;
`
	var entry domain.QueueEntry
	if err := s.pool.QueryRow(ctx, query).Scan(&entry.JobID, &entry.QueuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QueueEntry{}, domain.ErrQueueEmpty
		}
		return domain.QueueEntry{}, err
	}
	return entry, nil
}

// Len returns the number of queued entries.
func (s *QueueStorePG) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_queue;`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
