package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropgen/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, status, params, model, estimated_cost, operation_handle, retry_attempt,
result, error, last_error, created_at, started_at, completed_at, failed_at, last_polled_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	result, err := encodeResult(job.Result)
	if err != nil {
		return err
	}
	query := `
INSERT INTO video_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		params,
		job.Model,
		job.EstimatedCost,
		job.OperationHandle,
		job.RetryAttempt,
		result,
		job.Error,
		job.LastError,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.FailedAt,
		job.LastPolledAt,
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// Update applies mutate inside a transaction holding the record's row
// lock, so concurrent updates on the same id serialize and never
// observe each other's stale read.
func (r *JobRepositoryPG) Update(ctx context.Context, id string, mutate func(*domain.Job) error) (*domain.Job, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE id = $1 FOR UPDATE;`
	job, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := mutate(job); err != nil {
		return nil, err
	}

	params, err := json.Marshal(job.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	result, err := encodeResult(job.Result)
	if err != nil {
		return nil, err
	}
	update := `
UPDATE video_jobs
SET status = $2,
    params = $3,
    operation_handle = $4,
    retry_attempt = $5,
    result = $6,
    error = $7,
    last_error = $8,
    started_at = $9,
    completed_at = $10,
    failed_at = $11,
    last_polled_at = $12
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, update,
		job.ID,
		job.Status,
		params,
		job.OperationHandle,
		job.RetryAttempt,
		result,
		job.Error,
		job.LastError,
		job.StartedAt,
		job.CompletedAt,
		job.FailedAt,
		job.LastPolledAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

// ListRecent returns jobs created at or after since, newest first.
func (r *JobRepositoryPG) ListRecent(ctx context.Context, since time.Time) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE created_at >= $1 ORDER BY created_at DESC;`
	return r.queryJobs(ctx, query, since)
}

// ListByStatus returns jobs in the given status, oldest first.
func (r *JobRepositoryPG) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE status = $1 ORDER BY created_at ASC;`
	return r.queryJobs(ctx, query, status)
}

func (r *JobRepositoryPG) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		params []byte
		result []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&params,
		&job.Model,
		&job.EstimatedCost,
		&job.OperationHandle,
		&job.RetryAttempt,
		&result,
		&job.Error,
		&job.LastError,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.FailedAt,
		&job.LastPolledAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &job, nil
}

func encodeResult(result []string) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}
