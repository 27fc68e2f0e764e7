// Package engine implements the job admission, retry, and
// completion-tracking core: quota-gated submission, the deferred queue
// promotion path, and the long-running operation poller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dropgen/internal/backoff"
	"dropgen/internal/domain"
	"dropgen/internal/infra"
	"dropgen/internal/providers/veo"
	"dropgen/internal/quota"
)

// GenerationService is the external video generation backend as the
// engine consumes it: create an operation, ask about an operation.
type GenerationService interface {
	CreateOperation(ctx context.Context, req veo.CreateRequest) (string, error)
	GetOperation(ctx context.Context, handle string) (*veo.Operation, error)
}

// Options wires the engine's collaborators and tunables.
type Options struct {
	Jobs    domain.JobRepository
	Quota   *quota.Controller
	Queue   domain.QueueStore
	Service GenerationService
	Logger  infra.Logger
	Model   string

	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	PollTimeout  time.Duration
	PollInterval time.Duration
}

// Engine owns every job state transition. All expected failures land in
// the job record; only store/infrastructure errors escape to callers.
type Engine struct {
	jobs    domain.JobRepository
	quota   *quota.Controller
	queue   domain.QueueStore
	service GenerationService
	logger  infra.Logger
	model   string

	maxRetries   int
	delay        *backoff.Exponential
	pollTimeout  time.Duration
	pollInterval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs the engine.
func New(opts Options) *Engine {
	return &Engine{
		jobs:         opts.Jobs,
		quota:        opts.Quota,
		queue:        opts.Queue,
		service:      opts.Service,
		logger:       opts.Logger,
		model:        opts.Model,
		maxRetries:   opts.MaxRetries,
		delay:        backoff.NewExponential(opts.BackoffBase, opts.BackoffCap),
		pollTimeout:  opts.PollTimeout,
		pollInterval: opts.PollInterval,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitJob creates a job record and runs it through admission. It
// returns immediately: the job comes back as Queued (quota exhausted)
// or Submitting (admitted, submission continues in the background).
// Only store errors are returned.
func (e *Engine) SubmitJob(ctx context.Context, params domain.VideoParams) (*domain.Job, error) {
	job := domain.NewJob(params, e.model, e.now())
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	decision, err := e.quota.CheckAndReserve(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("reserve quota: %w", err)
	}

	if !decision.Admitted {
		queued, err := e.deferJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		e.logger.Info().
			Str("job_id", job.ID).
			Str("window", decision.Window).
			Dur("retry_after", decision.RetryAfter).
			Msg("engine: quota exhausted, job queued")
		return queued, nil
	}

	submitting, err := e.jobs.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Transition(domain.JobStatusSubmitting)
	})
	if err != nil {
		return nil, fmt.Errorf("mark submitting: %w", err)
	}

	go e.submit(context.WithoutCancel(ctx), job.ID)
	return submitting, nil
}

func (e *Engine) deferJob(ctx context.Context, jobID string) (*domain.Job, error) {
	queued, err := e.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		return j.Transition(domain.JobStatusQueued)
	})
	if err != nil {
		return nil, fmt.Errorf("mark queued: %w", err)
	}
	entry := domain.QueueEntry{JobID: jobID, QueuedAt: e.now().UTC()}
	if err := e.queue.Enqueue(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return queued, nil
}

// GetJobStatus returns a snapshot of the job. A Processing job whose
// last poll is older than the poll interval is polled inline first, so
// status staleness is bounded by the interval.
func (e *Engine) GetJobStatus(ctx context.Context, id string) (*domain.Job, error) {
	job, err := e.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusProcessing && e.pollDue(job) {
		return e.Poll(ctx, id)
	}
	return job, nil
}

func (e *Engine) pollDue(job *domain.Job) bool {
	if job.LastPolledAt == nil {
		return true
	}
	return e.now().Sub(*job.LastPolledAt) >= e.pollInterval
}

// QuotaStatus reports both windows for observability.
func (e *Engine) QuotaStatus(ctx context.Context) []quota.WindowStatus {
	return e.quota.Status(ctx)
}

// ListRecentJobs returns jobs created within the window, newest first.
func (e *Engine) ListRecentJobs(ctx context.Context, since time.Time) ([]*domain.Job, error) {
	return e.jobs.ListRecent(ctx, since)
}

// PromoteOldest runs one queue-processor tick: if both windows have
// headroom, pop the oldest deferred job, reserve, and hand it to the
// submitter. At most one job is promoted per call. A reservation lost
// to a concurrent admission pushes the entry back to the head.
func (e *Engine) PromoteOldest(ctx context.Context) (bool, error) {
	if !e.quota.Headroom(ctx, 1) {
		return false, nil
	}

	entry, err := e.queue.Pop(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrQueueEmpty) {
			return false, nil
		}
		return false, fmt.Errorf("pop queue: %w", err)
	}

	decision, err := e.quota.CheckAndReserve(ctx, 1)
	if err != nil {
		if pushErr := e.queue.PushFront(ctx, entry); pushErr != nil {
			e.logger.Error().Err(pushErr).Str("job_id", entry.JobID).Msg("engine: failed to requeue after quota error")
		}
		return false, fmt.Errorf("reserve quota: %w", err)
	}
	if !decision.Admitted {
		if err := e.queue.PushFront(ctx, entry); err != nil {
			return false, fmt.Errorf("requeue denied entry: %w", err)
		}
		return false, nil
	}

	if _, err := e.jobs.Update(ctx, entry.JobID, func(j *domain.Job) error {
		return j.Transition(domain.JobStatusSubmitting)
	}); err != nil {
		// The entry is already popped; losing it here would strand the
		// job in Queued forever. Put it back at the head and let the
		// next tick retry.
		if pushErr := e.queue.PushFront(ctx, entry); pushErr != nil {
			e.logger.Error().Err(pushErr).Str("job_id", entry.JobID).Msg("engine: failed to requeue after store error")
		}
		return false, fmt.Errorf("promote job %s: %w", entry.JobID, err)
	}

	e.logger.Info().Str("job_id", entry.JobID).Time("queued_at", entry.QueuedAt).Msg("engine: promoted queued job")
	go e.submit(context.WithoutCancel(ctx), entry.JobID)
	return true, nil
}

// RecoverInFlight resumes submission for jobs a previous process left
// in Submitting or Retrying. Retry counts carry over, so a restart
// never grants extra attempts.
func (e *Engine) RecoverInFlight(ctx context.Context) error {
	for _, status := range []domain.JobStatus{domain.JobStatusSubmitting, domain.JobStatusRetrying} {
		jobs, err := e.jobs.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			id := job.ID
			if status == domain.JobStatusRetrying {
				if _, err := e.jobs.Update(ctx, id, func(j *domain.Job) error {
					return j.Transition(domain.JobStatusSubmitting)
				}); err != nil {
					e.logger.Error().Err(err).Str("job_id", id).Msg("engine: failed to resume retrying job")
					continue
				}
			}
			e.logger.Info().Str("job_id", id).Msg("engine: resuming interrupted submission")
			go e.submit(context.WithoutCancel(ctx), id)
		}
	}
	return nil
}
