package engine

import (
	"context"

	"dropgen/internal/domain"
)

// Poll queries the external operation once and resolves the job if it
// reached a terminal state. Polling a job that is already terminal is a
// no-op returning the cached record, with no external call. The
// client-side timeout from startedAt overrides whatever the external
// service reports.
func (e *Engine) Poll(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if job.Status != domain.JobStatusProcessing || job.OperationHandle == "" {
		return job, nil
	}

	now := e.now()
	if job.StartedAt != nil && now.Sub(*job.StartedAt) > e.pollTimeout {
		return e.resolve(ctx, jobID, func(j *domain.Job) error {
			return j.Fail("timed out", e.now())
		})
	}

	op, err := e.service.GetOperation(ctx, job.OperationHandle)
	if err != nil {
		// A failed status call changes nothing; the next poll retries.
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: operation status call failed")
		return e.touch(ctx, jobID, err.Error())
	}

	if !op.Done {
		return e.touch(ctx, jobID, "")
	}

	switch {
	case op.Error != "":
		e.logger.Info().Str("job_id", jobID).Str("reason", op.Error).Msg("poller: operation failed")
		return e.resolve(ctx, jobID, func(j *domain.Job) error {
			return j.Fail(op.Error, e.now())
		})
	case len(op.VideoURLs) == 0:
		// done=true with an empty payload is a data integrity problem,
		// never a success.
		e.logger.Warn().Str("job_id", jobID).Msg("poller: operation done without result")
		return e.resolve(ctx, jobID, func(j *domain.Job) error {
			return j.Fail("no result", e.now())
		})
	default:
		e.logger.Info().Str("job_id", jobID).Int("videos", len(op.VideoURLs)).Msg("poller: operation completed")
		return e.resolve(ctx, jobID, func(j *domain.Job) error {
			return j.Complete(op.VideoURLs, e.now())
		})
	}
}

// resolve persists a terminal transition exactly once: if a concurrent
// poll already resolved the job, the mutator leaves it untouched.
func (e *Engine) resolve(ctx context.Context, jobID string, terminal func(*domain.Job) error) (*domain.Job, error) {
	return e.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusProcessing {
			return nil
		}
		ts := e.now().UTC()
		j.LastPolledAt = &ts
		return terminal(j)
	})
}

func (e *Engine) touch(ctx context.Context, jobID, lastError string) (*domain.Job, error) {
	return e.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusProcessing {
			return nil
		}
		ts := e.now().UTC()
		j.LastPolledAt = &ts
		if lastError != "" {
			j.LastError = lastError
		}
		return nil
	})
}

// SweepProcessing polls every Processing job once. The worker runs this
// periodically so completion is detected even when nobody queries.
func (e *Engine) SweepProcessing(ctx context.Context) error {
	jobs, err := e.jobs.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if !e.pollDue(job) {
			continue
		}
		if _, err := e.Poll(ctx, job.ID); err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("poller: sweep poll failed")
		}
	}
	return nil
}
