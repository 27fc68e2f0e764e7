package engine

import (
	"context"
	"errors"

	"dropgen/internal/domain"
	"dropgen/internal/providers/veo"
)

// submit drives one job's backoff-governed submission to the external
// service. Every attempt's outcome is persisted before the next step,
// so a crash mid-retry leaves a consistent, resumable record. The
// backoff sleep blocks only this goroutine.
func (e *Engine) submit(ctx context.Context, jobID string) {
	for {
		job, err := e.jobs.Get(ctx, jobID)
		if err != nil {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("submitter: load job failed")
			return
		}
		if job.Status != domain.JobStatusSubmitting {
			// Already terminal, or another worker took over.
			return
		}

		handle, err := e.service.CreateOperation(ctx, veo.CreateRequest{
			Prompt:           job.Params.Prompt,
			NegativePrompt:   job.Params.NegativePrompt,
			AspectRatio:      job.Params.AspectRatio,
			DurationSeconds:  job.Params.DurationSeconds,
			SampleCount:      job.Params.SampleCount,
			PersonGeneration: job.Params.PersonGeneration,
			GenerateAudio:    job.Params.GenerateAudio,
		})
		if err == nil {
			if _, err := e.jobs.Update(ctx, jobID, func(j *domain.Job) error {
				if j.Status != domain.JobStatusSubmitting {
					return nil
				}
				return j.MarkProcessing(handle, e.now())
			}); err != nil {
				e.logger.Error().Err(err).Str("job_id", jobID).Msg("submitter: persist operation handle failed")
				return
			}
			e.logger.Info().Str("job_id", jobID).Str("handle", handle).Msg("submitter: operation created")
			return
		}

		if !errors.Is(err, veo.ErrRateLimited) {
			reason := "submission failed: " + err.Error()
			if _, uerr := e.jobs.Update(ctx, jobID, func(j *domain.Job) error {
				if j.Status.IsTerminal() {
					return nil
				}
				return j.Fail(reason, e.now())
			}); uerr != nil {
				e.logger.Error().Err(uerr).Str("job_id", jobID).Msg("submitter: persist failure failed")
			}
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("submitter: permanent submission failure")
			return
		}

		exhausted := false
		updated, uerr := e.jobs.Update(ctx, jobID, func(j *domain.Job) error {
			if j.Status != domain.JobStatusSubmitting {
				return nil
			}
			if j.RetryAttempt >= e.maxRetries {
				exhausted = true
				return j.Fail("rate limited: retries exhausted", e.now())
			}
			j.RetryAttempt++
			j.LastError = err.Error()
			return j.Transition(domain.JobStatusRetrying)
		})
		if uerr != nil {
			e.logger.Error().Err(uerr).Str("job_id", jobID).Msg("submitter: persist retry state failed")
			return
		}
		if exhausted {
			e.logger.Warn().Str("job_id", jobID).Int("attempts", e.maxRetries+1).Msg("submitter: rate limit retries exhausted")
			return
		}

		wait := e.delay.Delay(updated.RetryAttempt)
		e.logger.Info().
			Str("job_id", jobID).
			Int("attempt", updated.RetryAttempt).
			Dur("backoff", wait).
			Msg("submitter: rate limited, backing off")
		if err := e.sleep(ctx, wait); err != nil {
			e.logger.Warn().Err(err).Str("job_id", jobID).Msg("submitter: backoff interrupted")
			return
		}

		if _, err := e.jobs.Update(ctx, jobID, func(j *domain.Job) error {
			if j.Status != domain.JobStatusRetrying {
				return nil
			}
			return j.Transition(domain.JobStatusSubmitting)
		}); err != nil {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("submitter: resume after backoff failed")
			return
		}
	}
}
