package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates video job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusSubmitting JobStatus = "SUBMITTING"
	JobStatusRetrying   JobStatus = "RETRYING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition may leave the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo encodes the job state machine. Terminal states accept
// nothing; every other edge matches the submission/poll flow.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusQueued || next == JobStatusSubmitting
	case JobStatusQueued:
		return next == JobStatusSubmitting
	case JobStatusSubmitting:
		return next == JobStatusRetrying || next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusRetrying:
		return next == JobStatusSubmitting || next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// PersonGeneration mirrors the generation service's person policy values.
const (
	PersonGenerationDontAllow  = "dont_allow"
	PersonGenerationAllowAdult = "allow_adult"
	PersonGenerationAllowAll   = "allow_all"
)

// Service-side limits for video requests.
const (
	VideoAspectRatio    = "9:16"
	MaxDurationSeconds  = 8
	MaxSampleCount      = 4
	DefaultSampleCount  = 1
	DefaultPersonPolicy = PersonGenerationAllowAdult
)

// Per-second pricing used for the one-time cost estimate.
const (
	CostPerSecondVideo = 0.50
	CostPerSecondAudio = 0.75
)

// VideoParams is the immutable request payload of a job. It is
// normalized once at creation and never mutated afterwards.
type VideoParams struct {
	Prompt           string `json:"prompt"`
	NegativePrompt   string `json:"negative_prompt,omitempty"`
	AspectRatio      string `json:"aspect_ratio"`
	DurationSeconds  int    `json:"duration_seconds"`
	SampleCount      int    `json:"sample_count"`
	PersonGeneration string `json:"person_generation"`
	GenerateAudio    bool   `json:"generate_audio"`
}

// Normalize clamps the params to what the generation service accepts.
func (p *VideoParams) Normalize() {
	p.AspectRatio = VideoAspectRatio
	if p.DurationSeconds <= 0 || p.DurationSeconds > MaxDurationSeconds {
		p.DurationSeconds = MaxDurationSeconds
	}
	if p.SampleCount <= 0 {
		p.SampleCount = DefaultSampleCount
	}
	if p.SampleCount > MaxSampleCount {
		p.SampleCount = MaxSampleCount
	}
	if p.PersonGeneration == "" {
		p.PersonGeneration = DefaultPersonPolicy
	}
}

// EstimatedCost computes the fixed-rate dollar estimate for the params.
// The result is stored on the job at creation and never recomputed.
func (p VideoParams) EstimatedCost() float64 {
	rate := CostPerSecondVideo
	if p.GenerateAudio {
		rate = CostPerSecondAudio
	}
	return rate * float64(p.DurationSeconds) * float64(p.SampleCount)
}

// Job is one video generation request tracked from submission to a
// terminal state. Result and Error are mutually exclusive and only set
// in Completed/Failed respectively; OperationHandle appears once the
// external operation exists.
type Job struct {
	ID              string      `json:"id"`
	Status          JobStatus   `json:"status"`
	Params          VideoParams `json:"params"`
	Model           string      `json:"model"`
	EstimatedCost   float64     `json:"estimated_cost"`
	OperationHandle string      `json:"operation_handle,omitempty"`
	RetryAttempt    int         `json:"retry_attempt"`
	Result          []string    `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	FailedAt        *time.Time  `json:"failed_at,omitempty"`
	LastPolledAt    *time.Time  `json:"last_polled_at,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
}

// NewJob normalizes params, assigns an ID and fixes the cost estimate.
func NewJob(params VideoParams, model string, now time.Time) *Job {
	params.Normalize()
	return &Job{
		ID:            uuid.NewString(),
		Status:        JobStatusPending,
		Params:        params,
		Model:         model,
		EstimatedCost: params.EstimatedCost(),
		CreatedAt:     now.UTC(),
	}
}

// Transition moves the job to next after validating the edge.
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	j.Status = next
	return nil
}

// MarkProcessing records a successful submission: operation handle,
// start time, Processing status.
func (j *Job) MarkProcessing(handle string, now time.Time) error {
	if err := j.Transition(JobStatusProcessing); err != nil {
		return err
	}
	ts := now.UTC()
	j.OperationHandle = handle
	j.StartedAt = &ts
	j.LastError = ""
	return nil
}

// Complete resolves the job with its artifact URLs.
func (j *Job) Complete(result []string, now time.Time) error {
	if err := j.Transition(JobStatusCompleted); err != nil {
		return err
	}
	ts := now.UTC()
	j.Result = result
	j.Error = ""
	j.CompletedAt = &ts
	return nil
}

// Fail resolves the job with a stable human-readable reason.
func (j *Job) Fail(reason string, now time.Time) error {
	if err := j.Transition(JobStatusFailed); err != nil {
		return err
	}
	ts := now.UTC()
	j.Error = reason
	j.Result = nil
	j.FailedAt = &ts
	return nil
}
