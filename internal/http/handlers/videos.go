package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"dropgen/internal/domain"
)

var validate = validator.New()

type videoGenerateRequest struct {
	Prompt           string `json:"prompt" validate:"required,min=1,max=2000"`
	NegativePrompt   string `json:"negative_prompt" validate:"omitempty,max=2000"`
	AspectRatio      string `json:"aspect_ratio" validate:"omitempty,oneof=9:16"`
	DurationSeconds  int    `json:"duration_seconds" validate:"omitempty,min=1,max=8"`
	SampleCount      int    `json:"sample_count" validate:"omitempty,min=1,max=4"`
	PersonGeneration string `json:"person_generation" validate:"omitempty,oneof=dont_allow allow_adult allow_all"`
	GenerateAudio    bool   `json:"generate_audio"`
}

type jobResponse struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// VideosGenerate accepts a generation request and runs it through
// admission. It always answers immediately; the job status tells the
// caller whether it was queued or is being submitted.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	var req videoGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	job, err := a.Engine.SubmitJob(r.Context(), domain.VideoParams{
		Prompt:           req.Prompt,
		NegativePrompt:   req.NegativePrompt,
		AspectRatio:      req.AspectRatio,
		DurationSeconds:  req.DurationSeconds,
		SampleCount:      req.SampleCount,
		PersonGeneration: req.PersonGeneration,
		GenerateAudio:    req.GenerateAudio,
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: submit video job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit video job")
		return
	}

	a.json(w, http.StatusAccepted, jobResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		EstimatedCost: job.EstimatedCost,
	})
}

// VideoStatus returns the job snapshot, polling the external operation
// first when the job is in flight and a poll is due.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Engine.GetJobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: job status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	a.json(w, http.StatusOK, job)
}

// VideosList reports jobs created in the last 24 hours together with a
// per-status summary.
func (a *App) VideosList(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	jobs, err := a.Engine.ListRecentJobs(r.Context(), since)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}

	summary := map[string]int{}
	for _, job := range jobs {
		summary[string(job.Status)]++
	}

	a.json(w, http.StatusOK, map[string]any{
		"items":   jobs,
		"summary": summary,
	})
}
