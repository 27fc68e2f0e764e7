package engine

import (
	"context"
	"testing"
	"time"

	"dropgen/internal/domain"
	"dropgen/internal/providers/veo"
)

func createProcessingJob(t *testing.T, env *testEnv, handle string, startedAt time.Time) *domain.Job {
	t.Helper()
	job := domain.NewJob(domain.VideoParams{Prompt: "in flight"}, "veo-3.0-generate-preview", startedAt)
	if err := job.Transition(domain.JobStatusSubmitting); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := job.MarkProcessing(handle, startedAt); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := env.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestPollStillRunning(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	env := newTestEnv(t, svc, 10, 100)
	job := createProcessingJob(t, env, "operations/op-7", time.Now())

	svc.setOperation("operations/op-7", veo.Operation{Done: false})
	got, err := env.eng.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %q, want still Processing", got.Status)
	}
	if got.LastPolledAt == nil {
		t.Fatal("LastPolledAt not recorded")
	}
}

func TestPollCompletes(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	env := newTestEnv(t, svc, 10, 100)
	job := createProcessingJob(t, env, "operations/op-7", time.Now())

	svc.setOperation("operations/op-7", veo.Operation{Done: true, VideoURLs: []string{"gs://out/a.mp4", "gs://out/b.mp4"}})
	got, err := env.eng.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want Completed", got.Status)
	}
	if len(got.Result) != 2 {
		t.Fatalf("Result = %v, want 2 urls", got.Result)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
}

func TestPollOperationError(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	env := newTestEnv(t, svc, 10, 100)
	job := createProcessingJob(t, env, "operations/op-7", time.Now())

	svc.setOperation("operations/op-7", veo.Operation{Done: true, Error: "safety filter triggered"})
	got, err := env.eng.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want Failed", got.Status)
	}
	if got.Error != "safety filter triggered" {
		t.Fatalf("Error = %q", got.Error)
	}
}

func TestPollMalformedSuccessFails(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	env := newTestEnv(t, svc, 10, 100)
	job := createProcessingJob(t, env, "operations/op-7", time.Now())

	// done=true with neither error nor result must never read as success.
	svc.setOperation("operations/op-7", veo.Operation{Done: true})
	got, err := env.eng.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want Failed", got.Status)
	}
	if got.Error != "no result" {
		t.Fatalf("Error = %q, want %q", got.Error, "no result")
	}
}

func TestPollTimeoutOverridesExternalState(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	env := newTestEnv(t, svc, 10, 100)
	job := createProcessingJob(t, env, "operations/op-7", time.Now().Add(-6*time.Minute))

	// The external service would still report pending, but the job is
	// older than the client-side timeout.
	svc.setOperation("operations/op-7", veo.Operation{Done: false})
	got, err := env.eng.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want Failed", got.Status)
	}
	if got.Error != "timed out" {
		t.Fatalf("Error = %q, want %q", got.Error, "timed out")
	}
	if _, get := svc.counts(); get != 0 {
		t.Fatalf("external status calls = %d, want 0 on timeout", get)
	}
}

func TestPollTerminalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	env := newTestEnv(t, svc, 10, 100)
	job := createProcessingJob(t, env, "operations/op-7", time.Now())

	svc.setOperation("operations/op-7", veo.Operation{Done: true, VideoURLs: []string{"gs://out/a.mp4"}})
	first, err := env.eng.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	_, getAfterFirst := svc.counts()

	second, err := env.eng.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("Poll (terminal): %v", err)
	}
	if second.Status != first.Status || second.Result[0] != first.Result[0] {
		t.Fatalf("terminal poll changed the record: %+v vs %+v", second, first)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatal("terminal timestamp changed on re-poll")
	}
	if _, get := svc.counts(); get != getAfterFirst {
		t.Fatalf("external status calls = %d after terminal re-poll, want %d", get, getAfterFirst)
	}
}

func TestSweepProcessingResolvesJobs(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	env := newTestEnv(t, svc, 10, 100)
	job := createProcessingJob(t, env, "operations/op-7", time.Now())

	svc.setOperation("operations/op-7", veo.Operation{Done: true, VideoURLs: []string{"gs://out/a.mp4"}})
	if err := env.eng.SweepProcessing(ctx); err != nil {
		t.Fatalf("SweepProcessing: %v", err)
	}

	got, err := env.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want Completed after sweep", got.Status)
	}
}
