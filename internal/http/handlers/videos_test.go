package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dropgen/internal/adapter/memrepo"
	"dropgen/internal/domain"
	"dropgen/internal/engine"
	"dropgen/internal/http/handlers"
	"dropgen/internal/http/httpapi"
	"dropgen/internal/providers/veo"
	"dropgen/internal/quota"
)

func newTestServer(t *testing.T) (*httptest.Server, domain.JobRepository) {
	t.Helper()

	jobs := memrepo.NewJobStore()
	controller, err := quota.New(context.Background(), memrepo.NewQuotaStore(), 10, 100)
	if err != nil {
		t.Fatalf("quota.New: %v", err)
	}
	// No API key: the veo client runs in synthetic mode.
	client, err := veo.NewClient(veo.Options{})
	if err != nil {
		t.Fatalf("veo.NewClient: %v", err)
	}

	eng := engine.New(engine.Options{
		Jobs:         jobs,
		Quota:        controller,
		Queue:        memrepo.NewQueueStore(),
		Service:      client,
		Logger:       zerolog.Nop(),
		Model:        "veo-3.0-generate-preview",
		MaxRetries:   5,
		BackoffBase:  time.Millisecond,
		BackoffCap:   time.Millisecond,
		PollTimeout:  5 * time.Minute,
		PollInterval: 10 * time.Second,
	})

	app := handlers.NewApp(eng, zerolog.Nop())
	server := httptest.NewServer(httpapi.NewRouter(app))
	t.Cleanup(server.Close)
	return server, jobs
}

func TestVideosGenerateAccepted(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"prompt":"a timelapse of clouds","duration_seconds":8,"generate_audio":true}`
	resp, err := http.Post(server.URL+"/v1/videos", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var out struct {
		JobID         string  `json:"job_id"`
		Status        string  `json:"status"`
		EstimatedCost float64 `json:"estimated_cost"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobID == "" {
		t.Fatal("job_id missing")
	}
	if out.Status != string(domain.JobStatusSubmitting) {
		t.Fatalf("status = %q, want %q", out.Status, domain.JobStatusSubmitting)
	}
	if out.EstimatedCost != 6.0 {
		t.Fatalf("estimated_cost = %v, want 6.0 (8s with audio)", out.EstimatedCost)
	}
}

func TestVideosGenerateValidation(t *testing.T) {
	server, _ := newTestServer(t)

	cases := []string{
		`{}`,                                          // prompt required
		`{"prompt":"x","duration_seconds":20}`,        // over service maximum
		`{"prompt":"x","sample_count":9}`,             // over service maximum
		`{"prompt":"x","person_generation":"anyone"}`, // unknown policy
		`not json`,
	}
	for _, body := range cases {
		resp, err := http.Post(server.URL+"/v1/videos", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestVideoStatusNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/videos/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestVideoStatusReturnsJob(t *testing.T) {
	server, jobs := newTestServer(t)

	job := domain.NewJob(domain.VideoParams{Prompt: "x"}, "veo-3.0-generate-preview", time.Now())
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(server.URL + "/v1/videos/" + job.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != job.ID || got.Status != domain.JobStatusPending {
		t.Fatalf("got %+v", got)
	}
}

func TestVideosListSummary(t *testing.T) {
	server, jobs := newTestServer(t)

	for i := 0; i < 3; i++ {
		job := domain.NewJob(domain.VideoParams{Prompt: "x"}, "m", time.Now())
		if err := jobs.Create(context.Background(), job); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	resp, err := http.Get(server.URL + "/v1/videos")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Items   []domain.Job   `json:"items"`
		Summary map[string]int `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(out.Items))
	}
	if out.Summary[string(domain.JobStatusPending)] != 3 {
		t.Fatalf("summary = %v", out.Summary)
	}
}

func TestQuotaStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/quota")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Windows []struct {
			Window    string `json:"window"`
			Limit     int    `json:"limit"`
			Remaining int    `json:"remaining"`
		} `json:"windows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(out.Windows))
	}
}
