package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dropgen/internal/infra"
)

// ErrRateLimited signals the generation service rejected the call for
// capacity reasons; the caller may retry after a backoff delay.
var ErrRateLimited = errors.New("veo: rate limited")

// APIError is any non-2xx, non-rate-limit response. These are permanent
// from the engine's point of view.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("veo: api error (status %d): %s", e.StatusCode, e.Message)
}

// CreateRequest carries the normalized job params to the service.
type CreateRequest struct {
	Prompt           string
	NegativePrompt   string
	AspectRatio      string
	DurationSeconds  int
	SampleCount      int
	PersonGeneration string
	GenerateAudio    bool
}

// Operation is the normalized view of a long-running operation's state.
type Operation struct {
	Done      bool
	Error     string
	VideoURLs []string
}

// Options controls how the Veo client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a thin facade over the Veo long-running predict API. Without
// an API key it runs in synthetic mode, producing deterministic fake
// operations that resolve after a short simulated latency. This keeps
// the engine fully operational in local and CI environments while
// preserving the extension points for real API calls.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger

	mu        sync.Mutex
	synthetic map[string]syntheticOp
}

type syntheticOp struct {
	createdAt   time.Time
	sampleCount int
}

const syntheticLatency = 2 * time.Second

// NewClient builds a Veo client from options, applying defaults.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	model := opts.Model
	if model == "" {
		model = "veo-3.0-generate-preview"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
		synthetic:  make(map[string]syntheticOp),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type predictRequest struct {
	Instances  []predictInstance  `json:"instances"`
	Parameters *predictParameters `json:"parameters,omitempty"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	AspectRatio      string `json:"aspectRatio,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	SampleCount      int    `json:"sampleCount,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
	GenerateAudio    bool   `json:"generateAudio"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
	EnhancePrompt    bool   `json:"enhancePrompt"`
}

type operationResponse struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error,omitempty"`
	Response *predictResult  `json:"response,omitempty"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type predictResult struct {
	Videos []predictVideo `json:"videos"`
}

type predictVideo struct {
	GCSURI   string `json:"gcsUri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CreateOperation starts a generation and returns the operation handle.
// Rate limiting surfaces as ErrRateLimited, other failures as *APIError.
func (c *Client) CreateOperation(ctx context.Context, req CreateRequest) (string, error) {
	if c.apiKey == "" {
		return c.createSynthetic(req), nil
	}

	payload := predictRequest{
		Instances: []predictInstance{{Prompt: req.Prompt}},
		Parameters: &predictParameters{
			AspectRatio:      req.AspectRatio,
			DurationSeconds:  req.DurationSeconds,
			SampleCount:      req.SampleCount,
			PersonGeneration: req.PersonGeneration,
			GenerateAudio:    req.GenerateAudio,
			NegativePrompt:   req.NegativePrompt,
			EnhancePrompt:    true,
		},
	}

	var resp operationResponse
	url := fmt.Sprintf("%s/publishers/google/models/%s:predictLongRunning", c.baseURL, c.model)
	if err := c.do(ctx, url, payload, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "missing operation name"}
	}
	return resp.Name, nil
}

// GetOperation fetches the current state of a long-running operation.
func (c *Client) GetOperation(ctx context.Context, handle string) (*Operation, error) {
	if op, ok := c.getSynthetic(handle); ok {
		return op, nil
	}

	payload := map[string]string{"operationName": handle}
	var resp operationResponse
	url := fmt.Sprintf("%s/publishers/google/models/%s:fetchPredictOperation", c.baseURL, c.model)
	if err := c.do(ctx, url, payload, &resp); err != nil {
		return nil, err
	}

	op := &Operation{Done: resp.Done}
	if resp.Error != nil {
		op.Error = resp.Error.Message
	}
	if resp.Response != nil {
		for _, v := range resp.Response.Videos {
			if v.GCSURI != "" {
				op.VideoURLs = append(op.VideoURLs, v.GCSURI)
			}
		}
	}
	return op, nil
}

func (c *Client) do(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("veo: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("veo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("veo: call service: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("veo: read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &APIError{StatusCode: httpResp.StatusCode, Message: truncate(string(raw), 512)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("veo: decode response: %w", err)
	}
	return nil
}

func (c *Client) createSynthetic(req CreateRequest) string {
	handle := "synthetic/operations/" + uuid.NewString()
	c.mu.Lock()
	c.synthetic[handle] = syntheticOp{createdAt: time.Now(), sampleCount: req.SampleCount}
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.Debug().Str("handle", handle).Msg("veo: created synthetic operation")
	}
	return handle
}

func (c *Client) getSynthetic(handle string) (*Operation, bool) {
	if !strings.HasPrefix(handle, "synthetic/") {
		return nil, false
	}
	c.mu.Lock()
	op, ok := c.synthetic[handle]
	c.mu.Unlock()
	if !ok {
		return &Operation{Done: true, Error: "unknown operation"}, true
	}
	if time.Since(op.createdAt) < syntheticLatency {
		return &Operation{Done: false}, true
	}
	urls := make([]string, 0, op.sampleCount)
	for i := 0; i < op.sampleCount; i++ {
		urls = append(urls, fmt.Sprintf("https://storage.googleapis.com/dropgen-dev/%s/sample_%d.mp4",
			strings.TrimPrefix(handle, "synthetic/operations/"), i+1))
	}
	return &Operation{Done: true, VideoURLs: urls}, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
