package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/types"
)

var (
	ErrNoJobID          = errors.New("no job id returned")
	ErrUnexpectedOutput = errors.New("unexpected job output")
)

// errorBodyLimit bounds how much of a failed response ends up in errors.
const errorBodyLimit = 1024

// JobStatusResponse is a job handle as returned by the endpoint. Output is
// kept raw because some endpoints return non-object outputs.
type JobStatusResponse struct {
	ID     string          `json:"id"`
	Status types.JobStatus `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  any             `json:"error,omitempty"`
}

// Result decodes the output object. A missing output yields an empty result;
// anything other than an object is ErrUnexpectedOutput.
func (r *JobStatusResponse) Result() (*types.JobResult, error) {
	var result types.JobResult
	output := bytes.TrimSpace(r.Output)
	if len(output) == 0 || bytes.Equal(output, []byte("null")) {
		return &result, nil
	}

	if output[0] != '{' {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedOutput, truncate(output, errorBodyLimit))
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedOutput, err)
	}
	return &result, nil
}

func truncate(data []byte, limit int) string {
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

func (r *JobStatusResponse) ErrorMessage() string {
	switch e := r.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		data, _ := json.Marshal(e)
		return string(data)
	}
}

// Endpoint is the remote job API the batch runner submits to.
type Endpoint interface {
	Run(ctx context.Context, input types.JobInput) (*JobStatusResponse, error)
	RunSync(ctx context.Context, input types.JobInput) (*JobStatusResponse, error)
	Status(ctx context.Context, id string) (*JobStatusResponse, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewClientFromConfig resolves the endpoint URL and requires an API key.
func NewClientFromConfig(cfg *config.ClientConfig) (*Client, error) {
	baseURL, err := cfg.ResolveEndpointURL()
	if err != nil {
		return nil, err
	}

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	return NewClient(baseURL, cfg.APIKey, cfg.RequestTimeout), nil
}

func (c *Client) Run(ctx context.Context, input types.JobInput) (*JobStatusResponse, error) {
	return c.submit(ctx, "/run", input)
}

func (c *Client) RunSync(ctx context.Context, input types.JobInput) (*JobStatusResponse, error) {
	return c.submit(ctx, "/runsync", input)
}

func (c *Client) Status(ctx context.Context, id string) (*JobStatusResponse, error) {
	var resp JobStatusResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) submit(ctx context.Context, path string, input types.JobInput) (*JobStatusResponse, error) {
	body, err := json.Marshal(types.JobRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp JobStatusResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("%s %s failed (status %d): %s", method, path, resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
