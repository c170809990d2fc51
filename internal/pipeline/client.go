// Package pipeline is the client for the remote generation pipeline: it
// uploads source documents, submits generation jobs, follows their stage
// progress and requests cancellation.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zulandar/paperdeck/internal/workflow"
)

// Default endpoint paths.
const (
	GeneratePath = "/api/generate"
	UploadPath   = "/api/upload"
	workflowPath = "/api/workflows/"
)

// DefaultMaxAttempts bounds upload retries.
const DefaultMaxAttempts = 3

// HTTPError is a non-2xx response from the pipeline.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *HTTPError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Request is a generation job submission.
type Request struct {
	Files      []string            `json:"files"` // uploaded file URLs
	OutputType workflow.OutputType `json:"output_type"`
	Style      string              `json:"style,omitempty"`
	Content    string              `json:"content,omitempty"`
	Length     string              `json:"length,omitempty"`
	Density    string              `json:"density,omitempty"`
}

// Job is an accepted submission.
type Job struct {
	Handle string
	Stages []workflow.Stage
}

// Client talks to the pipeline over HTTP and websockets.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	dialer        *websocket.Dialer
	maxAttempts   int
	retryInterval time.Duration
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL       string
	HTTPClient    *http.Client  // defaults to a client with Timeout; its Jar is shared with the websocket dialer
	Timeout       time.Duration // defaults to 30s
	MaxAttempts   int           // upload attempts, defaults to DefaultMaxAttempts
	RetryInterval time.Duration // initial upload backoff, defaults to 500ms
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("pipeline: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("pipeline: base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: hc,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
			Jar:              hc.Jar,
		},
		maxAttempts:   attempts,
		retryInterval: interval,
	}, nil
}

// Submit starts a generation job. When the pipeline does not announce its
// stages the default list for the output type is used.
func (c *Client) Submit(ctx context.Context, req Request) (Job, error) {
	if len(req.Files) == 0 {
		return Job{}, fmt.Errorf("pipeline: submit: no files")
	}
	if _, err := workflow.ParseOutputType(string(req.OutputType)); err != nil {
		return Job{}, fmt.Errorf("pipeline: submit: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Job{}, fmt.Errorf("pipeline: submit: %w", err)
	}

	var resp struct {
		WorkflowID string           `json:"workflow_id"`
		Stages     []workflow.Stage `json:"stages"`
	}
	if err := c.doJSON(ctx, http.MethodPost, GeneratePath, "application/json", bytes.NewReader(body), &resp); err != nil {
		return Job{}, fmt.Errorf("pipeline: submit: %w", err)
	}
	if resp.WorkflowID == "" {
		return Job{}, fmt.Errorf("pipeline: submit: response missing workflow_id")
	}
	stages := resp.Stages
	if len(stages) == 0 {
		stages = workflow.DefaultStages(req.OutputType)
	}
	return Job{Handle: resp.WorkflowID, Stages: stages}, nil
}

// Cancel asks the pipeline to stop a job. A job that already finished is
// reported as workflow.CancelAlreadyCompleted, not as an error.
func (c *Client) Cancel(ctx context.Context, handle string) (workflow.CancelResult, error) {
	path := workflowPath + url.PathEscape(handle) + "/cancel"
	var resp struct {
		Status string `json:"status"`
	}
	err := c.doJSON(ctx, http.MethodPost, path, "", nil, &resp)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusConflict {
		return workflow.CancelAlreadyCompleted, nil
	}
	if err != nil {
		return "", fmt.Errorf("pipeline: cancel %s: %w", handle, err)
	}
	switch workflow.CancelResult(resp.Status) {
	case workflow.CancelAcknowledged, "":
		return workflow.CancelAcknowledged, nil
	case workflow.CancelAlreadyCompleted:
		return workflow.CancelAlreadyCompleted, nil
	default:
		return "", fmt.Errorf("pipeline: cancel %s: unexpected status %q", handle, resp.Status)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// wsURL maps the HTTP base URL onto the websocket scheme.
func (c *Client) wsURL(path string) string {
	u := c.baseURL + path
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
