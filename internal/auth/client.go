// Package auth manages the external OAuth login session: it starts the
// browser flow on the authentication backend and polls until the backend
// reports the session as authenticated.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default backend paths.
const (
	DefaultStatusPath = "/auth/oauth/status"
	DefaultStartPath  = "/auth/oauth/start"
	DefaultLogoutPath = "/auth/oauth/logout"
)

// Status is the authentication backend's view of the session.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email"`
}

// Client talks to the authentication backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	statusPath string
	startPath  string
	logoutPath string
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL    string
	HTTPClient *http.Client  // defaults to a client with Timeout
	Timeout    time.Duration // defaults to 10s
	StatusPath string
	StartPath  string
	LogoutPath string
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("auth: client: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: hc,
		statusPath: orDefault(opts.StatusPath, DefaultStatusPath),
		startPath:  orDefault(opts.StartPath, DefaultStartPath),
		logoutPath: orDefault(opts.LogoutPath, DefaultLogoutPath),
	}
	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Status queries the current authentication status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, c.statusPath, &st); err != nil {
		return Status{}, fmt.Errorf("auth: status: %w", err)
	}
	return st, nil
}

// Start asks the backend for a fresh authorization URL.
func (c *Client) Start(ctx context.Context) (string, error) {
	var resp struct {
		AuthURL string `json:"auth_url"`
	}
	if err := c.do(ctx, http.MethodGet, c.startPath, &resp); err != nil {
		return "", fmt.Errorf("auth: start: %w", err)
	}
	if resp.AuthURL == "" {
		return "", fmt.Errorf("auth: start: response missing auth_url")
	}
	return resp.AuthURL, nil
}

// Logout ends the session on the backend.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, c.logoutPath, nil); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
