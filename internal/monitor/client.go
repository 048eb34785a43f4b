package monitor

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

	iosmhttp "github.com/rokoss21/IOSM/internal/http"
)

// ErrUnknownSystem is returned when iosmd has neither a live run nor history for a system.
var ErrUnknownSystem = errors.New("system not known to iosmd")

// Client queries the iosmd API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the iosmd server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (iosmhttp.HealthResponse, error) {
	var out iosmhttp.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Status calls GET /api/v1/systems/:system/status.
func (c *Client) Status(ctx context.Context, systemID string) (iosmhttp.StatusResponse, error) {
	var out iosmhttp.StatusResponse
	err := c.do(ctx, http.MethodGet, systemPath(systemID, "status"), nil, &out)
	return out, err
}

// History calls GET /api/v1/systems/:system/history for the latest run.
func (c *Client) History(ctx context.Context, systemID string) (iosmhttp.HistoryResponse, error) {
	var out iosmhttp.HistoryResponse
	err := c.do(ctx, http.MethodGet, systemPath(systemID, "history"), nil, &out)
	return out, err
}

// Trigger calls POST /api/v1/systems/:system/runs.
func (c *Client) Trigger(ctx context.Context, systemID string, resume bool) (iosmhttp.RunResponse, error) {
	var out iosmhttp.RunResponse
	err := c.do(ctx, http.MethodPost, systemPath(systemID, "runs"), iosmhttp.RunRequest{Resume: resume}, &out)
	return out, err
}

func systemPath(systemID, resource string) string {
	return "/api/v1/systems/" + url.PathEscape(systemID) + "/" + resource
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasSuffix(path, "/status") {
		return ErrUnknownSystem
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
