// Package httputil provides HTTP helpers shared by handlers and upstream API clients.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// =============================================================================
// JSON API Client
// =============================================================================

// Client performs JSON calls against a single third-party base URL.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	Headers    map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a JSON client. A nil HTTPClient gets a plain client with Timeout.
func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    headers,
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Message extracts the first human readable message from common provider error shapes.
func (e *StatusError) Message() string {
	for _, path := range []string{"errors.0.message", "error.message", "message", "error"} {
		if v := gjson.GetBytes(e.Body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return http.StatusText(e.StatusCode)
}

// Do sends body as JSON and decodes the response into out when out is non-nil.
// The raw response body is returned for callers that probe it with gjson.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _, readErr := ReadAllWithLimit(resp.Body, MaxErrorBody)
		if readErr != nil {
			return nil, fmt.Errorf("read error response body: %w", readErr)
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: data}
	}

	data, err := ReadAllStrict(resp.Body, MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return data, fmt.Errorf("decode response: %w", err)
		}
	}
	return data, nil
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _, err := ReadAllWithLimit(resp.Body, MaxErrorBody)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBody)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, MaxResponseBody)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
