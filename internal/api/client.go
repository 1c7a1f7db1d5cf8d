package api

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
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon listening on bind (host:port).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var resp DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions retrieves the recent-sessions view.
func (c *Client) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var resp SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Session retrieves one cached session by key.
func (c *Client) Session(ctx context.Context, key string) (*SessionDetailResponse, error) {
	var resp SessionDetailResponse
	query := url.Values{"key": []string{key}}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/detail", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Current retrieves the active session, or nil when the editor is detached.
func (c *Client) Current(ctx context.Context) (*SessionView, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// DeleteSession removes a cached session.
func (c *Client) DeleteSession(ctx context.Context, key string) error {
	query := url.Values{"key": []string{key}}
	return c.do(ctx, http.MethodDelete, "/api/sessions", query, nil, nil)
}

// Prune removes ghost sessions and returns their keys.
func (c *Client) Prune(ctx context.Context) ([]string, error) {
	var resp PruneResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions/prune", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Removed, nil
}

// Flush asks the daemon to write its state synchronously.
func (c *Client) Flush(ctx context.Context) (bool, error) {
	var resp FlushResponse
	if err := c.do(ctx, http.MethodPost, "/api/flush", nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Flushed, nil
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification(ctx context.Context) (bool, error) {
	var resp NotifyResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Sent, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
