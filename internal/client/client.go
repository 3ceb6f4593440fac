// Package client is the thin HTTP binding for the remote session backend.
// It performs no retries and no caching; every operation returns either its
// payload or an error the caller can act on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a failure the backend reported itself, via an
// {"error": "..."} body. Transport-level failures are returned as plain
// wrapped errors instead.
type APIError struct {
	Op     string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: backend error: %s", e.Op, e.Reason)
}

type Client struct {
	base *url.URL
	http *http.Client
}

// New builds a client for the backend at baseURL (scheme + host[:port]).
// No request deadline is set on the underlying http.Client: capture fetches
// are abandoned by the scheduler, not aborted, so their lifetime is governed
// by the caller's context (or not at all).
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend address %q: scheme must be http or https", baseURL)
	}
	return &Client{base: u, http: &http.Client{}}, nil
}

// StartSession asks the backend to start a new remote session and returns
// its id.
func (c *Client) StartSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.postJSON(ctx, "start_session", "/start_session", nil, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("start_session: backend returned no session_id")
	}
	return out.SessionID, nil
}

// StopSession releases the session on the backend. Callers treat failures
// as best-effort.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "stop_session", "/stop_session/"+url.PathEscape(sessionID), nil, nil)
}

// FetchCapture retrieves one screen capture. The cache-bust token is sent
// as a query parameter so intermediaries never serve a stale image for the
// otherwise identical URL.
func (c *Client) FetchCapture(ctx context.Context, sessionID, token string) ([]byte, error) {
	u := *c.base
	u.Path += "/get_capture/" + url.PathEscape(sessionID)
	u.RawQuery = url.Values{"t": {token}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("get_capture: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get_capture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get_capture: backend returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("get_capture: read body: %w", err)
	}
	return data, nil
}

// SendClick dispatches a click at remote framebuffer coordinates and
// returns the backend's action id for traceability.
func (c *Client) SendClick(ctx context.Context, sessionID string, x, y int) (string, error) {
	body := struct {
		X int `json:"x"`
		Y int `json:"y"`
	}{x, y}
	var out struct {
		ActionID string `json:"action_id"`
	}
	if err := c.postJSON(ctx, "click", "/click/"+url.PathEscape(sessionID), body, &out); err != nil {
		return "", err
	}
	return out.ActionID, nil
}

// SendText types a string into the remote session.
func (c *Client) SendText(ctx context.Context, sessionID, text string) error {
	body := struct {
		Text string `json:"text"`
	}{text}
	var out struct {
		Status string `json:"status"`
	}
	return c.postJSON(ctx, "type", "/type/"+url.PathEscape(sessionID), body, &out)
}

// postJSON POSTs body (if non-nil) as JSON and decodes the response into
// out (if non-nil). A JSON {"error": ...} body, on any status, becomes an
// *APIError; other non-2xx responses become plain errors.
func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return &APIError{Op: op, Reason: apiErr.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: backend returned %s", op, resp.Status)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}
