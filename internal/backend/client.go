// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package backend talks to the GPS backend's HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request when the caller's context does not.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// ErrNoContent is wrapped by a QueryError when a 2xx reply has no body.
var ErrNoContent = errors.New("empty response body")

// QueryError is returned for every failed request. StatusCode is zero when
// the request never got an HTTP reply.
type QueryError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *QueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// HistoryQuery narrows a history request. Zero values are omitted.
type HistoryQuery struct {
	Limit int
	Start time.Time
	End   time.Time
}

// Submission is a manually reported position. A nil Altitude is left out
// of the request.
type Submission struct {
	DeviceID  string   `json:"device_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     float64  `json:"speed"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   float64  `json:"heading"`
}

// SubmitResult is the backend's acknowledgement of a stored sample.
type SubmitResult struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for baseURL (e.g. http://localhost:8001).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Latest returns the raw latest sample for deviceID, or nil when the
// backend has none.
func (c *Client) Latest(ctx context.Context, deviceID string) ([]byte, error) {
	const op = "latest"

	body, status, err := c.do(ctx, op, http.MethodGet, "/api/gps/latest/"+url.PathEscape(deviceID), nil, nil)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &QueryError{Op: op, StatusCode: status, Err: ErrNoContent}
	}
	return body, nil
}

// History returns raw history entries for deviceID. The backend sends them
// newest first, but callers should not rely on it.
func (c *Client) History(ctx context.Context, deviceID string, q HistoryQuery) ([]json.RawMessage, error) {
	const op = "history"

	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.Start.IsZero() {
		params.Set("start_date", q.Start.UTC().Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		params.Set("end_date", q.End.UTC().Format(time.RFC3339))
	}

	body, status, err := c.do(ctx, op, http.MethodGet, "/api/gps/history/"+url.PathEscape(deviceID), params, nil)
	if err != nil {
		return nil, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &QueryError{Op: op, StatusCode: status, Err: fmt.Errorf("decode: %w", err)}
	}
	return entries, nil
}

// Submit stores a manually reported position.
func (c *Client) Submit(ctx context.Context, s Submission) (SubmitResult, error) {
	return c.post(ctx, "submit", "/api/gps", s)
}

// Simulate asks the backend to generate and broadcast a random sample.
func (c *Client) Simulate(ctx context.Context) (SubmitResult, error) {
	return c.post(ctx, "simulate", "/api/gps/simulate", nil)
}

func (c *Client) post(ctx context.Context, op, path string, payload any) (SubmitResult, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return SubmitResult{}, &QueryError{Op: op, Err: fmt.Errorf("encode: %w", err)}
		}
		reqBody = bytes.NewReader(raw)
	}

	body, status, err := c.do(ctx, op, http.MethodPost, path, nil, reqBody)
	if err != nil {
		return SubmitResult{}, err
	}

	var res SubmitResult
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &res); err != nil {
			return SubmitResult{}, &QueryError{Op: op, StatusCode: status, Err: fmt.Errorf("decode: %w", err)}
		}
	}
	return res, nil
}

// do performs one request and returns the body of a 2xx reply. For other
// replies it still returns the status code alongside the error.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body io.Reader) ([]byte, int, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, &QueryError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &QueryError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, &QueryError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &QueryError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(detail(raw, resp.Status))}
	}
	return raw, resp.StatusCode, nil
}

// detail extracts the backend's {"detail": "..."} message when present.
func detail(body []byte, fallback string) string {
	var d struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &d) == nil && d.Detail != "" {
		return d.Detail
	}
	return fallback
}
