// Package api is the client for the breaks backend REST API.
package api

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"break-scheduler/errors"
	"break-scheduler/metrics"
	"break-scheduler/models"

	"github.com/goccy/go-json"
)

// DefaultTimeout bounds a single backend request.
const DefaultTimeout = 10 * time.Second

// Client talks to the breaks backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL. A nil httpClient
// uses one with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// GetBreakSchedule fetches an agent's schedule. A schedule the backend has
// not created yet yields an error matching errors.ErrNotFound.
func (c *Client) GetBreakSchedule(ctx context.Context, agentID string) (*models.BreakSchedule, error) {
	var out models.BreakSchedule
	path := "/api/break-schedules/agent/" + url.PathEscape(agentID)
	if err := c.do(ctx, "get_break_schedule", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBreakSchedule applies a partial update and returns the full schedule.
func (c *Client) UpdateBreakSchedule(ctx context.Context, agentID string, update models.ScheduleUpdate) (*models.BreakSchedule, error) {
	var out models.BreakSchedule
	path := "/api/break-schedules/agent/" + url.PathEscape(agentID)
	if err := c.do(ctx, "update_break_schedule", http.MethodPut, path, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartBreak opens a new break session in the ledger.
func (c *Client) StartBreak(ctx context.Context, agentID string, breakType models.BreakType) (*models.BreakSession, error) {
	body := struct {
		AgentID string           `json:"agentId"`
		Type    models.BreakType `json:"type"`
	}{agentID, breakType}

	var out models.BreakSession
	if err := c.do(ctx, "start_break", http.MethodPost, "/api/breaks", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndBreak closes a break session.
func (c *Client) EndBreak(ctx context.Context, breakID string) (*models.BreakSession, error) {
	var out models.BreakSession
	path := "/api/breaks/" + url.PathEscape(breakID)
	if err := c.do(ctx, "end_break", http.MethodPatch, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TodayBreaks returns the agent's ledger for the current day.
func (c *Client) TodayBreaks(ctx context.Context, agentID string) (*models.TodayBreaks, error) {
	var out models.TodayBreaks
	path := "/api/breaks/agent/" + url.PathEscape(agentID) + "/today"
	if err := c.do(ctx, "today_breaks", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.APIRequestDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		metrics.APIRequestsTotal.WithLabelValues(op, outcome(err)).Inc()
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return &errors.ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.ConnectionError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &errors.APIError{Op: op, Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func outcome(err error) string {
	var apiErr *errors.APIError
	switch {
	case err == nil:
		return "ok"
	case errors.IsConnection(err):
		return "unreachable"
	case stderrors.As(err, &apiErr):
		return fmt.Sprintf("%dxx", apiErr.Status/100)
	}
	return "error"
}
