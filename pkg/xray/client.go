// Package xray is the Go client for the X-Ray pipeline audit service.
package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8090"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithDisabled turns the client into a no-op. Recording calls return
// empty results and no requests are made, so instrumentation can stay
// in place while capture is switched off.
func WithDisabled() ClientOption {
	return func(c *Client) {
		c.disabled = true
	}
}

// Client talks to an X-Ray server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	disabled   bool
}

// NewClient creates a client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xray: %s (%s, status %d)", e.Message, e.Type, e.StatusCode)
}

// StartRun begins a new run and returns its ID.
func (c *Client) StartRun(ctx context.Context, pipelineType, name string, input, metadata map[string]any) (string, error) {
	if c.disabled {
		return "", nil
	}

	var out struct {
		RunID string `json:"run_id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/runs", map[string]any{
		"pipeline_type": pipelineType,
		"name":          name,
		"input":         input,
		"metadata":      metadata,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.RunID, nil
}

// RecordStep submits a step with its decisions and evidence.
func (c *Client) RecordStep(ctx context.Context, runID string, step Step) (*StepResult, error) {
	if c.disabled {
		return &StepResult{}, nil
	}

	var out StepResult
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/steps", step, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteRun transitions a run to a final status. Status defaults to
// "completed" when empty.
func (c *Client) CompleteRun(ctx context.Context, runID string, result map[string]any, status string) error {
	if c.disabled {
		return nil
	}

	return c.do(ctx, http.MethodPatch, "/v1/runs/"+url.PathEscape(runID), map[string]any{
		"result": result,
		"status": status,
	}, nil)
}

// GetRun fetches a run with its steps. When includeDecisions is true
// each step carries its stored decisions.
func (c *Client) GetRun(ctx context.Context, runID string, includeDecisions bool) (*RunDetail, error) {
	path := "/v1/runs/" + url.PathEscape(runID)
	if includeDecisions {
		path += "?include_decisions=true"
	}

	var out RunDetail
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRunsOptions filters and pages ListRuns.
type ListRunsOptions struct {
	PipelineType string
	Status       string
	DateFrom     *time.Time
	DateTo       *time.Time
	Page         int
	PageSize     int
}

// ListRuns fetches a page of runs.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) (*RunList, error) {
	q := url.Values{}
	if opts.PipelineType != "" {
		q.Set("pipeline_type", opts.PipelineType)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.DateFrom != nil {
		q.Set("date_from", opts.DateFrom.Format(time.RFC3339))
	}
	if opts.DateTo != nil {
		q.Set("date_to", opts.DateTo.Format(time.RFC3339))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}

	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out RunList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StepDecisionsOptions filters and pages GetStepDecisions.
type StepDecisionsOptions struct {
	DecisionType string
	Reason       string
	Page         int
	PageSize     int
}

// GetStepDecisions fetches a page of one step's stored decisions.
func (c *Client) GetStepDecisions(ctx context.Context, runID, stepID string, opts StepDecisionsOptions) (*StepDecisionList, error) {
	q := url.Values{}
	if opts.DecisionType != "" {
		q.Set("decision_type", opts.DecisionType)
	}
	if opts.Reason != "" {
		q.Set("reason", opts.Reason)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}

	path := "/v1/runs/" + url.PathEscape(runID) + "/steps/" + url.PathEscape(stepID) + "/decisions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out StepDecisionList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QuerySteps searches steps across runs.
func (c *Client) QuerySteps(ctx context.Context, query StepQuery) (*StepQueryResult, error) {
	var out StepQueryResult
	if err := c.do(ctx, http.MethodPost, "/v1/query/steps", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryDecisions searches decisions across steps.
func (c *Client) QueryDecisions(ctx context.Context, query DecisionQuery) (*DecisionQueryResult, error) {
	var out DecisionQueryResult
	if err := c.do(ctx, http.MethodPost, "/v1/query/decisions", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRun removes a run and all of its steps, decisions, and evidence.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	if c.disabled {
		return nil
	}
	return c.do(ctx, http.MethodDelete, "/v1/runs/"+url.PathEscape(runID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var eb struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Type != "" {
			return &APIError{StatusCode: resp.StatusCode, Type: eb.Error.Type, Message: eb.Error.Message}
		}
		return &APIError{StatusCode: resp.StatusCode, Type: "server", Message: string(respBody)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
