// Package toolclient calls named tools on the remote tool-execution
// service, retrying transient failures with exponential backoff.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 10 << 20

// Config configures a Client
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryCount  int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the client defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Timeout:     30 * time.Second,
		RetryCount:  3,
		BackoffBase: 250 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// ToolInfo describes one tool the service offers.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string `json:"status"`
}

// Healthy reports whether the service declared itself healthy.
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

type callRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

type callResponse struct {
	Success *bool          `json:"success"`
	Result  map[string]any `json:"result"`
	Error   string         `json:"error"`
}

// Client talks to the tool-execution service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
}

// New creates a Client. Non-positive config values fall back to defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	defaults := DefaultConfig(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = defaults.RetryCount
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		config: cfg,
		logger: logger.With(slog.String("component", "tool_client")),
	}
}

// Call invokes a tool with the configured retry count.
func (c *Client) Call(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	return c.CallTool(ctx, name, params, c.config.RetryCount)
}

// CallTool invokes a tool, making at most retryCount attempts. Only
// transient failures are retried; a not-found tool or a failure the tool
// reported itself is returned after the first attempt.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]any, retryCount int) (map[string]any, error) {
	if retryCount < 1 {
		retryCount = 1
	}
	if params == nil {
		params = map[string]any{}
	}

	backoff := retry.NewExponential(c.config.BackoffBase)
	backoff = retry.WithCappedDuration(c.config.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(retryCount-1), backoff)

	var (
		attempts int
		last     *Error
		result   map[string]any
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		res, callErr := c.callOnce(ctx, name, params)
		if callErr == nil {
			result = res
			return nil
		}
		last = callErr
		if callErr.Kind.Retryable() {
			c.logger.Warn("tool call failed, will retry if attempts remain",
				slog.String("tool", name),
				slog.Int("attempt", attempts),
				slog.Int("max_attempts", retryCount),
				slog.String("error", callErr.Detail))
			return retry.RetryableError(callErr)
		}
		return callErr
	})
	if err == nil {
		return result, nil
	}

	if last == nil {
		return nil, &Error{
			Kind:       KindTransient,
			Tool:       name,
			Parameters: params,
			Detail:     "call abandoned: " + err.Error(),
			Attempts:   attempts,
			Err:        err,
		}
	}
	last.Attempts = attempts
	c.logger.Error("tool call failed",
		slog.String("tool", name),
		slog.String("kind", last.Kind.String()),
		slog.Int("attempts", attempts),
		slog.String("error", last.Detail))
	return nil, last
}

// callOnce performs a single POST /tools/call and classifies the outcome.
func (c *Client) callOnce(ctx context.Context, name string, params map[string]any) (map[string]any, *Error) {
	fail := func(kind Kind, status int, detail string, err error) *Error {
		return &Error{Kind: kind, Tool: name, Parameters: params, Detail: detail, StatusCode: status, Err: err}
	}

	body, err := json.Marshal(callRequest{Tool: name, Parameters: params})
	if err != nil {
		return nil, fail(KindHandlerReported, 0, "parameters are not JSON encodable", err)
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/tools/call", body)
	if err != nil {
		return nil, fail(KindTransient, 0, err.Error(), err)
	}

	var resp callResponse
	decodeErr := json.Unmarshal(raw, &resp)

	switch {
	case status == http.StatusNotFound:
		return nil, fail(KindNotFound, status, "tool not found", nil)
	case status >= 500:
		return nil, fail(KindTransient, status, fmt.Sprintf("server error: %d", status), nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		detail := fmt.Sprintf("request rejected: %d", status)
		if decodeErr == nil && resp.Error != "" {
			detail = resp.Error
		}
		return nil, fail(KindHandlerReported, status, detail, nil)
	case status >= 400:
		// 408 and 429 among others: the service may accept the call later
		return nil, fail(KindTransient, status, fmt.Sprintf("client error: %d", status), nil)
	case decodeErr != nil:
		return nil, fail(KindTransient, status, "malformed response body", decodeErr)
	case resp.Success == nil:
		return nil, fail(KindTransient, status, "response missing success flag", nil)
	case !*resp.Success:
		detail := resp.Error
		if detail == "" {
			detail = "tool reported failure"
		}
		return nil, fail(KindHandlerReported, status, detail, nil)
	}

	if resp.Result == nil {
		resp.Result = map[string]any{}
	}
	return resp.Result, nil
}

// ListTools returns the tools the service offers. Both a bare array and
// an object with a "tools" array are accepted.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/tools", nil)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Tool: "*", Detail: err.Error(), Err: err}
	}
	if status != http.StatusOK {
		kind := KindTransient
		if status == http.StatusNotFound {
			kind = KindNotFound
		}
		return nil, &Error{Kind: kind, Tool: "*", Detail: fmt.Sprintf("list tools: status %d", status), StatusCode: status}
	}

	var wrapped struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Tools != nil {
		return wrapped.Tools, nil
	}
	var bare []ToolInfo
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, &Error{Kind: KindTransient, Tool: "*", Detail: "malformed tool list", StatusCode: status, Err: err}
	}
	return bare, nil
}

// GetToolInfo returns the description of a single tool, looked up in the
// tool list.
func (c *Client) GetToolInfo(ctx context.Context, name string) (*ToolInfo, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i], nil
		}
	}
	return nil, &Error{Kind: KindNotFound, Tool: name, Detail: "tool not found", StatusCode: http.StatusNotFound}
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return HealthStatus{}, &Error{Kind: KindTransient, Tool: "health", Detail: err.Error(), Err: err}
	}
	var h HealthStatus
	if jsonErr := json.Unmarshal(raw, &h); jsonErr != nil {
		return HealthStatus{}, &Error{Kind: KindTransient, Tool: "health", Detail: "malformed health body", StatusCode: status, Err: jsonErr}
	}
	if status != http.StatusOK && h.Status == "" {
		h.Status = fmt.Sprintf("unhealthy (%d)", status)
	}
	return h, nil
}

// do sends a request and returns the status and at most maxResponseBytes
// of the body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
