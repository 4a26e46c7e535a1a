// Package apiclient provides a retrying request/response client for the
// Mission Control backend API.
package apiclient

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

	"github.com/google/uuid"
	"github.com/iamthamanic/multiagentultra/internal/common/config"
	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/common/metrics"
	"github.com/iamthamanic/multiagentultra/internal/common/tracing"
	"go.uber.org/zap"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second

	requestIDHeader = "X-Request-ID"
)

// Attempt outcomes recorded in metrics.
const (
	outcomeSuccess   = "success"
	outcomeStatus    = "status_error"
	outcomeTimeout   = "timeout"
	outcomeTransport = "transport_error"
)

// Config controls timeouts and retries of a Client.
type Config struct {
	// BaseURL is the backend root used to build endpoint URLs.
	BaseURL string
	// Timeout bounds every single attempt.
	Timeout time.Duration
	// RetryAttempts is the number of additional attempts after a transient failure.
	RetryAttempts int
	// RetryDelay is multiplied by the attempt number to get the wait before a retry.
	RetryDelay time.Duration
}

// DefaultConfig returns the stock request policy.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:8888",
		Timeout:       DefaultTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
	}
}

// FromConfig converts the loaded api section into a client Config.
func FromConfig(cfg config.APIConfig) Config {
	return Config{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.TimeoutDuration(),
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelayDuration(),
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its own Timeout should
// be zero; per-attempt deadlines come from Config.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records attempt and request counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client issues requests against the backend, retrying transient failures.
// A Client holds no per-call state and is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

// Request describes one logical call.
type Request struct {
	Method string
	// Target must be an absolute http(s) URL.
	Target string
	// Body is sent as-is when it is a []byte, otherwise encoded as JSON.
	Body   interface{}
	Header http.Header
}

// Response is a successful (2xx) backend answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response (status %d, body: %s): %w", r.Status, truncateBody(r.Body), err)
	}
	return nil
}

// NewClient creates a new request client.
func NewClient(cfg Config, log *logger.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     log.WithFields(zap.String("component", "apiclient")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the client's effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, target string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Target: target})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, target string, body interface{}) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Target: target, Body: body})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, target string, body interface{}) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Target: target, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, target string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Target: target})
}

// DoJSON performs the call and decodes a successful body into out (if non-nil).
// A body that cannot be decoded is reported as an UnknownError.
func (c *Client) DoJSON(ctx context.Context, method, target string, body, out interface{}) error {
	resp, err := c.Do(ctx, Request{Method: method, Target: target, Body: body})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return &UnknownError{Target: target, Err: err}
	}
	return nil
}

// Do performs one logical request. Each attempt is bounded by Config.Timeout.
// Timeouts and failures before a response are retried up to
// Config.RetryAttempts times, waiting RetryDelay*n before retry n. A non-2xx
// response returns a *ServerError immediately. Exhausted retries return a
// *NetworkError. Anything else, including cancellation of ctx, returns an
// *UnknownError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if !isAbsoluteHTTP(req.Target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, req.Target)
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, &UnknownError{Target: req.Target, Err: fmt.Errorf("failed to encode request body: %w", err)}
	}

	requestID := uuid.New().String()
	ctx, span := tracing.TraceRequest(ctx, req.Method, req.Target, requestID)
	defer span.End()

	log := c.logger.WithTarget(req.Target).WithFields(
		zap.String("method", req.Method),
		zap.String("request_id", requestID),
	)

	start := time.Now()
	resp, err := c.retry(ctx, log, req, body, requestID)
	result := "ok"
	if err != nil {
		result = Kind(err)
	}
	c.metrics.ObserveRequest(req.Method, result, time.Since(start).Seconds())

	var status int
	if resp != nil {
		status = resp.Status
	} else {
		var se *ServerError
		if errors.As(err, &se) {
			status = se.Status
		}
	}
	tracing.TraceHTTPResponse(span, status, err)
	return resp, err
}

func (c *Client) retry(ctx context.Context, log *logger.Logger, req Request, body []byte, requestID string) (*Response, error) {
	var lastErr error
	timedOut := false

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay * time.Duration(attempt)
			log.Warn("Request failed, retrying",
				zap.Int("retry", attempt),
				zap.Int("max_retries", c.cfg.RetryAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleepContext(ctx, delay); err != nil {
				return nil, &UnknownError{Target: req.Target, Err: err}
			}
		}

		resp, err := c.attempt(ctx, req, body, requestID, attempt+1)
		if err == nil {
			if resp.Status < 200 || resp.Status >= 300 {
				c.metrics.ObserveAttempt(req.Method, outcomeStatus)
				serverErr := &ServerError{
					Status:  resp.Status,
					Message: errorMessage(resp.Status, resp.Body),
					Target:  req.Target,
				}
				log.Debug("Request rejected by server",
					zap.Int("status", resp.Status),
					zap.String("message", serverErr.Message))
				return nil, serverErr
			}
			c.metrics.ObserveAttempt(req.Method, outcomeSuccess)
			return resp, nil
		}

		// Caller cancellation is terminal and never retried.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &UnknownError{Target: req.Target, Err: ctxErr}
		}

		var ae *attemptError
		if !errors.As(err, &ae) {
			return nil, &UnknownError{Target: req.Target, Err: err}
		}
		if ae.timeout {
			c.metrics.ObserveAttempt(req.Method, outcomeTimeout)
		} else {
			c.metrics.ObserveAttempt(req.Method, outcomeTransport)
		}
		lastErr = ae.err
		timedOut = ae.timeout

		if attempt >= c.cfg.RetryAttempts {
			netErr := &NetworkError{
				Message:  "Network error - please check your connection",
				Target:   req.Target,
				Attempts: attempt + 1,
				Timeout:  timedOut,
				Err:      lastErr,
			}
			if timedOut {
				netErr.Message = "Request timeout"
			}
			log.Error("Request failed after retries",
				zap.Int("attempts", netErr.Attempts),
				zap.Bool("timeout", timedOut),
				zap.Error(lastErr))
			return nil, netErr
		}
	}
}

// attemptError marks a failure of a single attempt that happened before a
// complete response was received.
type attemptError struct {
	err     error
	timeout bool
}

func (e *attemptError) Error() string {
	return e.err.Error()
}

func (e *attemptError) Unwrap() error {
	return e.err
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte, requestID string, n int) (*Response, error) {
	ctx, span := tracing.TraceAttempt(ctx, n)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.Target, reader)
	if err != nil {
		return nil, err
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(requestIDHeader, requestID)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		ae := &attemptError{err: err, timeout: errors.Is(attemptCtx.Err(), context.DeadlineExceeded)}
		tracing.TraceHTTPResponse(span, 0, ae)
		return nil, ae
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := readResponseBody(httpResp)
	if err != nil {
		ae := &attemptError{
			err:     fmt.Errorf("failed to read response body: %w", err),
			timeout: errors.Is(attemptCtx.Err(), context.DeadlineExceeded),
		}
		tracing.TraceHTTPResponse(span, httpResp.StatusCode, ae)
		return nil, ae
	}

	tracing.TraceHTTPResponse(span, httpResp.StatusCode, nil)
	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   respBody,
	}, nil
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

// errorMessage derives a human readable message from an error response.
// A JSON body yields its "detail" or "message" field and otherwise the status
// line. Any other body is returned as is.
func errorMessage(status int, body []byte) string {
	statusLine := fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))

	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		if len(trimmed) == 0 {
			return statusLine
		}
		return string(body)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &payload); err == nil {
		for _, key := range []string{"detail", "message"} {
			if msg := rawString(payload[key]); msg != "" {
				return msg
			}
		}
	}
	return statusLine
}

// rawString returns a JSON string value unquoted, or any other non-null JSON
// value in its encoded form.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isAbsoluteHTTP(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// truncateBody truncates body for error messages to avoid huge logs
func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
