package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/common/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stderr",
	})
	require.NoError(t, err)
	return log
}

func newTestClient(t *testing.T, baseURL string, timeout, delay time.Duration, retries int, opts ...Option) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:       baseURL,
		Timeout:       timeout,
		RetryAttempts: retries,
		RetryDelay:    delay,
	}, newTestLogger(t), opts...)
}

// hang blocks until the client gives up on the request.
func hang(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func TestDo_Success(t *testing.T) {
	var gotRequestID, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1,"name":"alpha"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second, time.Millisecond, 3)
	resp, err := c.Post(context.Background(), srv.URL+"/api/v1/projects/", map[string]string{"name": "alpha"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "application/json", gotContentType)

	var body struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, int64(1), body.ID)
	assert.Equal(t, "alpha", body.Name)
}

func TestDo_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"db down"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second, time.Millisecond, 3)
	_, err := c.Get(context.Background(), srv.URL+"/v1/projects")
	require.Error(t, err)

	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.Status)
	assert.Equal(t, "db down", se.Message)
	assert.Equal(t, srv.URL+"/v1/projects", se.Target)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, IsServerError(err))
	assert.False(t, IsNetworkError(err))
}

func TestDo_AlwaysTimingOutExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hang(r)
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(t, srv.URL, 30*time.Millisecond, time.Millisecond, 3, WithMetrics(m))
	_, err := c.Get(context.Background(), srv.URL+"/v1/projects")
	require.Error(t, err)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout)
	assert.Equal(t, "Request timeout", ne.Message)
	assert.Equal(t, 4, ne.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RequestAttemptsTotal.WithLabelValues("GET", outcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", KindNetwork)))
}

func TestDo_TimeoutsThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			hang(r)
			return
		}
		_, _ = w.Write([]byte(`[{"id":1,"name":"alpha","status":"active","created_at":"2024-05-01T10:00:00"}]`))
	}))
	defer srv.Close()

	const delay = 20 * time.Millisecond
	c := newTestClient(t, srv.URL, 30*time.Millisecond, delay, 3)

	start := time.Now()
	projects, err := c.ListProjects(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)

	require.Len(t, projects, 1)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, elapsed, delay*1+delay*2)
}

func TestDo_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL + "/v1/projects"
	srv.Close()

	c := newTestClient(t, "http://127.0.0.1", time.Second, time.Millisecond, 2)
	_, err := c.Get(context.Background(), target)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.False(t, ne.Timeout)
	assert.Equal(t, 3, ne.Attempts)
	assert.Equal(t, "Network error - please check your connection", ne.Message)
}

func TestDo_InvalidTargetFailsFast(t *testing.T) {
	c := newTestClient(t, "http://localhost", time.Second, time.Millisecond, 3)

	for _, target := range []string{"", "/v1/projects", "localhost:8888/x", "ftp://host/file"} {
		_, err := c.Get(context.Background(), target)
		assert.ErrorIs(t, err, ErrInvalidTarget, target)
	}
}

func TestDo_CallerCancellationIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hang(r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv.URL, 20*time.Millisecond, time.Second, 3)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := c.Get(ctx, srv.URL+"/slow")

	var ue *UnknownError
	require.True(t, errors.As(err, &ue))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoJSON_UndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second, time.Millisecond, 0)
	var out map[string]interface{}
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, &out)

	var ue *UnknownError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindUnknown, Kind(err))
}

func TestDo_RawBodyAndHeaderOverrides(t *testing.T) {
	var gotBody, gotContentType, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second, time.Millisecond, 0)
	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPut,
		Target: srv.URL,
		Body:   []byte("plain"),
		Header: http.Header{"Content-Type": {"text/plain"}, "X-Custom": {"1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, "plain", gotBody)
	assert.Equal(t, "text/plain", gotContentType)
	assert.Equal(t, "1", gotCustom)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "detail", status: 500, body: `{"detail":"db down"}`, want: "db down"},
		{name: "message", status: 400, body: `{"message":"bad input"}`, want: "bad input"},
		{name: "detail wins over message", status: 400, body: `{"detail":"d","message":"m"}`, want: "d"},
		{name: "structured detail", status: 422, body: `{"detail":[{"loc":["body","name"]}]}`, want: `[{"loc":["body","name"]}]`},
		{name: "raw text", status: 502, body: "upstream unavailable", want: "upstream unavailable"},
		{name: "long raw text is kept whole", status: 502, body: strings.Repeat("x", 300), want: strings.Repeat("x", 300)},
		{name: "json string body", status: 500, body: `"oops"`, want: "HTTP 500: Internal Server Error"},
		{name: "json without known keys", status: 500, body: `{"error":"x"}`, want: "HTTP 500: Internal Server Error"},
		{name: "null detail falls through", status: 404, body: `{"detail":null}`, want: "HTTP 404: Not Found"},
		{name: "empty body", status: 503, body: "", want: "HTTP 503: Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage(tt.status, []byte(tt.body)))
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://backend:8888/", RetryAttempts: -1, RetryDelay: -time.Second}, newTestLogger(t))

	cfg := c.Config()
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, 0, cfg.RetryAttempts)
	assert.Equal(t, time.Duration(0), cfg.RetryDelay)
	assert.Equal(t, "http://backend:8888", cfg.BaseURL)
}

func TestResponseDecodeEmptyBody(t *testing.T) {
	resp := &Response{Status: 204}
	var v json.RawMessage
	assert.Error(t, resp.Decode(&v))
}
