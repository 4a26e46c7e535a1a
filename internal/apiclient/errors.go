package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds reported in logs and metrics.
const (
	KindServer  = "server"
	KindNetwork = "network"
	KindUnknown = "unknown"
)

// ErrInvalidTarget is returned when a request target is not an absolute URL.
// Such requests are never sent.
var ErrInvalidTarget = errors.New("request target must be an absolute http(s) URL")

// ServerError is returned when the backend answered with a non-2xx status.
// It is never retried.
type ServerError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Target  string `json:"target"`
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d from %s: %s", e.Status, e.Target, e.Message)
}

// NetworkError is returned once every retry of a transient failure has been used up.
type NetworkError struct {
	Message  string `json:"message"`
	Target   string `json:"target"`
	Attempts int    `json:"attempts"`
	Timeout  bool   `json:"timeout"`
	Err      error  `json:"-"`
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s, %d attempts): %v", e.Message, e.Target, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s (%s, %d attempts)", e.Message, e.Target, e.Attempts)
}

// Unwrap returns the last attempt's underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UnknownError wraps any failure that is neither a server nor a network error,
// such as caller cancellation or an undecodable success body. It is terminal.
type UnknownError struct {
	Target string `json:"target"`
	Err    error  `json:"-"`
}

// Error implements the error interface.
func (e *UnknownError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Target, e.Err)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *UnknownError) Unwrap() error {
	return e.Err
}

// IsServerError checks if the error is a ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsNetworkError checks if the error is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Kind returns the error kind of err, or "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsServerError(err):
		return KindServer
	case IsNetworkError(err):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// StatusCode returns the HTTP status a local handler should answer with when
// relaying err. Backend 4xx statuses pass through, backend 5xx and network
// failures become 502 Bad Gateway. Returns 500 for anything else.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		if se.Status >= 400 && se.Status < 500 {
			return se.Status
		}
		return http.StatusBadGateway
	}
	if IsNetworkError(err) {
		return http.StatusBadGateway
	}
	if errors.Is(err, ErrInvalidTarget) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
