package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "backend not found", err: &ServerError{Status: 404}, want: http.StatusNotFound},
		{name: "backend failure", err: &ServerError{Status: 500}, want: http.StatusBadGateway},
		{name: "wrapped server error", err: fmt.Errorf("list: %w", &ServerError{Status: 422}), want: 422},
		{name: "network", err: &NetworkError{}, want: http.StatusBadGateway},
		{name: "invalid target", err: fmt.Errorf("%w: x", ErrInvalidTarget), want: http.StatusBadRequest},
		{name: "unknown", err: &UnknownError{Err: context.Canceled}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, KindServer, Kind(&ServerError{Status: 500}))
	assert.Equal(t, KindNetwork, Kind(&NetworkError{}))
	assert.Equal(t, KindUnknown, Kind(errors.New("boom")))
}

func TestErrorStrings(t *testing.T) {
	se := &ServerError{Status: 500, Message: "db down", Target: "http://b/v1/projects"}
	assert.Equal(t, "server error 500 from http://b/v1/projects: db down", se.Error())

	cause := errors.New("dial tcp: refused")
	ne := &NetworkError{Message: "Request timeout", Target: "http://b", Attempts: 4, Err: cause}
	assert.Contains(t, ne.Error(), "4 attempts")
	assert.ErrorIs(t, ne, cause)

	ue := &UnknownError{Target: "http://b", Err: context.Canceled}
	assert.ErrorIs(t, ue, context.Canceled)
}
