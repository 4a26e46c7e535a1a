package websocket

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RoutesByAction(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc(ActionHealthCheck, func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, map[string]string{"status": "ok"})
	})

	req, err := NewRequest("r1", ActionHealthCheck, nil)
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, "r1", resp.ID)

	var payload map[string]string
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, "ok", payload["status"])
	assert.True(t, d.HasHandler(ActionHealthCheck))
}

func TestDispatcher_UnknownAction(t *testing.T) {
	d := NewDispatcher()
	req, _ := NewRequest("r2", "nope", nil)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeUnknownAction, payload.Code)
	assert.Equal(t, "Unknown action: nope", payload.Message)
}

func TestDispatcher_HandlerError(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc("fail", func(ctx context.Context, msg *Message) (*Message, error) {
		return nil, errors.New("boom")
	})

	req, _ := NewRequest("r3", "fail", nil)
	_, err := d.Dispatch(context.Background(), req)
	assert.EqualError(t, err, "boom")
}

func TestParsePayload_Empty(t *testing.T) {
	msg := &Message{Action: ActionStreamStatus}
	v := map[string]string{"kept": "yes"}
	require.NoError(t, msg.ParsePayload(&v))
	assert.Equal(t, "yes", v["kept"])
}
