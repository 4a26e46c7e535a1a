package stream

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	const target = "ws://svc/ws?project_id=1"
	const max = 5
	boom := errors.New("boom")

	tests := []struct {
		name  string
		from  Status
		event Event
		want  Status
	}{
		{
			name:  "idle to connecting",
			from:  Status{State: Idle},
			event: Event{Type: EventConnect, Target: target},
			want:  Status{State: Connecting, Target: target, MaxRetries: max},
		},
		{
			name:  "handshake succeeds and resets retries",
			from:  Status{State: Connecting, Target: target, RetryCount: 3, LastError: "x", MaxRetries: max},
			event: Event{Type: EventOpened},
			want:  Status{State: Open, Target: target, MaxRetries: max},
		},
		{
			name:  "handshake fails below ceiling",
			from:  Status{State: Connecting, Target: target, RetryCount: 4, MaxRetries: max},
			event: Event{Type: EventFailed, Err: boom},
			want:  Status{State: ClosedRetrying, Target: target, RetryCount: 4, LastError: "boom", MaxRetries: max},
		},
		{
			name:  "handshake fails at ceiling",
			from:  Status{State: Connecting, Target: target, RetryCount: 5, MaxRetries: max},
			event: Event{Type: EventFailed, Err: boom},
			want:  Status{State: ClosedExhausted, Target: target, RetryCount: 5, LastError: "boom", MaxRetries: max},
		},
		{
			name:  "open connection drops",
			from:  Status{State: Open, Target: target, MaxRetries: max},
			event: Event{Type: EventFailed, Err: boom},
			want:  Status{State: ClosedRetrying, Target: target, LastError: "boom", MaxRetries: max},
		},
		{
			name:  "delay elapses",
			from:  Status{State: ClosedRetrying, Target: target, RetryCount: 2, NextRetry: time.Second, MaxRetries: max},
			event: Event{Type: EventRetryElapsed},
			want:  Status{State: Connecting, Target: target, RetryCount: 3, MaxRetries: max},
		},
		{
			name:  "disconnect from retrying",
			from:  Status{State: ClosedRetrying, Target: target, RetryCount: 2, MaxRetries: max},
			event: Event{Type: EventDisconnect},
			want:  Status{State: Closed, MaxRetries: max},
		},
		{
			name:  "reconnect from exhausted",
			from:  Status{State: ClosedExhausted, Target: target, RetryCount: 5, LastError: "boom", MaxRetries: max},
			event: Event{Type: EventReconnect},
			want:  Status{State: Connecting, Target: target, MaxRetries: max},
		},
		{
			name:  "closing from open",
			from:  Status{State: Open, Target: target, MaxRetries: max},
			event: Event{Type: EventClosing},
			want:  Status{State: Closing, Target: target, MaxRetries: max},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, tt.event, max))
		})
	}
}

func TestTransitionIgnoresInapplicableEvents(t *testing.T) {
	const max = 5
	closed := Status{State: Closed, MaxRetries: max}
	exhausted := Status{State: ClosedExhausted, Target: "ws://a", RetryCount: 5, MaxRetries: max}

	assert.Equal(t, closed, Transition(closed, Event{Type: EventDisconnect}, max))
	assert.Equal(t, closed, Transition(closed, Event{Type: EventRetryElapsed}, max))
	assert.Equal(t, closed, Transition(closed, Event{Type: EventFailed}, max))
	assert.Equal(t, closed, Transition(closed, Event{Type: EventReconnect}, max))
	assert.Equal(t, exhausted, Transition(exhausted, Event{Type: EventRetryElapsed}, max))
	assert.Equal(t, exhausted, Transition(exhausted, Event{Type: EventOpened}, max))
	assert.Equal(t, exhausted, Transition(exhausted, Event{Type: EventClosing}, max))
}

func TestRetryCountNeverExceedsMax(t *testing.T) {
	const max = 3
	s := Transition(Status{}, Event{Type: EventConnect, Target: "ws://a"}, max)
	for i := 0; i < 20; i++ {
		s = Transition(s, Event{Type: EventFailed}, max)
		assert.LessOrEqual(t, s.RetryCount, max)
		s = Transition(s, Event{Type: EventRetryElapsed}, max)
		assert.LessOrEqual(t, s.RetryCount, max)
	}
	assert.Equal(t, ClosedExhausted, s.State)
	assert.Equal(t, max, s.RetryCount)
}

func TestStatusDescribe(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Status{State: Idle}, "Not connected"},
		{Status{State: Connecting}, "Connecting..."},
		{Status{State: Connecting, RetryCount: 2, MaxRetries: 5}, "Reconnecting... (2/5)"},
		{Status{State: Open}, "Connected"},
		{Status{State: Closing}, "Closing connection..."},
		{Status{State: ClosedRetrying, RetryCount: 1, MaxRetries: 5, NextRetry: 2500 * time.Millisecond}, "Connection lost. Retrying in 3s... (2/5)"},
		{Status{State: ClosedExhausted}, "Maximum retry attempts reached. Connection failed."},
		{Status{State: Closed}, "Disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.status.State.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Describe())
		})
	}
}

func TestStateText(t *testing.T) {
	text, err := ClosedRetrying.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "closed_retrying", string(text))
	assert.Equal(t, "unknown", State(42).String())
}

func TestStateTextRoundTrip(t *testing.T) {
	for _, st := range States {
		t.Run(st.String(), func(t *testing.T) {
			text, err := st.MarshalText()
			require.NoError(t, err)

			var got State
			require.NoError(t, got.UnmarshalText(text))
			assert.Equal(t, st, got)
		})
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("half_open")))
}

func TestStatusJSONRoundTrip(t *testing.T) {
	in := Status{
		State:      ClosedRetrying,
		Target:     "ws://svc/ws?project_id=3",
		RetryCount: 2,
		MaxRetries: 5,
		LastError:  "dial refused",
		NextRetry:  4 * time.Second,
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"closed_retrying"`)

	var out Status
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
