package stream

import (
	"fmt"
	"math"
	"time"
)

// State is the connection lifecycle state.
type State int

const (
	// Idle - no target supplied yet
	Idle State = iota
	// Connecting - handshake in progress
	Connecting
	// Open - connected and delivering messages
	Open
	// Closing - a caller initiated teardown is in progress
	Closing
	// ClosedRetrying - connection lost, a reconnect is scheduled
	ClosedRetrying
	// ClosedExhausted - connection lost and no retries remain
	ClosedExhausted
	// Closed - disconnected by the caller
	Closed
)

// States lists every state in declaration order.
var States = []State{Idle, Connecting, Open, Closing, ClosedRetrying, ClosedExhausted, Closed}

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case ClosedRetrying:
		return "closed_retrying"
	case ClosedExhausted:
		return "closed_exhausted"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	name := string(text)
	for _, known := range States {
		if known.String() == name {
			*s = known
			return nil
		}
	}
	return fmt.Errorf("unknown stream state %q", name)
}

// EventType identifies what happened to a connection.
type EventType int

const (
	// EventConnect - the caller supplied a target
	EventConnect EventType = iota
	// EventOpened - the handshake succeeded
	EventOpened
	// EventFailed - the handshake failed or an open connection dropped
	EventFailed
	// EventRetryElapsed - the reconnect delay elapsed
	EventRetryElapsed
	// EventClosing - the caller started tearing down the connection
	EventClosing
	// EventDisconnect - the caller disconnected
	EventDisconnect
	// EventReconnect - the caller asked for a fresh connection
	EventReconnect
)

// Event is an input to Transition.
type Event struct {
	Type EventType
	// Target is set for EventConnect.
	Target string
	// Err is set for EventFailed.
	Err error
}

// Status is the observable connection record.
type Status struct {
	State      State  `json:"state"`
	Target     string `json:"target,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`
	// NextRetry is the scheduled reconnect delay while ClosedRetrying.
	NextRetry time.Duration `json:"next_retry_ns,omitempty"`
}

// Transition returns the status that follows s after e. Events that do not
// apply to the current state leave it unchanged.
func Transition(s Status, e Event, maxRetries int) Status {
	next := s
	next.MaxRetries = maxRetries

	switch e.Type {
	case EventConnect:
		next = Status{State: Connecting, Target: e.Target, MaxRetries: maxRetries}

	case EventOpened:
		if s.State != Connecting {
			return s
		}
		next.State = Open
		next.RetryCount = 0
		next.LastError = ""
		next.NextRetry = 0

	case EventFailed:
		if s.State != Connecting && s.State != Open {
			return s
		}
		if e.Err != nil {
			next.LastError = e.Err.Error()
		}
		if s.RetryCount < maxRetries {
			next.State = ClosedRetrying
		} else {
			next.State = ClosedExhausted
			next.NextRetry = 0
		}

	case EventRetryElapsed:
		if s.State != ClosedRetrying {
			return s
		}
		next.State = Connecting
		next.RetryCount = s.RetryCount + 1
		next.NextRetry = 0

	case EventClosing:
		if s.State != Open && s.State != Connecting {
			return s
		}
		next.State = Closing

	case EventDisconnect:
		if s.State == Closed {
			return s
		}
		next = Status{State: Closed, MaxRetries: maxRetries}

	case EventReconnect:
		if s.Target == "" {
			return s
		}
		next = Status{State: Connecting, Target: s.Target, MaxRetries: maxRetries}
	}
	return next
}

// Describe renders a one-line human readable status.
func (s Status) Describe() string {
	switch s.State {
	case Idle:
		return "Not connected"
	case Connecting:
		if s.RetryCount > 0 {
			return fmt.Sprintf("Reconnecting... (%d/%d)", s.RetryCount, s.MaxRetries)
		}
		return "Connecting..."
	case Open:
		return "Connected"
	case Closing:
		return "Closing connection..."
	case ClosedRetrying:
		seconds := int(math.Ceil(s.NextRetry.Seconds()))
		return fmt.Sprintf("Connection lost. Retrying in %ds... (%d/%d)", seconds, s.RetryCount+1, s.MaxRetries)
	case ClosedExhausted:
		return "Maximum retry attempts reached. Connection failed."
	case Closed:
		return "Disconnected"
	default:
		return "Unknown connection state"
	}
}
