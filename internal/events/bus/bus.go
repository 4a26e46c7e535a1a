// Package bus provides the event bus the stream relay publishes to. The
// in-memory implementation serves a single process; the NATS implementation
// fans stream traffic out to other services.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event types published by the relay.
const (
	EventTypeStreamMessage = "stream.message"
	EventTypeStreamStatus  = "stream.status"
)

// Event represents a message on the event bus
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"` // Component that produced the event
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp
func NewEvent(eventType, source string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// DecodeData converts the event payload into v. It works both for events
// published in-process and for events decoded from the wire.
func (e *Event) DecodeData(v interface{}) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode event data: %w", err)
	}
	return nil
}

// EventHandler is a function that handles an event
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus interface for event bus operations
type EventBus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription for load balancing
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}

// Subjects builds the subject names used for stream traffic.
type Subjects struct {
	Prefix string
}

// ProjectLog is the subject for messages of one project. Messages without a
// project go to "<prefix>.project.none.log".
func (s Subjects) ProjectLog(projectID *int64) string {
	id := "none"
	if projectID != nil {
		id = strconv.FormatInt(*projectID, 10)
	}
	return s.Prefix + ".project." + id + ".log"
}

// AllProjectLogs matches every project log subject.
func (s Subjects) AllProjectLogs() string {
	return s.Prefix + ".project.*.log"
}

// StreamStatus is the subject for connection status changes.
func (s Subjects) StreamStatus() string {
	return s.Prefix + ".stream.status"
}

// All matches every subject under the prefix.
func (s Subjects) All() string {
	return s.Prefix + ".>"
}
