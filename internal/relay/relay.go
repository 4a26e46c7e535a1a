// Package relay publishes stream traffic to the event bus and feeds the
// archive and the browser gateway from bus subscriptions.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/events/bus"
	gateway "github.com/iamthamanic/multiagentultra/internal/gateway/websocket"
	"github.com/iamthamanic/multiagentultra/internal/stream"
	ws "github.com/iamthamanic/multiagentultra/pkg/websocket"
)

const (
	eventSource = "missioncontrol.stream"

	// DefaultSinkTimeout bounds each bus publish and archive write.
	DefaultSinkTimeout = 5 * time.Second

	// ArchiveQueue is the queue group archive writers join, so each message
	// is stored once across instances sharing a NATS server.
	ArchiveQueue = "missioncontrol.archive"
)

// Archiver stores messages.
type Archiver interface {
	Save(ctx context.Context, msg stream.Message) error
}

// Broadcaster pushes notifications to browser clients.
type Broadcaster interface {
	Broadcast(msg *ws.Message)
	BroadcastToProject(projectID *int64, msg *ws.Message)
}

// Relay is a stream.Observer that publishes every status change and message
// to the event bus. A failed publish is logged; it never reaches the manager.
type Relay struct {
	bus      bus.EventBus
	subjects bus.Subjects
	timeout  time.Duration
	logger   *logger.Logger
}

var _ stream.Observer = (*Relay)(nil)

// Option configures a Relay.
type Option func(*Relay)

// WithBus publishes to b under subjects built from prefix.
func WithBus(b bus.EventBus, prefix string) Option {
	return func(r *Relay) {
		r.bus = b
		r.subjects = bus.Subjects{Prefix: prefix}
	}
}

// WithTimeout overrides DefaultSinkTimeout for publishes.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a relay. Without WithBus it drops everything.
func New(log *logger.Logger, opts ...Option) *Relay {
	r := &Relay{
		timeout: DefaultSinkTimeout,
		logger:  log.WithFields(zap.String("component", "relay")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnStatus implements stream.Observer.
func (r *Relay) OnStatus(status stream.Status) {
	if r.bus != nil {
		r.publish(r.subjects.StreamStatus(), bus.EventTypeStreamStatus, gateway.NewStatusPayload(status))
	}
}

// OnMessage implements stream.Observer.
func (r *Relay) OnMessage(msg stream.Message) {
	if r.bus != nil {
		r.publish(r.subjects.ProjectLog(msg.ProjectID), bus.EventTypeStreamMessage, msg)
	}
}

func (r *Relay) publish(subject, eventType string, data interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.bus.Publish(ctx, subject, bus.NewEvent(eventType, eventSource, data)); err != nil {
		r.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
