package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/events/bus"
	gateway "github.com/iamthamanic/multiagentultra/internal/gateway/websocket"
	"github.com/iamthamanic/multiagentultra/internal/stream"
	ws "github.com/iamthamanic/multiagentultra/pkg/websocket"
)

// SubscribeBroadcaster forwards stream events published under prefix to the
// browser hub. A single subscription over every subject keeps status and
// message notifications in publish order.
func SubscribeBroadcaster(b bus.EventBus, prefix string, h Broadcaster, log *logger.Logger) (bus.Subscription, error) {
	subjects := bus.Subjects{Prefix: prefix}
	log = log.WithFields(zap.String("component", "relay.broadcaster"))

	sub, err := b.Subscribe(subjects.All(), func(ctx context.Context, e *bus.Event) error {
		switch e.Type {
		case bus.EventTypeStreamMessage:
			var msg stream.Message
			if err := e.DecodeData(&msg); err != nil {
				return err
			}
			note, err := ws.NewNotification(ws.ActionStreamMessage, msg)
			if err != nil {
				return fmt.Errorf("build message notification: %w", err)
			}
			h.BroadcastToProject(msg.ProjectID, note)

		case bus.EventTypeStreamStatus:
			var payload gateway.StatusPayload
			if err := e.DecodeData(&payload); err != nil {
				return err
			}
			note, err := ws.NewNotification(ws.ActionStreamStatus, payload)
			if err != nil {
				return fmt.Errorf("build status notification: %w", err)
			}
			h.Broadcast(note)

		default:
			log.Debug("Ignoring event", zap.String("event_type", e.Type), zap.String("event_id", e.ID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe broadcaster: %w", err)
	}
	return sub, nil
}

// SubscribeArchive stores every stream message published under prefix. It
// joins ArchiveQueue so that only one subscriber writes each message. A
// timeout of zero uses DefaultSinkTimeout.
func SubscribeArchive(b bus.EventBus, prefix string, a Archiver, timeout time.Duration) (bus.Subscription, error) {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	subjects := bus.Subjects{Prefix: prefix}

	sub, err := b.QueueSubscribe(subjects.AllProjectLogs(), ArchiveQueue, func(ctx context.Context, e *bus.Event) error {
		if e.Type != bus.EventTypeStreamMessage {
			return nil
		}
		var msg stream.Message
		if err := e.DecodeData(&msg); err != nil {
			return err
		}

		saveCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := a.Save(saveCtx, msg); err != nil {
			return fmt.Errorf("archive %s message %s: %w", msg.Kind, e.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe archive: %w", err)
	}
	return sub, nil
}
