package websocket

import (
	"context"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/stream"
	ws "github.com/iamthamanic/multiagentultra/pkg/websocket"
)

// StreamController is the part of the stream manager exposed to clients
type StreamController interface {
	Status() stream.Status
	Messages() []stream.Message
	Reconnect() error
}

// StatusPayload is the payload of stream.status responses and notifications
type StatusPayload struct {
	stream.Status
	Description string `json:"description"`
}

// NewStatusPayload pairs a status with its human-readable description
func NewStatusPayload(s stream.Status) StatusPayload {
	return StatusPayload{Status: s, Description: s.Describe()}
}

// Gateway bundles the hub, dispatcher and connection handler
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
}

// NewGateway creates a gateway whose requests are served by ctrl
func NewGateway(ctrl StreamController, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)

	RegisterHealthHandler(dispatcher)
	RegisterStreamHandlers(dispatcher, ctrl)

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    NewHandler(hub, log),
	}
}

// RegisterHealthHandler registers health.check
func RegisterHealthHandler(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionHealthCheck, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"status":  "ok",
			"service": "missioncontrol",
		})
	})
}

// RegisterStreamHandlers registers the stream.* request actions
func RegisterStreamHandlers(d *ws.Dispatcher, ctrl StreamController) {
	d.RegisterFunc(ws.ActionStreamStatus, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, NewStatusPayload(ctrl.Status()))
	})
	d.RegisterFunc(ws.ActionStreamMessages, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"messages": ctrl.Messages(),
		})
	})
	d.RegisterFunc(ws.ActionStreamReconnect, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if err := ctrl.Reconnect(); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, err.Error(), nil)
		}
		return ws.NewResponse(msg.ID, msg.Action, NewStatusPayload(ctrl.Status()))
	})
}
