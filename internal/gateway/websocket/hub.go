// Package websocket fans stream traffic out to browser clients connected to
// the local gateway.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	ws "github.com/iamthamanic/multiagentultra/pkg/websocket"
)

const broadcastBuffer = 256

type outbound struct {
	projectID *int64 // nil goes to every client
	msg       *ws.Message
}

// Hub manages all WebSocket client connections
type Hub struct {
	clients map[*Client]bool

	// Clients that asked for specific projects only
	projectSubscribers map[int64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:            make(map[*Client]bool),
		projectSubscribers: make(map[int64]map[*Client]bool),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		broadcast:          make(chan outbound, broadcastBuffer),
		done:               make(chan struct{}),
		dispatcher:         dispatcher,
		logger:             log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case out := <-h.broadcast:
			h.deliver(out)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.projectSubscribers = make(map[int64]map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for projectID := range client.projects {
		if clients, ok := h.projectSubscribers[projectID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.projectSubscribers, projectID)
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// deliver sends to every client, except that a client with project
// subscriptions only receives project messages for those projects.
func (h *Hub) deliver(out outbound) {
	data, err := json.Marshal(out.msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if out.projectID != nil && len(client.projects) > 0 && !client.projects[*out.projectID] {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Client send buffer full, dropping message", zap.String("client_id", client.ID))
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a notification for every client. It never blocks: when
// the queue is full the message is dropped.
func (h *Hub) Broadcast(msg *ws.Message) {
	h.enqueue(outbound{msg: msg})
}

// BroadcastToProject queues a project notification. Clients without
// project subscriptions receive it as well.
func (h *Hub) BroadcastToProject(projectID *int64, msg *ws.Message) {
	h.enqueue(outbound{projectID: projectID, msg: msg})
}

func (h *Hub) enqueue(out outbound) {
	select {
	case h.broadcast <- out:
	default:
		h.logger.Warn("Broadcast queue full, dropping message", zap.String("action", out.msg.Action))
	}
}

// SubscribeToProject limits client to messages of the given projects
func (h *Hub) SubscribeToProject(client *Client, projectID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.projectSubscribers[projectID]; !ok {
		h.projectSubscribers[projectID] = make(map[*Client]bool)
	}
	h.projectSubscribers[projectID][client] = true
	client.projects[projectID] = true

	h.logger.Debug("Client subscribed to project",
		zap.String("client_id", client.ID),
		zap.Int64("project_id", projectID))
}

// UnsubscribeFromProject removes one project subscription of client
func (h *Hub) UnsubscribeFromProject(client *Client, projectID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.projects, projectID)
	if clients, ok := h.projectSubscribers[projectID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.projectSubscribers, projectID)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dispatcher returns the request dispatcher
func (h *Hub) Dispatcher() *ws.Dispatcher {
	return h.dispatcher
}
