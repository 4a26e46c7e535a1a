// Package httpapi serves the local status API of the stream client.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iamthamanic/multiagentultra/internal/apiclient"
	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	gateway "github.com/iamthamanic/multiagentultra/internal/gateway/websocket"
	"github.com/iamthamanic/multiagentultra/internal/stream"
	v1 "github.com/iamthamanic/multiagentultra/pkg/api/v1"
)

const maxHistoryLimit = 1000

// StreamService is the stream manager surface used by the handlers.
type StreamService interface {
	Status() stream.Status
	Messages() []stream.Message
	ClearMessages()
	Connect(target string) error
	Disconnect()
	Reconnect() error
}

// History reads archived messages.
type History interface {
	Recent(ctx context.Context, projectID int64, limit int) ([]stream.Message, error)
}

// Backend checks the dashboard backend.
type Backend interface {
	Health(ctx context.Context) (*v1.Health, error)
}

// Handlers serves the /api/v1/stream and /api/v1/backend routes.
type Handlers struct {
	stream    StreamService
	streamURL string
	history   History
	backend   Backend
	logger    *logger.Logger
}

// NewHandlers creates handlers for svc. streamURL is the base URL project
// targets are built from. history and backend may be nil.
func NewHandlers(svc StreamService, streamURL string, history History, backend Backend, log *logger.Logger) *Handlers {
	return &Handlers{
		stream:    svc,
		streamURL: streamURL,
		history:   history,
		backend:   backend,
		logger:    log.WithFields(zap.String("component", "status-handlers")),
	}
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/stream/status", h.httpGetStatus)
	api.GET("/stream/messages", h.httpListMessages)
	api.DELETE("/stream/messages", h.httpClearMessages)
	api.PUT("/stream/target", h.httpSetTarget)
	api.POST("/stream/reconnect", h.httpReconnect)
	api.GET("/stream/history", h.httpHistory)
	api.GET("/backend/health", h.httpBackendHealth)
}

func (h *Handlers) httpGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gateway.NewStatusPayload(h.stream.Status()))
}

func (h *Handlers) httpListMessages(c *gin.Context) {
	messages := h.stream.Messages()
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

func (h *Handlers) httpClearMessages(c *gin.Context) {
	h.stream.ClearMessages()
	c.Status(http.StatusNoContent)
}

type httpSetTargetRequest struct {
	ProjectID *int64 `json:"project_id,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (h *Handlers) httpSetTarget(c *gin.Context) {
	var body httpSetTargetRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	target := body.URL
	if target == "" && body.ProjectID != nil {
		var err error
		target, err = stream.ProjectTarget(h.streamURL, *body.ProjectID)
		if err != nil {
			h.logger.Error("stream url is not usable", zap.String("stream_url", h.streamURL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stream url is not configured"})
			return
		}
	}

	if err := h.stream.Connect(target); err != nil {
		h.writeStreamError(c, err)
		return
	}

	if target != "" {
		log := h.logger
		if body.ProjectID != nil {
			log = log.WithProjectID(*body.ProjectID)
		}
		log.Info("Stream target set", zap.String("target", target))
	}
	c.JSON(http.StatusOK, gateway.NewStatusPayload(h.stream.Status()))
}

func (h *Handlers) httpReconnect(c *gin.Context) {
	if err := h.stream.Reconnect(); err != nil {
		h.writeStreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateway.NewStatusPayload(h.stream.Status()))
}

func (h *Handlers) httpHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive is disabled"})
		return
	}

	projectID, err := queryInt(c, "project_id", 0)
	if err != nil || projectID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil || limit < 0 || limit > maxHistoryLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	messages, err := h.history.Recent(c.Request.Context(), projectID, int(limit))
	if err != nil {
		h.logger.Error("failed to read history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

func (h *Handlers) httpBackendHealth(c *gin.Context) {
	if h.backend == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend client is not configured"})
		return
	}
	health, err := h.backend.Health(c.Request.Context())
	if err != nil {
		h.logger.Warn("backend health check failed", zap.Error(err))
		c.JSON(apiclient.StatusCode(err), gin.H{"error": err.Error(), "kind": apiclient.Kind(err)})
		return
	}
	c.JSON(http.StatusOK, health)
}

func (h *Handlers) writeStreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, stream.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, stream.ErrNoTarget):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, stream.ErrManagerClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("stream request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
	}
}

func queryInt(c *gin.Context, key string, def int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
