package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
)

// RouterConfig lists what the router serves. Nil fields disable their routes.
type RouterConfig struct {
	Handlers *Handlers
	// WebSocket is mounted at GET /ws.
	WebSocket gin.HandlerFunc
	// Metrics is mounted at GET /metrics.
	Metrics http.Handler
	Debug   bool
}

// NewRouter builds the gin engine of the local gateway.
func NewRouter(cfg RouterConfig, log *logger.Logger) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(otelTracing())
	router.Use(requestLogger(log.WithFields(zap.String("component", "http"))))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "missioncontrol",
		})
	})
	if cfg.WebSocket != nil {
		router.GET("/ws", cfg.WebSocket)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	if cfg.Handlers != nil {
		cfg.Handlers.registerHTTP(router)
	}
	return router
}
