package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/auth"
	"github.com/septivank/water-meter-relay/internal/metrics"
)

// RelayEndpoint serves relay connections
type RelayEndpoint interface {
	Serve(c *gin.Context)
}

// NewRouter wires the relay, health, metrics and device status routes
func NewRouter(relay RelayEndpoint, devices *DeviceHandler, resolver *auth.Resolver, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/ws", relay.Serve)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := router.Group("/api", auth.Middleware(resolver))
	apiGroup.GET("/devices", devices.List)

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		// the relay route logs its own lifecycle
		if c.FullPath() == "/ws" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
