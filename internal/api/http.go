package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/service"
	"github.com/teresa-solution/guild-relay-service/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ConfigReader looks up a tenant config without creating it.
type ConfigReader interface {
	Get(ctx context.Context, tenantID string) (*model.TenantConfig, error)
}

type PollTrigger interface {
	TriggerPoll(ctx context.Context) *service.CommandResult
}

type RouterConfig struct {
	// TracingService enables otelgin spans under this service name.
	TracingService string
}

// NewRouter builds the ops HTTP server: health, metrics, tenant config
// inspection and a manual poll trigger.
func NewRouter(cfg RouterConfig, configs ConfigReader, poller PollTrigger) *gin.Engine {
	router := gin.New()
	if cfg.TracingService != "" {
		router.Use(otelgin.Middleware(cfg.TracingService))
	}
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/tenants/:tenant_id/config", tenantConfigHandler(configs))
	v1.POST("/feed/poll", pollHandler(poller))

	return router
}

func tenantConfigHandler(configs ConfigReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := configs.Get(c.Request.Context(), c.Param("tenant_id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant config not found"})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func pollHandler(poller PollTrigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := poller.TriggerPoll(c.Request.Context())
		switch {
		case res.OK:
			c.JSON(http.StatusAccepted, res)
		case res.Code == service.CodeSkipped:
			c.JSON(http.StatusConflict, res)
		case res.Code == service.CodeUnavailable:
			c.JSON(http.StatusServiceUnavailable, res)
		default:
			c.JSON(http.StatusBadGateway, res)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
