// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"growth-tracker/backend/internal/health"
	"growth-tracker/backend/internal/logger"
	"growth-tracker/backend/internal/metrics"
	"growth-tracker/backend/internal/security"
	"growth-tracker/backend/internal/tracking/handler"
)

// RouterDeps holds the dependencies of the HTTP router. Only Handler is required.
type RouterDeps struct {
	Handler     *handler.Handler
	TriggerAuth *security.TriggerAuth
	// HTTPMetrics records OTel request metrics; nil disables them.
	HTTPMetrics *metrics.HTTPMetrics
	// Checker backs /readyz; nil reports ready.
	Checker *health.Checker
	// Gatherer backs /metrics; nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

// NewRouter returns the gin engine serving the API, the job trigger, probes and /metrics.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.MiddlewareConfig{SkipPaths: []string{"/healthz", "/readyz", "/metrics"}}))
	r.Use(metrics.GinMiddleware(deps.HTTPMetrics))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := deps.Checker.Check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	deps.Handler.Register(r, security.RequireTrigger(deps.TriggerAuth))
	return r
}
