package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/printsink/internal/api/handlers"
	"github.com/orrn/printsink/internal/api/middleware"
	"github.com/orrn/printsink/internal/archive"
	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/escpos"
	"github.com/orrn/printsink/internal/observability"
	"github.com/orrn/printsink/internal/webhook"
)

// Deps carries everything the HTTP surface serves. Store may be nil
// when archiving is disabled.
type Deps struct {
	Version string
	History *capture.History
	Server  *capture.Server
	Store   *archive.Store
	Parser  *escpos.Parser
	Hub     *handlers.EventHub
	Sender  *webhook.Sender
	Auth    *middleware.AuthMiddleware
}

// NewRouter assembles the full route table.
func NewRouter(d Deps) *gin.Engine {
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestMetricsMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": d.Version,
		})
	})

	d.Auth.RegisterRoutes(api)
	requireAuth := d.Auth.RequireAuth()

	handlers.NewJobsHandler(d.History, d.Server).RegisterRoutes(api, requireAuth)
	handlers.NewCaptureHandler(d.Server, d.History, d.Hub, d.Sender).RegisterRoutes(api, requireAuth)
	handlers.NewArchiveHandler(d.Store, d.Parser).RegisterRoutes(api)
	d.Hub.RegisterRoutes(api)

	return r
}
