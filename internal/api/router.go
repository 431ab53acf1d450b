// Package api exposes the kernel's operations over HTTP: event ingress
// with the external safety filter, plugin and permission administration,
// the SSE/WebSocket subscription surface, and operational endpoints.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synapkit/synapd/internal/database"
	kernelevent "github.com/synapkit/synapd/internal/event"
	"github.com/synapkit/synapd/internal/metrics"
	"github.com/synapkit/synapd/internal/middleware"
	"github.com/synapkit/synapd/internal/permissions"
	"github.com/synapkit/synapd/internal/plugin"
	"github.com/synapkit/synapd/internal/scheduler"
	"github.com/synapkit/synapd/pkg/event"
)

// TokenStore is the persistence surface for admin API tokens.
type TokenStore interface {
	middleware.TokenStore
	InsertAPIToken(ctx context.Context, t database.APIToken) error
	RevokeAPIToken(ctx context.Context, id string) error
}

// Deps bundles everything the HTTP surface drives.
type Deps struct {
	AdminKey    string
	Processor   *kernelevent.Processor
	Registry    *plugin.Registry
	Manager     *plugin.Manager
	Permissions *permissions.Service
	History     *kernelevent.History
	Broker      *kernelevent.Broker
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Tokens      TokenStore
	Scheduler   *scheduler.Scheduler
	Gatherer    prometheus.Gatherer
	StartedAt   time.Time
}

// API carries the handler state.
type API struct {
	deps Deps
}

// NewRouter builds the gin engine with every kernel route installed.
func NewRouter(deps Deps) *gin.Engine {
	a := &API{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", a.healthz)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	admin := middleware.AdminAuth(deps.AdminKey, deps.Tokens)

	apiGroup := r.Group("/api")
	if deps.RateLimiter != nil {
		var onReject func(string)
		if deps.Metrics != nil {
			onReject = func(string) { deps.Metrics.RateLimited.Inc() }
		}
		apiGroup.Use(middleware.RateLimit(deps.RateLimiter, onReject))
	}

	apiGroup.GET("/status", a.status)
	apiGroup.GET("/events", a.listEvents)
	apiGroup.POST("/events", admin, a.postEvent)
	apiGroup.GET("/events/stream", a.streamSSE)
	apiGroup.GET("/events/ws", a.streamWS)

	apiGroup.GET("/plugins", a.listPlugins)
	apiGroup.GET("/plugins/:id/config", a.getPluginConfig)
	apiGroup.PUT("/plugins/:id/config", admin, a.setPluginConfig)
	apiGroup.POST("/plugins/:id/permissions/grant", admin, a.grantPermission)
	apiGroup.POST("/plugins/:id/permissions/revoke", admin, a.revokePermission)

	apiGroup.POST("/permissions/request", a.requestPermission)
	apiGroup.GET("/permissions/pending", a.listPendingPermissions)
	apiGroup.POST("/permissions/:id/approve", admin, a.approvePermission)
	apiGroup.POST("/permissions/:id/deny", admin, a.denyPermission)

	apiGroup.POST("/auth/token", a.mintToken)
	apiGroup.POST("/tokens", admin, a.createAPIToken)
	apiGroup.DELETE("/tokens/:id", admin, a.revokeAPIToken)

	if deps.Scheduler != nil {
		apiGroup.GET("/cron", admin, a.listCronJobs)
		apiGroup.PUT("/cron/:id", admin, a.putCronJob)
		apiGroup.DELETE("/cron/:id", admin, a.deleteCronJob)
	}

	// Plugins may contribute routes. Every contributor registers on the same
	// shared /api/plugin group; there is no per-plugin prefix.
	if deps.Registry != nil {
		pluginGroup := apiGroup.Group("/plugin")
		for _, web := range deps.Registry.WebContributors() {
			web.RegisterRoutes(pluginGroup)
		}
	}

	return r
}

// submit enqueues an envelope onto the processor channel.
func (a *API) submit(env event.Envelope) error {
	return a.deps.Processor.Submit(env)
}
