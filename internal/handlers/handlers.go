package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mail-aggregator-go/internal/model"
	"mail-aggregator-go/internal/session"
)

// Store is the read side of the message index
type Store interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, id string) (*model.MessageRecord, error)
	RecentNotifications(ctx context.Context, limit int) ([]model.NotificationLog, error)
}

// Accounts exposes the running sessions
type Accounts interface {
	Statuses() []session.Status
	Rescan(account string) error
	IsRunning() bool
	NextRescan() time.Time
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store    Store
	accounts Accounts
	gatherer prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers. A nil gatherer serves the default registry.
func NewHandlers(store Store, accounts Accounts, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{store: store, accounts: accounts, gatherer: gatherer}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/accounts", h.GetAccounts)
		api.POST("/accounts/:account/rescan", h.Rescan)

		api.GET("/messages", h.GetMessage)
		api.GET("/notifications", h.GetNotifications)
	}
}
