// Package api implements the REST API of the Meter service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/access"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/usage"
)

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	usage     *usage.Service
	analytics *analytics.Service
	store     Pinger
	log       *logger.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(usageSvc *usage.Service, analyticsSvc *analytics.Service, store Pinger, log *logger.Logger) *Handlers {
	return &Handlers{usage: usageSvc, analytics: analyticsSvc, store: store, log: logger.OrNop(log)}
}

// Register mounts /health and the /api/v1 routes. protected runs in front of
// every /api/v1 route and must establish the principal.
func (h *Handlers) Register(r gin.IRouter, protected ...gin.HandlerFunc) {
	r.GET("/health", h.HealthCheck)

	v1 := r.Group("/api/v1", protected...)
	{
		v1.POST("/events", h.IngestEvent)
		v1.GET("/events", h.ListEvents)
		v1.GET("/events/:eventId", h.GetEvent)

		v1.GET("/analytics/usage", h.GetAnalytics)
		v1.GET("/analytics/costs", h.GetAnalytics)
		v1.GET("/analytics/revenue", h.GetAnalytics)

		v1.GET("/customers", h.ListCustomers)
		v1.POST("/customers", h.CreateCustomer)
		v1.GET("/customers/search", h.SearchCustomers)
		v1.GET("/customers/:customerId", h.GetCustomer)
		v1.PUT("/customers/:customerId", h.UpdateCustomer)
		v1.PATCH("/customers/:customerId/markup", h.UpdateCustomerMarkup)
		v1.DELETE("/customers/:customerId", h.DeleteCustomer)

		v1.GET("/users", h.ListUsers)
		v1.POST("/users", h.CreateUser)
		v1.GET("/users/search", h.SearchUsers)
		v1.GET("/users/:userId", h.GetUser)
		v1.PUT("/users/:userId", h.UpdateUser)
		v1.DELETE("/users/:userId", h.DeleteUser)

		v1.GET("/pricing", h.ListPricing)
		v1.PUT("/pricing", h.UpsertPricing)
	}
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	storeStatus := "up"
	if h.store == nil {
		storeStatus = "unconfigured"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.log.Warn("health: store ping failed", "error", err)
			status, code, storeStatus = "degraded", http.StatusServiceUnavailable, "down"
		}
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "meter",
		"version": "0.1.0",
		"store":   storeStatus,
	})
}

// principal returns the authenticated caller, or writes 401.
func principal(c *gin.Context) (access.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return p, ok
}

// respondError maps service errors onto HTTP status codes.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var code int
	switch {
	case errors.Is(err, access.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, database.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, database.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, usage.ErrInvalidEvent),
		errors.Is(err, usage.ErrInvalidInput),
		errors.Is(err, usage.ErrCustomerNotFound),
		errors.Is(err, usage.ErrUserNotFound),
		errors.Is(err, analytics.ErrInvalidQuery),
		errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	default:
		_ = c.Error(err)
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")
