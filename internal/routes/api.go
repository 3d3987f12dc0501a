// Package routes wires handlers and middleware into the HTTP router.
package routes

import (
	"net/http"

	"github.com/dukerupert/orderflow/internal/handler"
	"github.com/dukerupert/orderflow/internal/middleware"
	"github.com/dukerupert/orderflow/internal/router"
	"github.com/dukerupert/orderflow/internal/telemetry"
)

// NewRouter builds the router with the global middleware chain and every
// route registered.
func NewRouter(deps APIDeps) *router.Router {
	global := []router.Middleware{
		middleware.RequestID,
		middleware.RequestLogger(deps.Logger),
		telemetry.SentryMiddleware(),
		middleware.Recover,
		middleware.SecurityHeaders,
	}
	if deps.HTTPMetrics != nil {
		global = append([]router.Middleware{deps.HTTPMetrics.Middleware}, global...)
	}

	r := router.New(global...)
	RegisterOpsRoutes(r, deps)
	RegisterAPIRoutes(r, deps)
	r.NotFound(handler.NotFoundResponse)
	return r
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps APIDeps) {
	if deps.HealthHandler != nil {
		r.Handle(http.MethodGet, "/health", deps.HealthHandler)
	}
	if deps.MetricsHandler != nil {
		r.Handle(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
}

// RegisterAPIRoutes registers the order lifecycle API.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	h := deps.OrderHandler
	api := r.Group(
		middleware.Timeout(),
		middleware.MaxBodySize(),
	)

	api.Post("/api/orders", h.Create)
	api.Get("/api/orders/{id}", h.Get)
	api.Post("/api/orders/{id}/pay", h.Pay)
	api.Post("/api/orders/{id}/ship", h.Ship)
	api.Post("/api/orders/{id}/deliver", h.Deliver)
	api.Post("/api/orders/{id}/return", h.Return)
	api.Post("/api/orders/{id}/cancel", h.Cancel)
	api.Post("/api/orders/{id}/refund", h.Refund)
	api.Post("/api/orders/{id}/partial-refund", h.PartialRefund)
}
