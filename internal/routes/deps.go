package routes

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/orderflow/internal/handler"
	"github.com/dukerupert/orderflow/internal/handler/api"
	"github.com/dukerupert/orderflow/internal/middleware"
)

// APIDeps contains dependencies for the admin API routes
type APIDeps struct {
	Logger *slog.Logger

	// Orders
	OrderHandler *api.OrderHandler

	// Operations
	HealthHandler  *handler.HealthHandler
	MetricsHandler http.Handler
	HTTPMetrics    *middleware.Metrics
}
