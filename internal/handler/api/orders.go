// Package api serves the admin JSON API over order lifecycle operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/handler"
	"github.com/dukerupert/orderflow/internal/service"
	"github.com/google/uuid"
)

// OrderOperations is the service surface the API exposes.
type OrderOperations interface {
	PlaceOrder(ctx context.Context, params service.PlaceOrderParams) (*domain.OrderDetail, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.OrderDetail, error)
	MarkAsPaid(ctx context.Context, orderID uuid.UUID) (*service.TransitionResult, error)
	MarkAsShipped(ctx context.Context, params service.ShipOrderParams) (*service.TransitionResult, error)
	MarkAsDelivered(ctx context.Context, orderID uuid.UUID) (*service.TransitionResult, error)
	MarkAsReturned(ctx context.Context, params service.ReturnOrderParams) (*service.TransitionResult, error)
	CancelOrder(ctx context.Context, params service.CancelOrderParams) (*service.TransitionResult, error)
	ProcessFullRefund(ctx context.Context, params service.FullRefundParams) (*service.RefundOutcome, error)
	ProcessPartialRefund(ctx context.Context, params service.PartialRefundParams) (*service.RefundOutcome, error)
}

// OrderHandler maps HTTP requests onto order operations.
type OrderHandler struct {
	orders OrderOperations
	logger *slog.Logger
}

func NewOrderHandler(orders OrderOperations, logger *slog.Logger) *OrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{orders: orders, logger: logger}
}

// Create handles POST /api/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params service.PlaceOrderParams
	if !decode(w, r, &params) {
		return
	}

	detail, err := h.orders.PlaceOrder(r.Context(), params)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/orders/"+detail.ID.String())
	handler.JSON(w, http.StatusCreated, detail)
}

// Get handles GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	detail, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, detail)
}

// Pay handles POST /api/orders/{id}/pay
func (h *OrderHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	result, err := h.orders.MarkAsPaid(r.Context(), id)
	respond(w, r, result, err)
}

// Ship handles POST /api/orders/{id}/ship
func (h *OrderHandler) Ship(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	params := service.ShipOrderParams{}
	if !decode(w, r, &params) {
		return
	}
	params.OrderID = id

	result, err := h.orders.MarkAsShipped(r.Context(), params)
	respond(w, r, result, err)
}

// Deliver handles POST /api/orders/{id}/deliver
func (h *OrderHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	result, err := h.orders.MarkAsDelivered(r.Context(), id)
	respond(w, r, result, err)
}

// Return handles POST /api/orders/{id}/return
func (h *OrderHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	params := service.ReturnOrderParams{}
	if !decode(w, r, &params) {
		return
	}
	params.OrderID = id

	result, err := h.orders.MarkAsReturned(r.Context(), params)
	respond(w, r, result, err)
}

// Cancel handles POST /api/orders/{id}/cancel
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	params := service.CancelOrderParams{}
	if !decode(w, r, &params) {
		return
	}
	params.OrderID = id

	result, err := h.orders.CancelOrder(r.Context(), params)
	respond(w, r, result, err)
}

// Refund handles POST /api/orders/{id}/refund
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	params := service.FullRefundParams{}
	if !decode(w, r, &params) {
		return
	}
	params.OrderID = id

	result, err := h.orders.ProcessFullRefund(r.Context(), params)
	respond(w, r, result, err)
}

// PartialRefund handles POST /api/orders/{id}/partial-refund
func (h *OrderHandler) PartialRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	params := service.PartialRefundParams{}
	if !decode(w, r, &params) {
		return
	}
	params.OrderID = id

	result, err := h.orders.ProcessPartialRefund(r.Context(), params)
	respond(w, r, result, err)
}

func respond[T any](w http.ResponseWriter, r *http.Request, result *T, err error) {
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, result)
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, domain.NewValidationError("", "id", "must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handler.BadRequestResponse(w, r, "Request body too large")
			return false
		}
		handler.BadRequestResponse(w, r, "Malformed JSON body")
		return false
	}
	return true
}
