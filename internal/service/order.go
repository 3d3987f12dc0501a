package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlaceOrderParams are the inputs for creating an order.
type PlaceOrderParams struct {
	UserID            *uuid.UUID       `json:"user_id"`
	CartID            *uuid.UUID       `json:"cart_id"`
	ShippingAddressID uuid.UUID        `json:"shipping_address_id" validate:"required"`
	BillingAddressID  uuid.UUID        `json:"billing_address_id" validate:"required"`
	Currency          string           `json:"currency" validate:"required,len=3"`
	Tax               decimal.Decimal  `json:"tax" validate:"money"`
	ShippingCost      decimal.Decimal  `json:"shipping_cost" validate:"money"`
	ShippingMethod    string           `json:"shipping_method" validate:"max=64"`
	Items             []PlaceOrderItem `json:"items" validate:"required,min=1,dive"`
	Metadata          domain.Metadata  `json:"metadata"`
}

// PlaceOrderItem is one requested order line.
type PlaceOrderItem struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	VariantID *uuid.UUID      `json:"variant_id"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"money"`
	Name      string          `json:"name" validate:"required,max=255"`
	SKU       string          `json:"sku" validate:"max=64"`
	Slug      string          `json:"slug" validate:"max=128"`
}

// CancelOrderParams are the inputs for CancelOrder.
type CancelOrderParams struct {
	OrderID uuid.UUID `json:"-" validate:"required"`
	Reason  string    `json:"reason" validate:"max=500"`
}

// ShipOrderParams are the inputs for MarkAsShipped.
type ShipOrderParams struct {
	OrderID        uuid.UUID `json:"-" validate:"required"`
	TrackingNumber *string   `json:"tracking_number" validate:"omitempty,max=100"`
}

// ReturnOrderParams are the inputs for MarkAsReturned.
type ReturnOrderParams struct {
	OrderID uuid.UUID `json:"-" validate:"required"`
	Reason  *string   `json:"reason" validate:"omitempty,max=500"`
}

// FullRefundParams are the inputs for ProcessFullRefund.
type FullRefundParams struct {
	OrderID uuid.UUID `json:"-" validate:"required"`
	Reason  string    `json:"reason" validate:"max=500"`
}

// PartialRefundParams are the inputs for ProcessPartialRefund.
type PartialRefundParams struct {
	OrderID  uuid.UUID       `json:"-" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Reason   string          `json:"reason" validate:"max=500"`
}

// TransitionResult is returned by every lifecycle operation.
type TransitionResult struct {
	OrderID       uuid.UUID            `json:"order_id"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Version       int64                `json:"version"`
	Restoration   *RestoreReport       `json:"restoration,omitempty"`
}

// RefundOutcome is returned by the refund operations.
type RefundOutcome struct {
	TransitionResult
	domain.RefundResult
}

// OrderService orchestrates order lifecycle operations.
//
// Each operation loads the order, applies the transition, and writes the order
// and its pending events to the outbox in one unit of work. When a transition
// closes the order (cancelled, or returned and refunded) stock is restored
// afterwards in a separate unit of work.
type OrderService struct {
	uow     domain.UnitOfWork
	reader  domain.OrderReader
	stock   *StockRestorer
	metrics *telemetry.OrderMetrics
	logger  *slog.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(uow domain.UnitOfWork, reader domain.OrderReader, stock *StockRestorer, metrics *telemetry.OrderMetrics, logger *slog.Logger) *OrderService {
	return &OrderService{
		uow:     uow,
		reader:  reader,
		stock:   stock,
		metrics: metrics,
		logger:  logger,
	}
}

// PlaceOrder creates a pending order, reserving stock for every variant line.
func (s *OrderService) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*domain.OrderDetail, error) {
	const op = "order.place"

	if err := validateParams(op, params); err != nil {
		return nil, s.fail(op, uuid.Nil, err)
	}

	var created *domain.Order
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		items := make([]domain.NewOrderItem, 0, len(params.Items))
		for _, it := range params.Items {
			line, err := s.reserveLine(ctx, tx, op, params.Currency, it)
			if err != nil {
				return err
			}
			items = append(items, line)
		}

		o, err := domain.NewOrder(domain.NewOrderParams{
			UserID:            params.UserID,
			CartID:            params.CartID,
			ShippingAddressID: params.ShippingAddressID,
			BillingAddressID:  params.BillingAddressID,
			Currency:          params.Currency,
			Tax:               domain.Money{Amount: params.Tax, Currency: params.Currency},
			ShippingCost:      domain.Money{Amount: params.ShippingCost, Currency: params.Currency},
			ShippingMethod:    params.ShippingMethod,
			Items:             items,
			Metadata:          params.Metadata,
		})
		if err != nil {
			return err
		}

		if err := tx.Orders().Create(ctx, o); err != nil {
			return err
		}
		if err := tx.Outbox().Append(ctx, o.PendingEvents()); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, s.fail(op, uuid.Nil, err)
	}

	s.committed(op, created)
	return domain.NewOrderDetail(created), nil
}

// reserveLine removes stock for a variant line and fills the snapshot from the
// variant when the request omitted it.
func (s *OrderService) reserveLine(ctx context.Context, tx domain.Tx, op, currency string, it PlaceOrderItem) (domain.NewOrderItem, error) {
	price, err := domain.NewMoney(it.UnitPrice, currency)
	if err != nil {
		return domain.NewOrderItem{}, err
	}

	snapshot := domain.ProductSnapshot{Name: it.Name}
	if it.SKU != "" {
		if snapshot.SKU, err = domain.NewSKU(it.SKU); err != nil {
			return domain.NewOrderItem{}, err
		}
	}
	if it.Slug != "" {
		if snapshot.Slug, err = domain.NewSlug(it.Slug); err != nil {
			return domain.NewOrderItem{}, err
		}
	}

	if it.VariantID != nil {
		variant, err := tx.Variants().GetByID(ctx, *it.VariantID)
		if err != nil {
			return domain.NewOrderItem{}, err
		}
		if !variant.IsActive {
			return domain.NewOrderItem{}, domain.Invalid(op, "Product variant is not available: "+variant.SKU.String())
		}
		if err := variant.RemoveStock(it.Quantity); err != nil {
			return domain.NewOrderItem{}, err
		}
		if err := tx.Variants().Update(ctx, variant); err != nil {
			return domain.NewOrderItem{}, err
		}
		if snapshot.SKU == "" {
			snapshot.SKU = variant.SKU
		}
	}

	return domain.NewOrderItem{
		ProductID: it.ProductID,
		VariantID: it.VariantID,
		Quantity:  it.Quantity,
		UnitPrice: price,
		Snapshot:  snapshot,
	}, nil
}

// GetOrder returns the read projection of an order.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.OrderDetail, error) {
	const op = "order.get"

	if orderID == uuid.Nil {
		return nil, domain.NewValidationError(op, "order_id", "is required")
	}

	detail, err := s.reader.GetDetailByID(ctx, orderID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, err
		}
		return nil, s.fail(op, orderID, err)
	}
	return detail, nil
}

// MarkAsPaid records a successful payment. Repeating it is a no-op.
func (s *OrderService) MarkAsPaid(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	return s.run(ctx, "order.mark_as_paid", orderID, nil, func(o *domain.Order) error {
		return o.MarkAsPaid()
	})
}

// MarkAsShipped ships a paid order.
func (s *OrderService) MarkAsShipped(ctx context.Context, params ShipOrderParams) (*TransitionResult, error) {
	return s.run(ctx, "order.mark_as_shipped", params.OrderID, params, func(o *domain.Order) error {
		return o.MarkAsShipped(params.TrackingNumber)
	})
}

// MarkAsDelivered marks a shipped order delivered.
func (s *OrderService) MarkAsDelivered(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	return s.run(ctx, "order.mark_as_delivered", orderID, nil, func(o *domain.Order) error {
		return o.MarkAsDelivered()
	})
}

// MarkAsReturned records a return of a delivered order.
func (s *OrderService) MarkAsReturned(ctx context.Context, params ReturnOrderParams) (*TransitionResult, error) {
	return s.run(ctx, "order.mark_as_returned", params.OrderID, params, func(o *domain.Order) error {
		return o.MarkAsReturned(params.Reason)
	})
}

// CancelOrder cancels an order and restores stock for its variant lines.
func (s *OrderService) CancelOrder(ctx context.Context, params CancelOrderParams) (*TransitionResult, error) {
	return s.run(ctx, "order.cancel", params.OrderID, params, func(o *domain.Order) error {
		return o.Cancel(params.Reason)
	})
}

// ProcessFullRefund refunds the remaining balance, closes the order and
// restores stock.
func (s *OrderService) ProcessFullRefund(ctx context.Context, params FullRefundParams) (*RefundOutcome, error) {
	const op = "order.full_refund"

	var refund domain.RefundResult
	res, err := s.run(ctx, op, params.OrderID, params, func(o *domain.Order) error {
		var err error
		refund, err = o.ProcessFullRefund(params.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Refund("full", refund.RefundAmount.Currency, refund.RefundAmount.Amount.InexactFloat64())
	return &RefundOutcome{TransitionResult: *res, RefundResult: refund}, nil
}

// ProcessPartialRefund refunds part of the order total. A refund that exhausts
// the balance closes the order and restores stock like a full refund.
func (s *OrderService) ProcessPartialRefund(ctx context.Context, params PartialRefundParams) (*RefundOutcome, error) {
	const op = "order.partial_refund"

	var refund domain.RefundResult
	res, err := s.run(ctx, op, params.OrderID, params, func(o *domain.Order) error {
		var err error
		refund, err = o.ProcessPartialRefund(params.Amount, params.Currency, params.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Refund("partial", refund.RefundAmount.Currency, refund.RefundAmount.Amount.InexactFloat64())
	return &RefundOutcome{TransitionResult: *res, RefundResult: refund}, nil
}

// run loads the order, applies fn and commits the order with its events.
// Transitions that record no events commit nothing.
func (s *OrderService) run(ctx context.Context, op string, orderID uuid.UUID, params any, fn func(o *domain.Order) error) (*TransitionResult, error) {
	if params != nil {
		if err := validateParams(op, params); err != nil {
			return nil, s.fail(op, orderID, err)
		}
	} else if orderID == uuid.Nil {
		return nil, s.fail(op, orderID, domain.NewValidationError(op, "order_id", "is required"))
	}

	var (
		updated *domain.Order
		closed  bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}

		wasTerminal := o.Status.IsTerminal()
		if err := fn(o); err != nil {
			return err
		}

		events := o.PendingEvents()
		if len(events) > 0 {
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			if err := tx.Outbox().Append(ctx, events); err != nil {
				return err
			}
		}

		updated = o
		closed = !wasTerminal && o.Status.IsTerminal()
		return nil
	})
	if err != nil {
		return nil, s.fail(op, orderID, err)
	}

	s.committed(op, updated)

	res := &TransitionResult{
		OrderID:       updated.ID,
		Status:        updated.Status,
		PaymentStatus: updated.PaymentStatus,
		Version:       updated.Version,
	}
	if closed && s.stock != nil {
		// The order is committed; restoration must not be cut short by the caller going away.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		report := s.stock.Restore(rctx, op, updated)
		cancel()
		res.Restoration = &report
	}
	return res, nil
}

func (s *OrderService) committed(op string, o *domain.Order) {
	events := o.PendingEvents()
	for _, e := range events {
		s.metrics.Enqueued(string(e.EventType()), 1)
	}
	o.ClearEvents()

	s.metrics.Operation(op, "ok")
	if len(events) > 0 {
		s.logger.Info("order updated",
			"op", op,
			"order_id", o.ID,
			"status", o.Status,
			"payment_status", o.PaymentStatus,
			"version", o.Version,
			"events", len(events),
		)
	}
}

// fail records the outcome and converts infrastructure errors into internal
// domain errors so callers never see driver details.
func (s *OrderService) fail(op string, orderID uuid.UUID, err error) error {
	s.metrics.Operation(op, resultLabel(err))

	logger := s.logger.With("op", op)
	if orderID != uuid.Nil {
		logger = logger.With("order_id", orderID)
	}

	switch domain.ErrorCode(err) {
	case domain.ECONCURRENCY:
		s.metrics.Conflict("order")
		logger.Warn("order changed concurrently", "error", err)
		return err
	case domain.EINTERNAL:
		var de *domain.Error
		if !errors.As(err, &de) {
			err = domain.Internal(err, op, "Failed to process order")
		}
		logger.Error("order operation failed", "error", err)
		extras := map[string]interface{}{"op": op}
		if orderID != uuid.Nil {
			extras["order_id"] = orderID.String()
		}
		telemetry.CaptureError(err, extras)
		return err
	default:
		logger.Info("order operation rejected", "code", domain.ErrorCode(err), "error", err)
		return err
	}
}
