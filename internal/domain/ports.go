package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned by UserReader when the id does not resolve.
var ErrUserNotFound = &Error{Code: ENOTFOUND, Message: "User not found"}

// =============================================================================
// WRITE SIDE
// =============================================================================

// OrderRepository loads and stores Order aggregates.
// Update compares Version and fails with ECONCURRENCY on mismatch; on success
// it bumps the aggregate's Version.
type OrderRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
}

// VariantRepository loads and stores product variants with the same version check.
type VariantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ProductVariant, error)
	Update(ctx context.Context, v *ProductVariant) error
}

// OutboxWriter appends domain events to the outbox inside the current transaction.
type OutboxWriter interface {
	Append(ctx context.Context, events []Event) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Orders() OrderRepository
	Variants() VariantRepository
	Outbox() OutboxWriter
}

// UnitOfWork runs fn inside one atomic transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// =============================================================================
// READ SIDE
// =============================================================================

// OrderDetail is the read projection consumers use to render an order.
type OrderDetail struct {
	ID             uuid.UUID      `json:"id"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"`
	CartID         *uuid.UUID     `json:"cart_id,omitempty"`
	Status         OrderStatus    `json:"status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	Currency       string         `json:"currency"`
	Subtotal       Money          `json:"subtotal"`
	Tax            Money          `json:"tax"`
	ShippingCost   Money          `json:"shipping_cost"`
	Total          Money          `json:"total"`
	RefundedAmount *Money         `json:"refunded_amount,omitempty"`
	RefundedAt     *time.Time     `json:"refunded_at,omitempty"`
	RefundReason   *string        `json:"refund_reason,omitempty"`
	TrackingNumber *string        `json:"tracking_number,omitempty"`
	ShippingMethod string         `json:"shipping_method"`
	Items          []ItemDetail   `json:"items"`
	PartialRefunds []RefundRecord `json:"partial_refunds"`
	Metadata       Metadata       `json:"metadata"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ItemDetail is an order line in the read projection.
type ItemDetail struct {
	ID        uuid.UUID  `json:"id"`
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Name      string     `json:"name"`
	SKU       SKU        `json:"sku"`
	Quantity  int        `json:"quantity"`
	UnitPrice Money      `json:"unit_price"`
	LineTotal Money      `json:"line_total"`
}

// NewOrderDetail projects an aggregate into its read model.
func NewOrderDetail(o *Order) *OrderDetail {
	items := o.Items()
	d := &OrderDetail{
		ID:             o.ID,
		UserID:         o.UserID,
		CartID:         o.CartID,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		Currency:       o.Currency,
		Subtotal:       o.Subtotal,
		Tax:            o.Tax,
		ShippingCost:   o.ShippingCost,
		Total:          o.Total,
		RefundedAmount: o.RefundedAmount,
		RefundedAt:     o.RefundedAt,
		RefundReason:   o.RefundReason,
		TrackingNumber: o.TrackingNumber,
		ShippingMethod: o.ShippingMethod,
		Items:          make([]ItemDetail, 0, len(items)),
		PartialRefunds: append([]RefundRecord{}, o.PartialRefunds...),
		Metadata:       o.Metadata.Clone(),
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, it := range items {
		d.Items = append(d.Items, ItemDetail{
			ID:        it.ID,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Snapshot.Name,
			SKU:       it.Snapshot.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal(),
		})
	}
	return d
}

// OrderReader returns order read projections.
type OrderReader interface {
	GetDetailByID(ctx context.Context, id uuid.UUID) (*OrderDetail, error)
}

// UserSummary is the part of a user record notifications need.
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
}

// UserReader returns user summaries.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*UserSummary, error)
}

// =============================================================================
// SIDE EFFECTS
// =============================================================================

// Cache is a best-effort invalidation port.
type Cache interface {
	Remove(ctx context.Context, key string) error
	RemoveByPattern(ctx context.Context, pattern string) error
}

// EmailSender delivers a plain notification email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
