package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusProcessing          OrderStatus = "processing"
	OrderStatusShipped             OrderStatus = "shipped"
	OrderStatusDelivered           OrderStatus = "delivered"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusReturned            OrderStatus = "returned"
	OrderStatusReturnedAndRefunded OrderStatus = "returned_and_refunded"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusReturned, OrderStatusReturnedAndRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturnedAndRefunded
}

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// MaxReasonLength bounds cancellation, refund and return reasons.
const MaxReasonLength = 500

// Order-related domain errors.
var (
	ErrOrderNotFound           = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrPaymentNotSucceeded     = &Error{Code: EINVALIDSTATUS, Message: "Payment has not succeeded"}
	ErrOrderAlreadyRefunded    = &Error{Code: EINVALIDSTATUS, Message: "Order has already been refunded or cancelled"}
	ErrOrderNotEditable        = &Error{Code: EINVALIDSTATUS, Message: "Items can only change on a pending, unpaid order"}
	ErrRefundAmountNotPositive = &Error{Code: EINVALIDAMOUNT, Message: "Refund amount must be greater than zero"}
	ErrRefundAmountPrecision   = &Error{Code: EINVALIDAMOUNT, Message: "Refund amount may have at most 2 decimal places"}
	ErrRefundExceedsBalance    = &Error{Code: EINVALIDAMOUNT, Message: "Refund amount exceeds remaining balance"}
	ErrInvalidQuantity         = &Error{Code: EINVALID, Message: "Quantity must be greater than zero"}
	ErrReservedMetadataKey     = &Error{Code: EINVALID, Message: "Metadata key is reserved"}
	ErrEmptyOrder              = &Error{Code: EINVALID, Message: "Order must contain at least one item"}
)

// nowFunc is the aggregate clock. Tests in this package replace it.
var nowFunc = func() time.Time { return time.Now().UTC() }

// ProductSnapshot captures catalog data at order time so order history does not
// change when the catalog does.
type ProductSnapshot struct {
	Name string `json:"name"`
	SKU  SKU    `json:"sku"`
	Slug Slug   `json:"slug"`
}

// OrderItem is a line on an order. Items are created only through the Order.
type OrderItem struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
	UnitPrice Money
	Snapshot  ProductSnapshot
}

// LineTotal returns UnitPrice * Quantity.
func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

func sameLine(i OrderItem, productID uuid.UUID, variantID *uuid.UUID) bool {
	if i.ProductID != productID {
		return false
	}
	if i.VariantID == nil || variantID == nil {
		return i.VariantID == nil && variantID == nil
	}
	return *i.VariantID == *variantID
}

// RefundRecord is one entry of the partial-refund ledger.
type RefundRecord struct {
	ID         uuid.UUID `json:"id"`
	Amount     Money     `json:"amount"`
	Reason     string    `json:"reason"`
	RefundedAt time.Time `json:"refunded_at"`
}

// RefundResult reports the outcome of a refund operation.
type RefundResult struct {
	RefundAmount        Money `json:"refund_amount"`
	TotalRefundedAmount Money `json:"total_refunded_amount"`
	RemainingAmount     Money `json:"remaining_amount"`
	IsFullyRefunded     bool  `json:"is_fully_refunded"`
}

// Order is the aggregate root for a customer order.
//
// Business logic is pure and in-memory: operations validate, mutate, and append
// domain events to a pending list. Persisting the order and its events is the
// caller's job.
type Order struct {
	ID                uuid.UUID
	UserID            *uuid.UUID
	CartID            *uuid.UUID
	ShippingAddressID uuid.UUID
	BillingAddressID  uuid.UUID

	Subtotal     Money
	Tax          Money
	ShippingCost Money
	Total        Money
	Currency     string

	Status        OrderStatus
	PaymentStatus PaymentStatus

	RefundedAmount *Money
	RefundedAt     *time.Time
	RefundReason   *string
	PartialRefunds []RefundRecord

	TrackingNumber *string
	ShippingMethod string
	Metadata       Metadata

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	items  []OrderItem
	events []Event
}

// NewOrderItem describes a line for NewOrder and AddItem.
type NewOrderItem struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
	UnitPrice Money
	Snapshot  ProductSnapshot
}

// NewOrderParams holds the inputs for NewOrder. Tax and ShippingCost default to zero.
type NewOrderParams struct {
	ID                uuid.UUID
	UserID            *uuid.UUID
	CartID            *uuid.UUID
	ShippingAddressID uuid.UUID
	BillingAddressID  uuid.UUID
	Currency          string
	Tax               Money
	ShippingCost      Money
	ShippingMethod    string
	Items             []NewOrderItem
	Metadata          Metadata
}

// NewOrder creates a pending, unpaid order and records OrderCreated
// (and CartConverted when the order comes from a cart).
func NewOrder(p NewOrderParams) (*Order, error) {
	const op = "order.new"

	if err := ValidateCurrency(p.Currency); err != nil {
		return nil, err.(*Error).WithOp(op)
	}
	if len(p.Items) == 0 {
		return nil, ErrEmptyOrder.WithOp(op)
	}

	var verr error
	if p.ShippingAddressID == uuid.Nil {
		verr = AddFieldError(verr, "shipping_address_id", "is required")
	}
	if p.BillingAddressID == uuid.Nil {
		verr = AddFieldError(verr, "billing_address_id", "is required")
	}
	if verr != nil {
		verr.(*ValidationError).Op = op
		return nil, verr
	}
	if _, ok := p.Metadata.Raw(PartialRefundsKey); ok {
		return nil, ErrReservedMetadataKey.WithOp(op)
	}

	tax, err := orderCharge(op, "Tax", p.Tax, p.Currency)
	if err != nil {
		return nil, err
	}
	shipping, err := orderCharge(op, "Shipping cost", p.ShippingCost, p.Currency)
	if err != nil {
		return nil, err
	}

	now := nowFunc()
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	o := &Order{
		ID:                id,
		UserID:            p.UserID,
		CartID:            p.CartID,
		ShippingAddressID: p.ShippingAddressID,
		BillingAddressID:  p.BillingAddressID,
		Tax:               tax,
		ShippingCost:      shipping,
		Currency:          p.Currency,
		Status:            OrderStatusPending,
		PaymentStatus:     PaymentStatusPending,
		ShippingMethod:    p.ShippingMethod,
		Metadata:          p.Metadata.Clone(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	for _, it := range p.Items {
		if _, _, err := o.putItem(op, it); err != nil {
			return nil, err
		}
	}
	if err := o.recalculate(); err != nil {
		return nil, err
	}

	o.record(&OrderCreated{
		EventMeta: newEventMeta(o.ID, now),
		UserID:    o.UserID,
		Total:     o.Total,
		ItemCount: len(o.items),
	})
	if o.CartID != nil {
		o.record(&CartConverted{
			EventMeta: newEventMeta(o.ID, now),
			CartID:    *o.CartID,
			UserID:    o.UserID,
		})
	}
	return o, nil
}

// RehydrateOrder rebuilds an order loaded from storage. No events are recorded.
func RehydrateOrder(o Order, items []OrderItem) *Order {
	o.items = append([]OrderItem(nil), items...)
	o.events = nil
	return &o
}

// orderCharge checks an order-level charge such as tax or shipping. An empty
// currency takes the order's. Charges are non-negative with at most two
// decimal places so that Total stays reachable by partial refunds.
func orderCharge(op, label string, m Money, currency string) (Money, error) {
	if m.Currency == "" {
		m.Currency = currency
	}
	if m.Currency != currency {
		return Money{}, Errorf(EINVALIDCURRENCY, op, "%s currency does not match order currency", label)
	}
	if m.IsNegative() || !HasMoneyScale(m.Amount) {
		return Money{}, Errorf(EINVALIDAMOUNT, op, "%s %s is not a valid amount", label, m.Amount)
	}
	return m, nil
}

// Items returns a copy of the order lines.
func (o *Order) Items() []OrderItem {
	return append([]OrderItem(nil), o.items...)
}

// PendingEvents returns events recorded since the last ClearEvents.
func (o *Order) PendingEvents() []Event {
	return append([]Event(nil), o.events...)
}

// ClearEvents drops pending events once they are stored in the outbox.
func (o *Order) ClearEvents() {
	o.events = nil
}

func (o *Order) record(e Event) {
	o.events = append(o.events, e)
}

// RefundedTotal returns the refunded amount, zero when nothing was refunded.
func (o *Order) RefundedTotal() Money {
	if o.RefundedAmount == nil {
		return ZeroMoney(o.Currency)
	}
	return *o.RefundedAmount
}

// RemainingAmount returns Total minus everything refunded so far.
func (o *Order) RemainingAmount() Money {
	return Money{Amount: o.Total.Amount.Sub(o.RefundedTotal().Amount), Currency: o.Currency}
}

// Clone returns a deep copy without pending events.
func (o *Order) Clone() *Order {
	c := *o
	c.items = append([]OrderItem(nil), o.items...)
	c.events = nil
	c.PartialRefunds = append([]RefundRecord(nil), o.PartialRefunds...)
	c.Metadata = o.Metadata.Clone()
	if o.RefundedAmount != nil {
		v := *o.RefundedAmount
		c.RefundedAmount = &v
	}
	if o.RefundedAt != nil {
		v := *o.RefundedAt
		c.RefundedAt = &v
	}
	if o.RefundReason != nil {
		v := *o.RefundReason
		c.RefundReason = &v
	}
	if o.TrackingNumber != nil {
		v := *o.TrackingNumber
		c.TrackingNumber = &v
	}
	return &c
}

// AddItem adds a line, or increases the quantity of an existing line for the
// same product and variant. Only pending, unpaid orders accept items.
func (o *Order) AddItem(it NewOrderItem) (OrderItem, error) {
	const op = "order.add_item"

	if o.Status != OrderStatusPending || o.PaymentStatus == PaymentStatusSucceeded || o.PaymentStatus == PaymentStatusRefunded {
		return OrderItem{}, ErrOrderNotEditable.WithOp(op)
	}

	line, merged, err := o.putItem(op, it)
	if err != nil {
		return OrderItem{}, err
	}
	if err := o.recalculate(); err != nil {
		return OrderItem{}, err
	}

	now := nowFunc()
	if merged {
		o.record(&OrderItemUpdated{
			EventMeta: newEventMeta(o.ID, now),
			ItemID:    line.ID,
			Quantity:  line.Quantity,
		})
	} else {
		o.record(&OrderItemAdded{
			EventMeta: newEventMeta(o.ID, now),
			ItemID:    line.ID,
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		})
	}
	o.UpdatedAt = now
	return line, nil
}

func (o *Order) putItem(op string, it NewOrderItem) (OrderItem, bool, error) {
	if it.Quantity <= 0 {
		return OrderItem{}, false, ErrInvalidQuantity.WithOp(op)
	}
	if it.ProductID == uuid.Nil {
		return OrderItem{}, false, NewValidationError(op, "product_id", "is required")
	}
	if it.UnitPrice.Currency != o.Currency {
		return OrderItem{}, false, ErrCurrencyMismatch.WithOp(op)
	}
	if it.UnitPrice.IsNegative() || !HasMoneyScale(it.UnitPrice.Amount) {
		return OrderItem{}, false, Errorf(EINVALIDAMOUNT, op, "Unit price %s is not a valid amount", it.UnitPrice)
	}

	for i := range o.items {
		if sameLine(o.items[i], it.ProductID, it.VariantID) {
			o.items[i].Quantity += it.Quantity
			return o.items[i], true, nil
		}
	}

	line := OrderItem{
		ID:        uuid.New(),
		ProductID: it.ProductID,
		VariantID: it.VariantID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice,
		Snapshot:  it.Snapshot,
	}
	o.items = append(o.items, line)
	return line, false, nil
}

func (o *Order) recalculate() error {
	subtotal := ZeroMoney(o.Currency)
	for _, it := range o.items {
		var err error
		if subtotal, err = subtotal.Add(it.LineTotal()); err != nil {
			return err
		}
	}
	total, err := subtotal.Add(o.Tax)
	if err != nil {
		return err
	}
	if total, err = total.Add(o.ShippingCost); err != nil {
		return err
	}
	o.Subtotal = subtotal
	o.Total = total
	return nil
}

// SetMetadata stores a caller-supplied metadata value. The partial-refund
// ledger key is system-owned.
func (o *Order) SetMetadata(key string, value any) error {
	const op = "order.set_metadata"

	if key == "" {
		return NewValidationError(op, "key", "is required")
	}
	if key == PartialRefundsKey {
		return ErrReservedMetadataKey.WithOp(op)
	}
	if err := o.Metadata.Set(key, value); err != nil {
		return WrapError(err, EINVALID, op, "Metadata value is not serialisable")
	}
	o.UpdatedAt = nowFunc()
	return nil
}

func (o *Order) setStatus(s OrderStatus, now time.Time) {
	if o.Status == s {
		return
	}
	old := o.Status
	o.Status = s
	o.record(&OrderStatusChanged{EventMeta: newEventMeta(o.ID, now), Old: old, New: s})
}

func (o *Order) setPaymentStatus(s PaymentStatus, now time.Time) {
	if o.PaymentStatus == s {
		return
	}
	old := o.PaymentStatus
	o.PaymentStatus = s
	o.record(&PaymentStatusChanged{EventMeta: newEventMeta(o.ID, now), Old: old, New: s})
}

// MarkAsPaid records a successful payment. Calling it on an already paid order
// is a no-op.
func (o *Order) MarkAsPaid() error {
	const op = "order.mark_as_paid"

	if o.PaymentStatus == PaymentStatusSucceeded {
		return nil
	}
	if o.PaymentStatus == PaymentStatusRefunded || o.Status.IsTerminal() {
		return InvalidStatus(op, fmt.Sprintf("Cannot mark a %s order as paid", o.Status))
	}

	now := nowFunc()
	o.record(&OrderPaid{EventMeta: newEventMeta(o.ID, now), Total: o.Total})
	o.setPaymentStatus(PaymentStatusSucceeded, now)
	if o.Status == OrderStatusPending {
		o.setStatus(OrderStatusProcessing, now)
	}
	o.UpdatedAt = now
	return nil
}

// MarkAsShipped moves a paid, processing order to shipped. Calling it again on
// a shipped order only replaces the tracking number.
func (o *Order) MarkAsShipped(trackingNumber *string) error {
	const op = "order.mark_as_shipped"

	if o.PaymentStatus != PaymentStatusSucceeded {
		return ErrPaymentNotSucceeded.WithOp(op)
	}

	now := nowFunc()
	switch o.Status {
	case OrderStatusProcessing:
		o.TrackingNumber = trackingNumber
		o.record(&OrderShipped{EventMeta: newEventMeta(o.ID, now), TrackingNumber: trackingNumber})
		o.setStatus(OrderStatusShipped, now)
	case OrderStatusShipped:
		if trackingNumber == nil || (o.TrackingNumber != nil && *o.TrackingNumber == *trackingNumber) {
			return nil
		}
		o.TrackingNumber = trackingNumber
		o.record(&OrderShipped{EventMeta: newEventMeta(o.ID, now), TrackingNumber: trackingNumber})
	default:
		return InvalidStatus(op, fmt.Sprintf("Cannot ship a %s order", o.Status))
	}
	o.UpdatedAt = now
	return nil
}

// MarkAsDelivered moves a shipped order to delivered.
func (o *Order) MarkAsDelivered() error {
	const op = "order.mark_as_delivered"

	if o.Status != OrderStatusShipped {
		return InvalidStatus(op, fmt.Sprintf("Cannot deliver a %s order", o.Status))
	}

	now := nowFunc()
	o.record(&OrderDelivered{EventMeta: newEventMeta(o.ID, now)})
	o.setStatus(OrderStatusDelivered, now)
	o.UpdatedAt = now
	return nil
}

// Cancel cancels an order that has not been delivered. The reason is kept as
// the refund reason only when no payment was taken.
func (o *Order) Cancel(reason string) error {
	const op = "order.cancel"

	switch o.Status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped:
	default:
		return InvalidStatus(op, fmt.Sprintf("Cannot cancel a %s order", o.Status))
	}

	now := nowFunc()
	if o.PaymentStatus != PaymentStatusSucceeded {
		r := reason
		o.RefundReason = &r
	}
	o.record(&OrderCancelled{EventMeta: newEventMeta(o.ID, now), Reason: reason})
	o.setStatus(OrderStatusCancelled, now)
	o.UpdatedAt = now
	return nil
}

// MarkAsReturned records a return of a delivered order.
func (o *Order) MarkAsReturned(reason *string) error {
	const op = "order.mark_as_returned"

	if o.Status != OrderStatusDelivered {
		return InvalidStatus(op, fmt.Sprintf("Cannot return a %s order", o.Status))
	}

	now := nowFunc()
	o.record(&OrderReturned{EventMeta: newEventMeta(o.ID, now), Reason: reason})
	o.setStatus(OrderStatusReturned, now)
	o.UpdatedAt = now
	return nil
}

// ProcessFullRefund refunds whatever balance remains and closes the order.
func (o *Order) ProcessFullRefund(reason string) (RefundResult, error) {
	const op = "order.full_refund"

	if o.Status.IsTerminal() {
		return RefundResult{}, ErrOrderAlreadyRefunded.WithOp(op)
	}
	if o.PaymentStatus != PaymentStatusSucceeded {
		return RefundResult{}, ErrPaymentNotSucceeded.WithOp(op)
	}

	now := nowFunc()
	amount := o.RemainingAmount()
	o.record(&OrderRefunded{EventMeta: newEventMeta(o.ID, now), Amount: amount, Reason: reason})
	o.closeRefunded(reason, now)

	return RefundResult{
		RefundAmount:        amount,
		TotalRefundedAmount: o.Total,
		RemainingAmount:     ZeroMoney(o.Currency),
		IsFullyRefunded:     true,
	}, nil
}

// closeRefunded applies the side effects shared by full refunds and partial
// refunds that exhaust the balance.
func (o *Order) closeRefunded(reason string, now time.Time) {
	total := o.Total
	r := reason
	o.RefundedAmount = &total
	o.RefundedAt = &now
	o.RefundReason = &r
	o.setPaymentStatus(PaymentStatusRefunded, now)
	if o.Status == OrderStatusReturned {
		o.setStatus(OrderStatusReturnedAndRefunded, now)
	} else {
		o.setStatus(OrderStatusCancelled, now)
	}
	o.UpdatedAt = now
}

// ProcessPartialRefund refunds part of the order total and appends it to the
// refund ledger. A refund that exhausts the balance closes the order as a full
// refund would.
//
// Checks run in a fixed order: amount, currency shape, currency match, status,
// remaining balance.
func (o *Order) ProcessPartialRefund(amount decimal.Decimal, currency, reason string) (RefundResult, error) {
	const op = "order.partial_refund"

	if !amount.IsPositive() {
		return RefundResult{}, ErrRefundAmountNotPositive.WithOp(op)
	}
	if !HasMoneyScale(amount) {
		return RefundResult{}, ErrRefundAmountPrecision.WithOp(op)
	}
	if err := ValidateCurrency(currency); err != nil {
		return RefundResult{}, ErrInvalidCurrency.WithOp(op)
	}
	if currency != o.Currency {
		return RefundResult{}, ErrCurrencyMismatch.WithOp(op)
	}
	if o.Status == OrderStatusPending || o.Status.IsTerminal() {
		return RefundResult{}, InvalidStatus(op, fmt.Sprintf("Cannot refund a %s order", o.Status))
	}
	if o.PaymentStatus != PaymentStatusSucceeded {
		return RefundResult{}, ErrPaymentNotSucceeded.WithOp(op)
	}

	remaining := o.RemainingAmount()
	if amount.GreaterThan(remaining.Amount) {
		return RefundResult{}, ErrRefundExceedsBalance.WithOp(op)
	}

	now := nowFunc()
	refund := Money{Amount: amount, Currency: o.Currency}
	refunded := Money{Amount: o.RefundedTotal().Amount.Add(amount), Currency: o.Currency}

	o.PartialRefunds = append(o.PartialRefunds, RefundRecord{
		ID:         uuid.New(),
		Amount:     refund,
		Reason:     reason,
		RefundedAt: now,
	})
	o.RefundedAmount = &refunded
	o.RefundedAt = &now
	o.UpdatedAt = now

	left := Money{Amount: remaining.Amount.Sub(amount), Currency: o.Currency}
	full := left.IsZero()
	if full {
		o.record(&OrderRefunded{EventMeta: newEventMeta(o.ID, now), Amount: refund, Reason: reason})
		o.closeRefunded(reason, now)
	} else {
		o.record(&OrderPartiallyRefunded{EventMeta: newEventMeta(o.ID, now), Amount: refund, Reason: reason})
	}

	return RefundResult{
		RefundAmount:        refund,
		TotalRefundedAmount: refunded,
		RemainingAmount:     left,
		IsFullyRefunded:     full,
	}, nil
}
