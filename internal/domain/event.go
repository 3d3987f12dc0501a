package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType tags a domain event variant. It is the outbox routing key.
type EventType string

const (
	EventOrderCreated           EventType = "order.created"
	EventOrderStatusChanged     EventType = "order.status_changed"
	EventOrderPaid              EventType = "order.paid"
	EventOrderShipped           EventType = "order.shipped"
	EventOrderDelivered         EventType = "order.delivered"
	EventOrderCancelled         EventType = "order.cancelled"
	EventOrderRefunded          EventType = "order.refunded"
	EventOrderPartiallyRefunded EventType = "order.partially_refunded"
	EventOrderReturned          EventType = "order.returned"
	EventOrderItemAdded         EventType = "order.item_added"
	EventOrderItemUpdated       EventType = "order.item_updated"
	EventPaymentStatusChanged   EventType = "order.payment_status_changed"
	EventCartConverted          EventType = "cart.converted"
)

// Event is a state transition recorded by an aggregate. Consumers re-fetch
// full state rather than trusting payloads for display data.
type Event interface {
	EventID() uuid.UUID
	EventType() EventType
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

// EventMeta carries the fields common to every event.
type EventMeta struct {
	ID        uuid.UUID `json:"event_id"`
	Aggregate uuid.UUID `json:"aggregate_id"`
	At        time.Time `json:"occurred_at"`
}

func newEventMeta(aggregateID uuid.UUID, at time.Time) EventMeta {
	return EventMeta{ID: uuid.New(), Aggregate: aggregateID, At: at}
}

func (m EventMeta) EventID() uuid.UUID     { return m.ID }
func (m EventMeta) AggregateID() uuid.UUID { return m.Aggregate }
func (m EventMeta) OccurredAt() time.Time  { return m.At }

type OrderCreated struct {
	EventMeta
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Total     Money      `json:"total"`
	ItemCount int        `json:"item_count"`
}

type OrderStatusChanged struct {
	EventMeta
	Old OrderStatus `json:"old"`
	New OrderStatus `json:"new"`
}

type OrderPaid struct {
	EventMeta
	Total Money `json:"total"`
}

type OrderShipped struct {
	EventMeta
	TrackingNumber *string `json:"tracking_number,omitempty"`
}

type OrderDelivered struct {
	EventMeta
}

type OrderCancelled struct {
	EventMeta
	Reason string `json:"reason"`
}

type OrderRefunded struct {
	EventMeta
	Amount Money  `json:"amount"`
	Reason string `json:"reason"`
}

type OrderPartiallyRefunded struct {
	EventMeta
	Amount Money  `json:"amount"`
	Reason string `json:"reason"`
}

type OrderReturned struct {
	EventMeta
	Reason *string `json:"reason,omitempty"`
}

type OrderItemAdded struct {
	EventMeta
	ItemID    uuid.UUID  `json:"item_id"`
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity"`
}

type OrderItemUpdated struct {
	EventMeta
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int       `json:"quantity"`
}

type PaymentStatusChanged struct {
	EventMeta
	Old PaymentStatus `json:"old"`
	New PaymentStatus `json:"new"`
}

// CartConverted is raised on the order stream when an order is created from a cart.
type CartConverted struct {
	EventMeta
	CartID uuid.UUID  `json:"cart_id"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
}

func (OrderCreated) EventType() EventType           { return EventOrderCreated }
func (OrderStatusChanged) EventType() EventType     { return EventOrderStatusChanged }
func (OrderPaid) EventType() EventType              { return EventOrderPaid }
func (OrderShipped) EventType() EventType           { return EventOrderShipped }
func (OrderDelivered) EventType() EventType         { return EventOrderDelivered }
func (OrderCancelled) EventType() EventType         { return EventOrderCancelled }
func (OrderRefunded) EventType() EventType          { return EventOrderRefunded }
func (OrderPartiallyRefunded) EventType() EventType { return EventOrderPartiallyRefunded }
func (OrderReturned) EventType() EventType          { return EventOrderReturned }
func (OrderItemAdded) EventType() EventType         { return EventOrderItemAdded }
func (OrderItemUpdated) EventType() EventType       { return EventOrderItemUpdated }
func (PaymentStatusChanged) EventType() EventType   { return EventPaymentStatusChanged }
func (CartConverted) EventType() EventType          { return EventCartConverted }

var eventFactories = map[EventType]func() Event{
	EventOrderCreated:           func() Event { return &OrderCreated{} },
	EventOrderStatusChanged:     func() Event { return &OrderStatusChanged{} },
	EventOrderPaid:              func() Event { return &OrderPaid{} },
	EventOrderShipped:           func() Event { return &OrderShipped{} },
	EventOrderDelivered:         func() Event { return &OrderDelivered{} },
	EventOrderCancelled:         func() Event { return &OrderCancelled{} },
	EventOrderRefunded:          func() Event { return &OrderRefunded{} },
	EventOrderPartiallyRefunded: func() Event { return &OrderPartiallyRefunded{} },
	EventOrderReturned:          func() Event { return &OrderReturned{} },
	EventOrderItemAdded:         func() Event { return &OrderItemAdded{} },
	EventOrderItemUpdated:       func() Event { return &OrderItemUpdated{} },
	EventPaymentStatusChanged:   func() Event { return &PaymentStatusChanged{} },
	EventCartConverted:          func() Event { return &CartConverted{} },
}

// EventTypes lists every known event type.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(eventFactories))
	for t := range eventFactories {
		out = append(out, t)
	}
	return out
}

// EncodeEvent serialises an event payload for the outbox.
func EncodeEvent(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.EventType(), err)
	}
	return b, nil
}

// DecodeEvent rebuilds an event from its type tag and payload.
// The returned value is a pointer to the concrete event struct.
func DecodeEvent(t EventType, payload []byte) (Event, error) {
	factory, ok := eventFactories[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", t)
	}
	e := factory()
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", t, err)
	}
	return e, nil
}
