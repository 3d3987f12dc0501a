// Package notify holds the outbox handlers that propagate order state
// changes: cache invalidation, customer email, search re-index, event
// broadcast and the settlement archive.
//
// Every handler tolerates redelivery. The dispatcher skips handlers that
// already hold a receipt for an event, and handlers with external effects
// key them by event id so a lost receipt does not double-apply them.
package notify

import (
	"github.com/dukerupert/orderflow/internal/domain"
)

// Handler names double as receipt keys; renaming one re-runs it for
// every undelivered event.
const (
	CacheHandlerName     = "cache_invalidation"
	EmailHandlerName     = "customer_email"
	ReindexHandlerName   = "search_reindex"
	BroadcastHandlerName = "event_broadcast"
	ArchiveHandlerName   = "settlement_archive"
)

// orderEvents are the events that change what an order read model shows.
var orderEvents = []domain.EventType{
	domain.EventOrderCreated,
	domain.EventOrderStatusChanged,
	domain.EventOrderPaid,
	domain.EventOrderShipped,
	domain.EventOrderDelivered,
	domain.EventOrderCancelled,
	domain.EventOrderRefunded,
	domain.EventOrderPartiallyRefunded,
	domain.EventOrderReturned,
	domain.EventOrderItemAdded,
	domain.EventOrderItemUpdated,
	domain.EventPaymentStatusChanged,
}

// OrderEvents returns the order-affecting event types.
func OrderEvents() []domain.EventType {
	return append([]domain.EventType{}, orderEvents...)
}
