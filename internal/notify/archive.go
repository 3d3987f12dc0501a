package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/storage"
)

// ArchiveEvents are the settlement events kept in the archive.
var ArchiveEvents = []domain.EventType{
	domain.EventOrderCancelled,
	domain.EventOrderRefunded,
	domain.EventOrderPartiallyRefunded,
	domain.EventOrderReturned,
}

// SettlementRecord is one archived settlement event with the order
// totals as they stood when it was archived.
type SettlementRecord struct {
	EventID        string               `json:"event_id"`
	EventType      domain.EventType     `json:"event_type"`
	OrderID        string               `json:"order_id"`
	OccurredAt     time.Time            `json:"occurred_at"`
	Event          json.RawMessage      `json:"event"`
	Status         domain.OrderStatus   `json:"status,omitempty"`
	PaymentStatus  domain.PaymentStatus `json:"payment_status,omitempty"`
	Total          *domain.Money        `json:"total,omitempty"`
	RefundedAmount *domain.Money        `json:"refunded_amount,omitempty"`
}

// ArchiveHandler writes settlement records to object storage. Keys are
// derived from the event id, so a redelivery overwrites the same object.
type ArchiveHandler struct {
	store  storage.Storage
	orders domain.OrderReader
	logger *slog.Logger
}

func NewArchiveHandler(store storage.Storage, orders domain.OrderReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{store: store, orders: orders, logger: logger}
}

func (h *ArchiveHandler) Name() string { return ArchiveHandlerName }

// ArchiveKey returns the object key for an event.
func ArchiveKey(e domain.Event) string {
	return fmt.Sprintf("settlements/%s/%s.json", e.AggregateID(), e.EventID())
}

// Handle writes one record per event. A record already archived by an
// earlier delivery is kept so it reflects the order as first settled.
func (h *ArchiveHandler) Handle(ctx context.Context, e domain.Event) error {
	key := ArchiveKey(e)
	exists, err := h.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check archive %s: %w", key, err)
	}
	if exists {
		h.logger.Debug("archive: already recorded", "key", key)
		return nil
	}

	payload, err := domain.EncodeEvent(e)
	if err != nil {
		return err
	}

	rec := SettlementRecord{
		EventID:    e.EventID().String(),
		EventType:  e.EventType(),
		OrderID:    e.AggregateID().String(),
		OccurredAt: e.OccurredAt(),
		Event:      payload,
	}

	detail, err := h.orders.GetDetailByID(ctx, e.AggregateID())
	switch {
	case err == nil:
		rec.Status = detail.Status
		rec.PaymentStatus = detail.PaymentStatus
		rec.Total = &detail.Total
		rec.RefundedAmount = detail.RefundedAmount
	case domain.IsCode(err, domain.ENOTFOUND):
		h.logger.Warn("archive: order not found, archiving event only", "order_id", rec.OrderID)
	default:
		return fmt.Errorf("failed to load order for archive: %w", err)
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settlement record: %w", err)
	}

	location, err := h.store.Put(ctx, key, bytes.NewReader(body), "application/json")
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}

	h.logger.Info("archive: settlement recorded", "order_id", rec.OrderID, "event_type", rec.EventType, "location", location)
	return nil
}
