package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the re-index trigger uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ReindexRequest asks the search indexer to rebuild one order document.
// The indexer reads current state itself, so duplicates are harmless.
type ReindexRequest struct {
	OrderID    string           `json:"order_id"`
	EventID    string           `json:"event_id"`
	EventType  domain.EventType `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// ReindexHandler publishes a re-index request keyed by order id, so one
// partition sees every request for an order in order.
type ReindexHandler struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewReindexHandler(writer MessageWriter, logger *slog.Logger) *ReindexHandler {
	return &ReindexHandler{writer: writer, logger: logger}
}

// NewKafkaWriter returns a writer for the re-index topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (h *ReindexHandler) Name() string { return ReindexHandlerName }

func (h *ReindexHandler) Handle(ctx context.Context, e domain.Event) error {
	req := ReindexRequest{
		OrderID:    e.AggregateID().String(),
		EventID:    e.EventID().String(),
		EventType:  e.EventType(),
		OccurredAt: e.OccurredAt(),
	}
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal reindex request: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(req.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(req.EventID)},
			{Key: "event_type", Value: []byte(req.EventType)},
		},
	}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to produce reindex request: %w", err)
	}

	h.logger.Debug("reindex: requested", "order_id", req.OrderID, "event_type", req.EventType)
	return nil
}
