package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the broadcaster uses.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// BroadcastHandler publishes every event on <prefix>.<event type>. The
// Nats-Msg-Id header lets JetStream streams drop redelivered events.
type BroadcastHandler struct {
	conn   Publisher
	prefix string
	logger *slog.Logger
}

func NewBroadcastHandler(conn Publisher, prefix string, logger *slog.Logger) *BroadcastHandler {
	if prefix == "" {
		prefix = "orders"
	}
	return &BroadcastHandler{conn: conn, prefix: prefix, logger: logger}
}

func (h *BroadcastHandler) Name() string { return BroadcastHandlerName }

// Subject returns the subject an event type is published on.
func (h *BroadcastHandler) Subject(t domain.EventType) string {
	return h.prefix + "." + string(t)
}

func (h *BroadcastHandler) Handle(ctx context.Context, e domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := domain.EncodeEvent(e)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(h.Subject(e.EventType()))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.EventID().String())
	msg.Header.Set("Order-Id", e.AggregateID().String())

	if err := h.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	return nil
}
