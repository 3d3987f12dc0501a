package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/storage"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (p *fakePublisher) PublishMsg(m *nats.Msg) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func TestReindexHandler(t *testing.T) {
	orderID := uuid.New()
	w := &fakeWriter{}
	h := NewReindexHandler(w, discard)
	e := &domain.OrderStatusChanged{EventMeta: meta(orderID), Old: domain.OrderStatusPending, New: domain.OrderStatusProcessing}

	require.NoError(t, h.Handle(context.Background(), e))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, orderID.String(), string(msg.Key))

	var req ReindexRequest
	require.NoError(t, json.Unmarshal(msg.Value, &req))
	assert.Equal(t, orderID.String(), req.OrderID)
	assert.Equal(t, e.EventID().String(), req.EventID)
	assert.Equal(t, domain.EventOrderStatusChanged, req.EventType)
}

func TestReindexHandler_WriteError(t *testing.T) {
	h := NewReindexHandler(&fakeWriter{err: errBoom}, discard)
	err := h.Handle(context.Background(), &domain.OrderPaid{EventMeta: meta(uuid.New())})
	assert.ErrorIs(t, err, errBoom)
}

func TestBroadcastHandler(t *testing.T) {
	orderID := uuid.New()
	p := &fakePublisher{}
	h := NewBroadcastHandler(p, "shop.orders", discard)
	e := &domain.OrderRefunded{EventMeta: meta(orderID), Amount: domain.MustMoney("12.50", "EUR"), Reason: "damaged"}

	require.NoError(t, h.Handle(context.Background(), e))
	require.Len(t, p.msgs, 1)

	msg := p.msgs[0]
	assert.Equal(t, "shop.orders.order.refunded", msg.Subject)
	assert.Equal(t, e.EventID().String(), msg.Header.Get(nats.MsgIdHdr))

	decoded, err := domain.DecodeEvent(domain.EventOrderRefunded, msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "damaged", decoded.(*domain.OrderRefunded).Reason)
}

func TestBroadcastHandler_DefaultPrefix(t *testing.T) {
	h := NewBroadcastHandler(&fakePublisher{}, "", discard)
	assert.Equal(t, "orders.order.paid", h.Subject(domain.EventOrderPaid))
}

func TestBroadcastHandler_CancelledContext(t *testing.T) {
	p := &fakePublisher{}
	h := NewBroadcastHandler(p, "", discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.Handle(ctx, &domain.OrderPaid{EventMeta: meta(uuid.New())}), context.Canceled)
	assert.Empty(t, p.msgs)
}

func TestArchiveHandler(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	orderID := uuid.New()
	refunded := domain.MustMoney("5.00", "USD")
	orders := &fakeOrders{details: map[uuid.UUID]*domain.OrderDetail{
		orderID: {
			ID:             orderID,
			Status:         domain.OrderStatusDelivered,
			PaymentStatus:  domain.PaymentStatusSucceeded,
			Total:          domain.MustMoney("30.00", "USD"),
			RefundedAmount: &refunded,
		},
	}}
	h := NewArchiveHandler(store, orders, discard)
	e := &domain.OrderPartiallyRefunded{EventMeta: meta(orderID), Amount: refunded, Reason: "late"}

	require.NoError(t, h.Handle(context.Background(), e))
	// Redelivery after the order moved on keeps the first record.
	orders.details[orderID].Status = domain.OrderStatusReturned
	require.NoError(t, h.Handle(context.Background(), e))

	body, err := os.ReadFile(filepath.Join(dir, ArchiveKey(e)))
	require.NoError(t, err)

	var rec SettlementRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, domain.EventOrderPartiallyRefunded, rec.EventType)
	assert.Equal(t, orderID.String(), rec.OrderID)
	assert.Equal(t, domain.OrderStatusDelivered, rec.Status)
	require.NotNil(t, rec.RefundedAmount)
	assert.True(t, rec.RefundedAmount.Equal(refunded))

	archived, err := domain.DecodeEvent(rec.EventType, rec.Event)
	require.NoError(t, err)
	assert.Equal(t, "late", archived.(*domain.OrderPartiallyRefunded).Reason)
}

func TestArchiveHandler_MissingOrderStillArchives(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	h := NewArchiveHandler(store, &fakeOrders{}, discard)
	e := &domain.OrderCancelled{EventMeta: meta(uuid.New())}

	require.NoError(t, h.Handle(context.Background(), e))

	ok, err := store.Exists(context.Background(), ArchiveKey(e))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArchiveHandler_ReadFailure(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	h := NewArchiveHandler(store, &fakeOrders{err: errBoom}, discard)

	err = h.Handle(context.Background(), &domain.OrderCancelled{EventMeta: meta(uuid.New())})
	assert.ErrorIs(t, err, errBoom)
}
