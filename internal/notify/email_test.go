package notify

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/orderflow/internal/cache"
	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emailFixture struct {
	orderID uuid.UUID
	userID  uuid.UUID
	orders  *fakeOrders
	users   *fakeUsers
	sender  *fakeSender
	dedupe  *cache.MemoryDeduper
	handler *EmailHandler
}

func newEmailFixture(t *testing.T) *emailFixture {
	t.Helper()
	orderID, userID := uuid.New(), uuid.New()
	refunded := domain.MustMoney("10.00", "USD")
	f := &emailFixture{
		orderID: orderID,
		userID:  userID,
		orders: &fakeOrders{details: map[uuid.UUID]*domain.OrderDetail{
			orderID: {
				ID:             orderID,
				UserID:         &userID,
				Total:          domain.MustMoney("40.00", "USD"),
				RefundedAmount: &refunded,
				Items: []domain.ItemDetail{
					{Name: "Ethiopia Guji", Quantity: 2, LineTotal: domain.MustMoney("36.00", "USD")},
				},
			},
		}},
		users: &fakeUsers{users: map[uuid.UUID]*domain.UserSummary{
			userID: {ID: userID, Email: "ada@example.com", DisplayName: "Ada"},
		}},
		sender: &fakeSender{},
		dedupe: cache.NewMemoryDeduper(),
	}
	f.handler = NewEmailHandler(f.orders, f.users, f.sender, f.dedupe, discard)
	return f
}

func TestEmailHandler_Compose(t *testing.T) {
	tracking := "1Z999"
	tests := []struct {
		name    string
		event   func(orderID uuid.UUID) domain.Event
		subject string
		body    []string
	}{
		{
			name: "paid",
			event: func(id uuid.UUID) domain.Event {
				return &domain.OrderPaid{EventMeta: meta(id), Total: domain.MustMoney("40.00", "USD")}
			},
			subject: "confirmed",
			body:    []string{"Hello Ada,", "40.00 USD", "2 x Ethiopia Guji"},
		},
		{
			name: "shipped",
			event: func(id uuid.UUID) domain.Event {
				return &domain.OrderShipped{EventMeta: meta(id), TrackingNumber: &tracking}
			},
			subject: "has shipped",
			body:    []string{"Tracking number: 1Z999"},
		},
		{
			name: "cancelled",
			event: func(id uuid.UUID) domain.Event {
				return &domain.OrderCancelled{EventMeta: meta(id), Reason: "out of stock"}
			},
			subject: "cancelled",
			body:    []string{"Reason: out of stock"},
		},
		{
			name: "refunded",
			event: func(id uuid.UUID) domain.Event {
				return &domain.OrderRefunded{EventMeta: meta(id), Amount: domain.MustMoney("40.00", "USD")}
			},
			subject: "Refund for order",
			body:    []string{"We refunded 40.00 USD"},
		},
		{
			name: "partially refunded",
			event: func(id uuid.UUID) domain.Event {
				return &domain.OrderPartiallyRefunded{EventMeta: meta(id), Amount: domain.MustMoney("10.00", "USD")}
			},
			subject: "Partial refund",
			body:    []string{"Refunded so far: 10.00 USD of 40.00 USD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEmailFixture(t)
			require.NoError(t, f.handler.Handle(context.Background(), tt.event(f.orderID)))
			require.Len(t, f.sender.sent, 1)

			sent := f.sender.sent[0]
			assert.Equal(t, "ada@example.com", sent.to)
			assert.Contains(t, sent.subject, tt.subject)
			for _, want := range tt.body {
				assert.Contains(t, sent.body, want)
			}
		})
	}
}

func TestEmailHandler_RedeliverySendsOnce(t *testing.T) {
	f := newEmailFixture(t)
	e := &domain.OrderCancelled{EventMeta: meta(f.orderID)}

	require.NoError(t, f.handler.Handle(context.Background(), e))
	require.NoError(t, f.handler.Handle(context.Background(), e))

	assert.Len(t, f.sender.sent, 1)
}

func TestEmailHandler_SendFailureReleasesClaim(t *testing.T) {
	f := newEmailFixture(t)
	e := &domain.OrderCancelled{EventMeta: meta(f.orderID)}

	f.sender.err = errBoom
	err := f.handler.Handle(context.Background(), e)
	assert.ErrorIs(t, err, errBoom)

	f.sender.err = nil
	require.NoError(t, f.handler.Handle(context.Background(), e))
	assert.Len(t, f.sender.sent, 1)
}

func TestEmailHandler_AbandonedLeaseIsRetried(t *testing.T) {
	f := newEmailFixture(t)
	e := &domain.OrderCancelled{EventMeta: meta(f.orderID)}
	key := "notify:email:" + e.EventID().String()

	// An attempt that claimed the key and died before sending.
	ok, err := f.dedupe.Claim(context.Background(), key, 5*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	err = f.handler.Handle(context.Background(), e)
	assert.Error(t, err, "an unfinished send must be retried, not skipped")
	assert.Empty(t, f.sender.sent)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.handler.Handle(context.Background(), e))
	assert.Len(t, f.sender.sent, 1)

	done, err := f.dedupe.Done(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestEmailHandler_Skips(t *testing.T) {
	t.Run("guest order", func(t *testing.T) {
		f := newEmailFixture(t)
		f.orders.details[f.orderID].UserID = nil
		require.NoError(t, f.handler.Handle(context.Background(), &domain.OrderPaid{EventMeta: meta(f.orderID)}))
		assert.Empty(t, f.sender.sent)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newEmailFixture(t)
		delete(f.users.users, f.userID)
		require.NoError(t, f.handler.Handle(context.Background(), &domain.OrderPaid{EventMeta: meta(f.orderID)}))
		assert.Empty(t, f.sender.sent)
	})

	t.Run("order gone", func(t *testing.T) {
		f := newEmailFixture(t)
		require.NoError(t, f.handler.Handle(context.Background(), &domain.OrderPaid{EventMeta: meta(uuid.New())}))
		assert.Empty(t, f.sender.sent)
	})

	t.Run("event without email", func(t *testing.T) {
		f := newEmailFixture(t)
		require.NoError(t, f.handler.Handle(context.Background(), &domain.OrderDelivered{EventMeta: meta(f.orderID)}))
		assert.Empty(t, f.sender.sent)
	})
}

func TestEmailHandler_ReadFailureIsRetried(t *testing.T) {
	f := newEmailFixture(t)
	f.users.err = errBoom

	err := f.handler.Handle(context.Background(), &domain.OrderPaid{EventMeta: meta(f.orderID)})

	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.sender.sent)
}
