package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/google/uuid"
)

var discard = slog.New(slog.DiscardHandler)

func meta(orderID uuid.UUID) domain.EventMeta {
	return domain.EventMeta{ID: uuid.New(), Aggregate: orderID, At: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

type fakeCache struct {
	mu       sync.Mutex
	keys     []string
	patterns []string
	err      error
}

func (c *fakeCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return c.err
}

func (c *fakeCache) RemoveByPattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	return c.err
}

type fakeOrders struct {
	details map[uuid.UUID]*domain.OrderDetail
	err     error
}

func (f *fakeOrders) GetDetailByID(_ context.Context, id uuid.UUID) (*domain.OrderDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.details[id]
	if !ok {
		return nil, domain.NotFound("fakeOrders.GetDetailByID", "order", id.String())
	}
	return d, nil
}

type fakeUsers struct {
	users map[uuid.UUID]*domain.UserSummary
	err   error
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.UserSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

type sentEmail struct {
	to, subject, body string
}

type fakeSender struct {
	sent []sentEmail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, body: body})
	return nil
}

var errBoom = errors.New("boom")
