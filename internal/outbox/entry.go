// Package outbox defines the transactional outbox: entries written in the same
// transaction as aggregate changes, the handler registry that consumes them,
// and the retry policy applied when delivery fails.
package outbox

import (
	"context"
	"time"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/google/uuid"
)

// Entry is one persisted domain event awaiting delivery.
type Entry struct {
	EventID       uuid.UUID
	AggregateID   uuid.UUID
	EventType     domain.EventType
	Payload       []byte
	CreatedAt     time.Time
	DeliveredAt   *time.Time
	Attempts      int
	NextAttemptAt time.Time
	ClaimedBy     string
	ClaimedUntil  *time.Time
	LastError     string
	DeadAt        *time.Time
}

// NewEntry encodes e for storage. NextAttemptAt is left zero; stores stamp it
// from their own clock on insert so due checks never compare two clocks.
func NewEntry(e domain.Event) (Entry, error) {
	payload, err := domain.EncodeEvent(e)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		EventID:     e.EventID(),
		AggregateID: e.AggregateID(),
		EventType:   e.EventType(),
		Payload:     payload,
		CreatedAt:   e.OccurredAt(),
	}, nil
}

// NewEntries encodes a batch of events, preserving order.
func NewEntries(events []domain.Event) ([]Entry, error) {
	out := make([]Entry, 0, len(events))
	for _, e := range events {
		entry, err := NewEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Event decodes the payload back into its domain event.
func (e Entry) Event() (domain.Event, error) {
	return domain.DecodeEvent(e.EventType, e.Payload)
}

// Store is the dispatcher's view of the outbox table.
type Store interface {
	// Claim leases up to limit entries that are undelivered, not dead, due, and
	// not leased by another owner. Only the oldest live undelivered entry of
	// each aggregate is eligible, so one aggregate's events are delivered in
	// order. Claiming increments Attempts.
	Claim(ctx context.Context, owner string, limit int, lease time.Duration) ([]Entry, error)

	// Receipts returns the names of handlers that already processed the event.
	Receipts(ctx context.Context, eventID uuid.UUID) (map[string]bool, error)

	// RecordReceipt notes that handler processed the event successfully.
	RecordReceipt(ctx context.Context, eventID uuid.UUID, handler string) error

	// MarkDelivered completes an entry and releases its lease.
	MarkDelivered(ctx context.Context, eventID uuid.UUID, at time.Time) error

	// MarkFailed releases the lease and schedules the next attempt, or marks the
	// entry dead when dead is true.
	MarkFailed(ctx context.Context, eventID uuid.UUID, lastErr string, nextAttempt time.Time, dead bool) error

	// PurgeDelivered deletes delivered entries older than before.
	PurgeDelivered(ctx context.Context, before time.Time) (int64, error)
}
