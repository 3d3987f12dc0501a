package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/outbox"
)

// OutboxWriter appends events inside the caller's transaction.
type OutboxWriter struct {
	db DBTX
}

var _ domain.OutboxWriter = (*OutboxWriter)(nil)

func (w *OutboxWriter) Append(ctx context.Context, events []domain.Event) error {
	entries, err := outbox.NewEntries(events)
	if err != nil {
		return domain.Internal(err, "outbox.append", "Failed to encode events")
	}
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO outbox (event_id, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			e.EventID, e.AggregateID, string(e.EventType), e.Payload, e.CreatedAt,
		)
	}

	br := w.db.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	return nil
}

// OutboxStore is the dispatcher's view of the outbox table.
type OutboxStore struct {
	pool *pgxpool.Pool
}

var _ outbox.Store = (*OutboxStore)(nil)

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// claimOutbox leases due entries. An entry is eligible only when no older
// live entry of the same aggregate exists, which keeps per-aggregate order
// across concurrent dispatchers. SKIP LOCKED lets them share the table.
const claimOutbox = `
WITH candidates AS (
    SELECT o.event_id
    FROM outbox o
    WHERE o.delivered_at IS NULL
      AND o.dead_at IS NULL
      AND o.next_attempt_at <= now()
      AND (o.claimed_until IS NULL OR o.claimed_until <= now())
      AND NOT EXISTS (
          SELECT 1 FROM outbox p
          WHERE p.aggregate_id = o.aggregate_id
            AND p.seq < o.seq
            AND p.delivered_at IS NULL
            AND p.dead_at IS NULL
      )
    ORDER BY o.seq
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE outbox
SET attempts = outbox.attempts + 1,
    claimed_by = $1,
    claimed_until = now() + make_interval(secs => $3)
FROM candidates
WHERE outbox.event_id = candidates.event_id
RETURNING outbox.seq, outbox.event_id, outbox.aggregate_id, outbox.event_type, outbox.payload,
          outbox.created_at, outbox.attempts, outbox.next_attempt_at, outbox.claimed_by,
          outbox.claimed_until, outbox.last_error`

func (s *OutboxStore) Claim(ctx context.Context, owner string, limit int, lease time.Duration) ([]outbox.Entry, error) {
	rows, err := s.pool.Query(ctx, claimOutbox, owner, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		seq   int64
		entry outbox.Entry
	}
	var out []claimed
	for rows.Next() {
		var (
			c         claimed
			eventType string
			claimedBy *string
			lastError *string
		)
		if err := rows.Scan(
			&c.seq, &c.entry.EventID, &c.entry.AggregateID, &eventType, &c.entry.Payload,
			&c.entry.CreatedAt, &c.entry.Attempts, &c.entry.NextAttemptAt, &claimedBy,
			&c.entry.ClaimedUntil, &lastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		c.entry.EventType = domain.EventType(eventType)
		if claimedBy != nil {
			c.entry.ClaimedBy = *claimedBy
		}
		if lastError != nil {
			c.entry.LastError = *lastError
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}

	// RETURNING does not preserve the CTE order.
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	entries := make([]outbox.Entry, len(out))
	for i, c := range out {
		entries[i] = c.entry
	}
	return entries, nil
}

func (s *OutboxStore) Receipts(ctx context.Context, eventID uuid.UUID) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT handler FROM outbox_deliveries WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select delivery receipts: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan delivery receipts: %w", err)
	}

	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

func (s *OutboxStore) RecordReceipt(ctx context.Context, eventID uuid.UUID, handler string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_deliveries (event_id, handler) VALUES ($1, $2)
		ON CONFLICT (event_id, handler) DO NOTHING`,
		eventID, handler,
	)
	if err != nil {
		return fmt.Errorf("insert delivery receipt: %w", err)
	}
	return nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET delivered_at = $2, claimed_by = NULL, claimed_until = NULL, last_error = NULL
		WHERE event_id = $1`,
		eventID, at,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("outbox.mark_delivered", "outbox entry", eventID.String())
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, eventID uuid.UUID, lastErr string, nextAttempt time.Time, dead bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET last_error = $2,
		    next_attempt_at = $3,
		    dead_at = CASE WHEN $4 THEN now() ELSE NULL END,
		    claimed_by = NULL,
		    claimed_until = NULL
		WHERE event_id = $1`,
		eventID, lastErr, nextAttempt, dead,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("outbox.mark_failed", "outbox entry", eventID.String())
	}
	return nil
}

func (s *OutboxStore) PurgeDelivered(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM outbox WHERE delivered_at IS NOT NULL AND delivered_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge delivered outbox entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
