// Package worker runs the outbox dispatcher: it claims committed domain events,
// hands them to the registered handlers and records the outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/outbox"
	"github.com/dukerupert/orderflow/internal/telemetry"
)

// Config holds dispatcher configuration
type Config struct {
	// WorkerID uniquely identifies this dispatcher instance in outbox leases
	WorkerID string

	// PollInterval is how often to check for due entries
	PollInterval time.Duration

	// BatchSize is the maximum number of entries claimed per poll
	BatchSize int

	// MaxConcurrency is the maximum number of entries delivered concurrently
	MaxConcurrency int

	// MaxAttempts is the number of claims after which a failing entry is dead
	MaxAttempts int

	// ClaimTTL is the minimum lease on claimed entries. The lease is extended
	// to cover a full batch running every handler to its timeout.
	ClaimTTL time.Duration

	// HandlerTimeout bounds a single handler invocation
	HandlerTimeout time.Duration

	// Backoff schedules retries of failed entries
	Backoff outbox.Backoff

	// PurgeAfter is how long delivered entries are kept (0 = keep forever)
	PurgeAfter time.Duration

	// PurgeInterval is how often delivered entries are purged
	PurgeInterval time.Duration
}

// Dispatcher delivers outbox entries to handlers
type Dispatcher struct {
	config   Config
	store    outbox.Store
	registry *outbox.Registry
	metrics  *telemetry.OrderMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(
	store outbox.Store,
	registry *outbox.Registry,
	metrics *telemetry.OrderMetrics,
	config Config,
	logger *slog.Logger,
) *Dispatcher {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 10
	}
	if config.ClaimTTL == 0 {
		config.ClaimTTL = 2 * time.Minute
	}
	if config.HandlerTimeout == 0 {
		config.HandlerTimeout = 30 * time.Second
	}
	if config.Backoff == (outbox.Backoff{}) {
		config.Backoff = outbox.DefaultBackoff
	}
	if config.PurgeInterval == 0 {
		config.PurgeInterval = time.Hour
	}

	return &Dispatcher{
		config:   config,
		store:    store,
		registry: registry,
		metrics:  metrics,
		logger:   logger.With("worker_id", config.WorkerID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start polls the outbox until the context is cancelled. In-flight deliveries
// finish before Start returns.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher starting",
		"poll_interval", d.config.PollInterval,
		"batch_size", d.config.BatchSize,
		"max_concurrency", d.config.MaxConcurrency,
		"max_attempts", d.config.MaxAttempts,
	)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	var purge <-chan time.Time
	if d.config.PurgeAfter > 0 {
		purgeTicker := time.NewTicker(d.config.PurgeInterval)
		defer purgeTicker.Stop()
		purge = purgeTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shutting down")
			return ctx.Err()

		case <-ticker.C:
			// Drain: keep claiming while full batches come back.
			for {
				n, err := d.RunOnce(ctx)
				if err != nil {
					d.logger.Error("outbox poll failed", "error", err)
					break
				}
				if n < d.config.BatchSize || ctx.Err() != nil {
					break
				}
			}

		case <-purge:
			d.Purge(ctx)
		}
	}
}

// RunOnce claims one batch and delivers it. It returns the number of entries
// claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	entries, err := d.store.Claim(ctx, d.config.WorkerID, d.config.BatchSize, d.lease())
	if err != nil {
		return 0, fmt.Errorf("claim outbox entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// Claim returns at most one entry per aggregate, so entries in a batch
	// never race each other for ordering.
	g := new(errgroup.Group)
	g.SetLimit(d.config.MaxConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			d.deliver(context.WithoutCancel(ctx), entry)
			return nil
		})
	}
	_ = g.Wait()

	return len(entries), nil
}

// Purge removes delivered entries older than PurgeAfter.
func (d *Dispatcher) Purge(ctx context.Context) {
	if d.config.PurgeAfter <= 0 {
		return
	}
	n, err := d.store.PurgeDelivered(ctx, d.now().Add(-d.config.PurgeAfter))
	if err != nil {
		d.logger.Error("failed to purge delivered outbox entries", "error", err)
		return
	}
	if n > 0 {
		d.logger.Info("purged delivered outbox entries", "count", n)
	}
}

// deliver runs every handler subscribed to the entry's event type, skipping
// handlers that already hold a receipt for it.
func (d *Dispatcher) deliver(ctx context.Context, entry outbox.Entry) {
	logger := d.logger.With(
		"event_id", entry.EventID,
		"event_type", entry.EventType,
		"aggregate_id", entry.AggregateID,
		"attempt", entry.Attempts,
	)

	event, err := entry.Event()
	if err != nil {
		// A payload that cannot be decoded will never succeed.
		logger.Error("undecodable outbox entry", "error", err)
		d.fail(ctx, logger, entry, err, true)
		return
	}

	receipts, err := d.store.Receipts(ctx, entry.EventID)
	if err != nil {
		logger.Error("failed to load delivery receipts", "error", err)
		d.fail(ctx, logger, entry, err, false)
		return
	}

	var firstErr error
	for _, h := range d.registry.Handlers(entry.EventType) {
		name := h.Name()
		if receipts[name] {
			continue
		}

		if err := d.invoke(ctx, h, event); err != nil {
			logger.Warn("handler failed", "handler", name, "error", err)
			d.metrics.HandlerFailed(name, string(entry.EventType))
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			continue
		}

		if err := d.store.RecordReceipt(ctx, entry.EventID, name); err != nil {
			// The handler ran; without a receipt it runs again on retry.
			logger.Error("failed to record delivery receipt", "handler", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: record receipt: %w", name, err)
			}
		}
	}

	if firstErr != nil {
		d.fail(ctx, logger, entry, firstErr, entry.Attempts >= d.config.MaxAttempts)
		return
	}

	now := d.now()
	if err := d.store.MarkDelivered(ctx, entry.EventID, now); err != nil {
		logger.Error("failed to mark outbox entry delivered", "error", err)
		return
	}
	d.metrics.Delivered(string(entry.EventType), now.Sub(entry.CreatedAt).Seconds())
	logger.Debug("outbox entry delivered")
}

// lease is how long claimed entries stay leased. Entries of a batch wait for
// free delivery slots and handlers run one after another, so the lease must
// outlast the slowest possible batch or a second dispatcher could re-run
// handlers that are still in flight.
func (d *Dispatcher) lease() time.Duration {
	rounds := (d.config.BatchSize + d.config.MaxConcurrency - 1) / d.config.MaxConcurrency
	need := time.Duration(rounds*d.registry.MaxHandlers())*d.config.HandlerTimeout + d.config.HandlerTimeout
	return max(need, d.config.ClaimTTL)
}

// invoke calls one handler with a timeout, converting panics to errors.
func (d *Dispatcher) invoke(ctx context.Context, h outbox.Handler, event domain.Event) (err error) {
	hctx, cancel := context.WithTimeout(ctx, d.config.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(hctx, event)
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, entry outbox.Entry, cause error, dead bool) {
	next := d.now().Add(d.config.Backoff.Delay(entry.Attempts))
	if err := d.store.MarkFailed(ctx, entry.EventID, cause.Error(), next, dead); err != nil {
		logger.Error("failed to record outbox failure", "error", err)
		return
	}
	d.metrics.DeliveryFailed(string(entry.EventType), dead)

	if dead {
		logger.Error("outbox entry dead-lettered", "error", cause)
		telemetry.CaptureWarning("outbox entry dead-lettered", map[string]interface{}{
			"event_id":     entry.EventID.String(),
			"event_type":   string(entry.EventType),
			"aggregate_id": entry.AggregateID.String(),
			"attempts":     entry.Attempts,
			"last_error":   cause.Error(),
		})
		return
	}
	logger.Info("outbox entry scheduled for retry", "next_attempt_at", next)
}
