package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrderMetrics holds Prometheus metrics for the order lifecycle, inventory
// restoration and outbox delivery.
//
// All recording methods are safe on a nil receiver so components can run
// without metrics in tests.
type OrderMetrics struct {
	// Order lifecycle
	Transitions          *prometheus.CounterVec
	RefundsIssued        *prometheus.CounterVec
	RefundAmount         *prometheus.CounterVec
	ConcurrencyConflicts *prometheus.CounterVec

	// Inventory
	StockRestorations *prometheus.CounterVec
	InventoryDrift    *prometheus.CounterVec

	// Outbox
	OutboxEnqueued  *prometheus.CounterVec
	OutboxDelivered *prometheus.CounterVec
	OutboxFailed    *prometheus.CounterVec
	OutboxDead      *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
}

// NewOrderMetrics creates the metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewOrderMetrics(namespace string, reg prometheus.Registerer) *OrderMetrics {
	if namespace == "" {
		namespace = "orderflow"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &OrderMetrics{
		// =======================================================================
		// Order lifecycle
		// =======================================================================
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "operations_total",
				Help:      "Order operations by outcome",
			},
			[]string{"operation", "result"}, // result: ok, rejected, conflict, error
		),
		RefundsIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "refunds_issued_total",
				Help:      "Refunds recorded against orders",
			},
			[]string{"kind", "currency"}, // kind: full, partial
		),
		RefundAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "refund_amount_total",
				Help:      "Refunded amount in major currency units",
			},
			[]string{"currency"},
		),
		ConcurrencyConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "concurrency_conflicts_total",
				Help:      "Optimistic version mismatches on write",
			},
			[]string{"aggregate"}, // aggregate: order, variant
		),

		// =======================================================================
		// Inventory
		// =======================================================================
		StockRestorations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inventory",
				Name:      "stock_restorations_total",
				Help:      "Order lines processed by the stock restoration cascade",
			},
			[]string{"result"}, // result: restored, missing, rejected, conflict, error
		),
		InventoryDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inventory",
				Name:      "stock_restoration_failures_total",
				Help:      "Restoration commits that failed after the order transition committed",
			},
			[]string{"operation"},
		),

		// =======================================================================
		// Outbox
		// =======================================================================
		OutboxEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "enqueued_total",
				Help:      "Events written to the outbox",
			},
			[]string{"event_type"},
		),
		OutboxDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "delivered_total",
				Help:      "Outbox entries delivered to every handler",
			},
			[]string{"event_type"},
		),
		OutboxFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "failed_attempts_total",
				Help:      "Delivery attempts with at least one failed handler",
			},
			[]string{"event_type"},
		),
		OutboxDead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "dead_total",
				Help:      "Outbox entries that exhausted their retries",
			},
			[]string{"event_type"},
		),
		HandlerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "handler_failures_total",
				Help:      "Handler invocations that returned an error or panicked",
			},
			[]string{"handler", "event_type"},
		),
		DeliveryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "delivery_latency_seconds",
				Help:      "Time from enqueue to successful delivery",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 60, 300, 1800},
			},
			[]string{"event_type"},
		),
	}
}

func (m *OrderMetrics) Operation(operation, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(operation, result).Inc()
}

func (m *OrderMetrics) Refund(kind, currency string, amount float64) {
	if m == nil {
		return
	}
	m.RefundsIssued.WithLabelValues(kind, currency).Inc()
	if amount > 0 {
		m.RefundAmount.WithLabelValues(currency).Add(amount)
	}
}

func (m *OrderMetrics) Conflict(aggregate string) {
	if m == nil {
		return
	}
	m.ConcurrencyConflicts.WithLabelValues(aggregate).Inc()
}

func (m *OrderMetrics) Restoration(result string) {
	if m == nil {
		return
	}
	m.StockRestorations.WithLabelValues(result).Inc()
}

func (m *OrderMetrics) Drift(operation string) {
	if m == nil {
		return
	}
	m.InventoryDrift.WithLabelValues(operation).Inc()
}

func (m *OrderMetrics) Enqueued(eventType string, n int) {
	if m == nil {
		return
	}
	m.OutboxEnqueued.WithLabelValues(eventType).Add(float64(n))
}

func (m *OrderMetrics) Delivered(eventType string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.OutboxDelivered.WithLabelValues(eventType).Inc()
	m.DeliveryLatency.WithLabelValues(eventType).Observe(latencySeconds)
}

func (m *OrderMetrics) DeliveryFailed(eventType string, dead bool) {
	if m == nil {
		return
	}
	m.OutboxFailed.WithLabelValues(eventType).Inc()
	if dead {
		m.OutboxDead.WithLabelValues(eventType).Inc()
	}
}

func (m *OrderMetrics) HandlerFailed(handler, eventType string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(handler, eventType).Inc()
}
