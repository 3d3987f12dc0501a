package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOrderMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics("test", reg)

	m.Operation("cancel", "ok")
	m.Refund("partial", "USD", 12.5)
	m.Refund("full", "USD", 7.5)
	m.DeliveryFailed("order.cancelled", true)
	m.DeliveryFailed("order.cancelled", false)
	m.Enqueued("order.paid", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("cancel", "ok")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.RefundAmount.WithLabelValues("USD")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxFailed.WithLabelValues("order.cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDead.WithLabelValues("order.cancelled")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxEnqueued.WithLabelValues("order.paid")))
}

func TestOrderMetrics_NilReceiver(t *testing.T) {
	var m *OrderMetrics
	assert.NotPanics(t, func() {
		m.Operation("pay", "ok")
		m.Refund("full", "USD", 1)
		m.Conflict("order")
		m.Restoration("restored")
		m.Drift("cancel")
		m.Enqueued("order.paid", 1)
		m.Delivered("order.paid", 0.1)
		m.DeliveryFailed("order.paid", true)
		m.HandlerFailed("customer_email", "order.paid")
	})
}

func TestCaptureDisabled(t *testing.T) {
	sentryEnabled = false
	assert.NotPanics(t, func() {
		CaptureError(assert.AnError, map[string]interface{}{"op": "test"})
		CaptureWarning("dead letter", nil)
	})
}
