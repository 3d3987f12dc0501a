package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/handler"
	"github.com/dukerupert/orderflow/internal/handler/api"
	"github.com/dukerupert/orderflow/internal/memory"
	"github.com/dukerupert/orderflow/internal/middleware"
	"github.com/dukerupert/orderflow/internal/service"
	"github.com/dukerupert/orderflow/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type apiEnv struct {
	store   *memory.Store
	server  http.Handler
	variant uuid.UUID
}

func newAPIEnv(t *testing.T, checks map[string]handler.Pinger) *apiEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := prometheus.NewRegistry()
	store := memory.NewStore()
	metrics := telemetry.NewOrderMetrics("test", reg)
	svc := service.NewOrderService(store, store, service.NewStockRestorer(store, metrics, logger), metrics, logger)

	variant := uuid.New()
	store.PutVariant(domain.ProductVariant{
		ID:            variant,
		ProductID:     uuid.New(),
		SKU:           "KEN-AA-12OZ",
		Price:         domain.MustMoney("12.50", "USD"),
		StockQuantity: 10,
		IsActive:      true,
	})

	r := NewRouter(APIDeps{
		Logger:         logger,
		OrderHandler:   api.NewOrderHandler(svc, logger),
		HealthHandler:  handler.NewHealthHandler(checks),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HTTPMetrics:    middleware.NewMetrics("test", reg),
	})
	return &apiEnv{store: store, server: r, variant: variant}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) createOrder(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/orders", map[string]any{
		"shipping_address_id": uuid.New(),
		"billing_address_id":  uuid.New(),
		"currency":            "USD",
		"items": []map[string]any{{
			"product_id": uuid.New(),
			"variant_id": e.variant,
			"quantity":   2,
			"unit_price": "12.50",
			"name":       "Kenya AA",
		}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var detail domain.OrderDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.Equal(t, "/api/orders/"+detail.ID.String(), rec.Header().Get("Location"))
	return detail.ID.String()
}

type errorEnvelope struct {
	Error handler.ErrorBody `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Error
}

func TestAPI_Lifecycle(t *testing.T) {
	e := newAPIEnv(t, nil)
	id := e.createOrder(t)
	base := "/api/orders/" + id

	rec := e.do(t, http.MethodPost, base+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, base+"/ship", map[string]any{"tracking_number": "1Z999"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, base+"/partial-refund", map[string]any{"amount": "5.00", "currency": "USD", "reason": "dented bag"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome service.RefundOutcome
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&outcome))
	assert.Equal(t, domain.OrderStatusShipped, outcome.Status)

	rec = e.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail domain.OrderDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	require.NotNil(t, detail.RefundedAmount)
	assert.Equal(t, "5.00 USD", detail.RefundedAmount.String())
	assert.Len(t, detail.PartialRefunds, 1)
}

func TestAPI_CancelRestoresStock(t *testing.T) {
	e := newAPIEnv(t, nil)
	id := e.createOrder(t)

	v, _ := e.store.Variant(e.variant)
	require.Equal(t, 8, v.StockQuantity)

	rec := e.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", map[string]any{"reason": "customer request"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result service.TransitionResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, domain.OrderStatusCancelled, result.Status)
	require.NotNil(t, result.Restoration)
	assert.Equal(t, 1, result.Restoration.Restored)

	v, _ = e.store.Variant(e.variant)
	assert.Equal(t, 10, v.StockQuantity)
}

func TestAPI_ErrorMapping(t *testing.T) {
	e := newAPIEnv(t, nil)
	id := e.createOrder(t)
	base := "/api/orders/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad id", http.MethodGet, "/api/orders/not-a-uuid", nil, http.StatusBadRequest, domain.EINVALID},
		{"unknown order", http.MethodGet, "/api/orders/" + uuid.NewString(), nil, http.StatusNotFound, domain.ENOTFOUND},
		{"ship before pay", http.MethodPost, base + "/ship", nil, http.StatusConflict, domain.EINVALIDSTATUS},
		{"refund unpaid", http.MethodPost, base + "/refund", map[string]any{"reason": "x"}, http.StatusConflict, domain.EINVALIDSTATUS},
		{"malformed body", http.MethodPost, base + "/cancel", map[string]any{"unexpected": true}, http.StatusBadRequest, domain.EINVALID},
		{"missing fields", http.MethodPost, "/api/orders", map[string]any{}, http.StatusBadRequest, domain.EINVALID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestAPI_RefundAmountRejected(t *testing.T) {
	e := newAPIEnv(t, nil)
	id := e.createOrder(t)
	base := "/api/orders/" + id
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/pay", nil).Code)

	rec := e.do(t, http.MethodPost, base+"/partial-refund", map[string]any{"amount": "99.00", "currency": "USD"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.EINVALIDAMOUNT, decodeError(t, rec).Code)

	rec = e.do(t, http.MethodPost, base+"/partial-refund", map[string]any{"amount": "1.00", "currency": "EUR"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.EINVALIDCURRENCY, decodeError(t, rec).Code)
}

func TestAPI_ValidationFields(t *testing.T) {
	e := newAPIEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/orders", map[string]any{"currency": "USD"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Contains(t, body.Fields, "items")
	assert.NotEmpty(t, body.RequestID)
}

func TestAPI_NotFoundRoute(t *testing.T) {
	e := newAPIEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	healthy := newAPIEnv(t, map[string]handler.Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
	})
	rec := healthy.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	degraded := newAPIEnv(t, map[string]handler.Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rec = degraded.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAPI_Metrics(t *testing.T) {
	e := newAPIEnv(t, nil)
	e.createOrder(t)

	rec := e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="POST",route="POST /api/orders",status="201"} 1`)
}
