package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/memory"
)

func TestStockRestorer_ContinuesPastMissingVariant(t *testing.T) {
	e := newMemoryEnv(t)
	gone := e.variant(5)
	kept := e.variant(5)
	id := e.placePaid(t,
		line(&gone, 1, "10.00"),
		line(&kept, 2, "10.00"),
	)
	e.store.DeleteVariant(gone)

	res, err := e.svc.CancelOrder(context.Background(), CancelOrderParams{OrderID: id})
	require.NoError(t, err)

	require.NotNil(t, res.Restoration)
	assert.Equal(t, RestoreReport{Restored: 1, Missing: 1, Committed: true}, *res.Restoration)
	assert.Equal(t, 5, e.stockOf(t, kept))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.StockRestorations.WithLabelValues("missing")))
}

func TestStockRestorer_OrderWithoutVariants(t *testing.T) {
	e := newMemoryEnv(t)
	id := e.placePaid(t, line(nil, 2, "4.00"))

	res, err := e.svc.CancelOrder(context.Background(), CancelOrderParams{OrderID: id})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCancelled, res.Status)
	assert.Equal(t, RestoreReport{Skipped: 1, Committed: true}, *res.Restoration)
}

func TestStockRestorer_SkipsConflictingVariant(t *testing.T) {
	store := memory.NewStore()
	uow := &hookedUoW{UnitOfWork: store, store: store}
	e := newEnv(t, uow, store)

	contested := e.variant(5)
	kept := e.variant(5)
	id := e.placePaid(t,
		line(&contested, 1, "10.00"),
		line(&kept, 2, "10.00"),
	)

	// Another writer bumps the contested variant between read and write.
	uow.afterVariantGet = func(vid uuid.UUID) {
		if vid != contested {
			return
		}
		v, ok := store.Variant(vid)
		require.True(t, ok)
		v.Version++
		store.PutVariant(v)
	}

	res, err := e.svc.CancelOrder(context.Background(), CancelOrderParams{OrderID: id})
	require.NoError(t, err)

	require.NotNil(t, res.Restoration)
	assert.Equal(t, RestoreReport{Restored: 1, Conflicts: 1, Committed: true}, *res.Restoration)
	assert.Equal(t, 4, e.stockOf(t, contested))
	assert.Equal(t, 5, e.stockOf(t, kept))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ConcurrencyConflicts.WithLabelValues("variant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.StockRestorations.WithLabelValues("conflict")))
}
