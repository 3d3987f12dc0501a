package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("redis://localhost:6379/2")
	require.NoError(t, err)
	defer client.Close()

	_, err = NewClient("http://localhost:6379")
	assert.Error(t, err)
}

func TestNoopCache(t *testing.T) {
	var c NoopCache
	assert.NoError(t, c.Remove(context.Background(), "order:1"))
	assert.NoError(t, c.RemoveByPattern(context.Background(), "orders:*"))
}

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper()
	d.now = func() time.Time { return now }

	ok, err := d.Claim(ctx, "notify:email:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Claim(ctx, "notify:email:1", time.Hour)
	assert.False(t, ok, "second claim within ttl")

	require.NoError(t, d.Release(ctx, "notify:email:1"))
	ok, _ = d.Claim(ctx, "notify:email:1", time.Hour)
	assert.True(t, ok, "claim after release")

	now = now.Add(2 * time.Hour)
	ok, _ = d.Claim(ctx, "notify:email:1", time.Hour)
	assert.True(t, ok, "claim after expiry")
}

func TestMemoryDeduper_CompleteOutlivesLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper()
	d.now = func() time.Time { return now }

	ok, _ := d.Claim(ctx, "notify:email:1", time.Minute)
	require.True(t, ok)
	done, _ := d.Done(ctx, "notify:email:1")
	assert.False(t, done, "a lease is not done")

	require.NoError(t, d.Complete(ctx, "notify:email:1", 24*time.Hour))
	now = now.Add(time.Hour)

	ok, _ = d.Claim(ctx, "notify:email:1", time.Minute)
	assert.False(t, ok, "done marker blocks claims after the lease")
	done, _ = d.Done(ctx, "notify:email:1")
	assert.True(t, done)
}
