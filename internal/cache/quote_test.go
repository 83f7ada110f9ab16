package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"OutcomeMarket/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *cache.QuoteCache {
	t.Helper()
	addr := os.Getenv("BWM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping Redis test (set BWM_TEST_REDIS_ADDR to run)")
	}
	qc, err := cache.Connect(context.Background(), cache.Options{Addr: addr, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() { qc.Close() })
	return qc
}

func TestQuoteCache_RoundTripAndOrdering(t *testing.T) {
	qc := connect(t)
	ctx := context.Background()
	pool := "0x000000000000000000000000000000000000b001-" + t.Name()

	_, err := qc.Get(ctx, pool)
	require.ErrorIs(t, err, cache.ErrNotFound)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, qc.Set(ctx, cache.Quote{Pool: pool, WhitePrice: "0.6", BlackPrice: "0.4", Phase: "Ongoing", EventID: 3, Sequence: 10, UpdatedAt: at}))
	require.NoError(t, qc.Set(ctx, cache.Quote{Pool: pool, WhitePrice: "0.5", BlackPrice: "0.5", Phase: "None", Sequence: 9, UpdatedAt: at}))

	q, err := qc.Get(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, "0.6", q.WhitePrice)
	assert.Equal(t, "Ongoing", q.Phase)
	assert.Equal(t, uint64(3), q.EventID)
	assert.Equal(t, int64(10), q.Sequence)
	assert.True(t, at.Equal(q.UpdatedAt))
}
