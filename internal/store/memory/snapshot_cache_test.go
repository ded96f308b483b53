package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradeguard/internal/domain"
)

func TestSnapshotCacheFetch(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(10 * time.Second)

	snap := domain.MarketSnapshot{Symbol: "BTCUSDT", Price: 50000, Time: time.Now()}
	require.NoError(t, c.SetSnapshot(ctx, snap))

	got, err := c.Fetch(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, got.Price)

	_, err = c.Fetch(ctx, "ETHUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotCacheStaleness(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(10 * time.Second)

	old := domain.MarketSnapshot{Symbol: "BTCUSDT", Price: 50000, Time: time.Now().Add(-time.Minute)}
	require.NoError(t, c.SetSnapshot(ctx, old))

	_, err := c.Fetch(ctx, "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrStaleSnapshot)

	// A fresh write replaces the stale entry.
	require.NoError(t, c.SetSnapshot(ctx, domain.MarketSnapshot{Symbol: "BTCUSDT", Price: 50100, Time: time.Now()}))
	got, err := c.Fetch(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50100.0, got.Price)
}

func TestSnapshotCacheZeroMaxStale(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(0)

	old := domain.MarketSnapshot{Symbol: "BTCUSDT", Price: 50000, Time: time.Now().Add(-time.Hour)}
	require.NoError(t, c.SetSnapshot(ctx, old))

	got, err := c.Fetch(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, got.Price)
}
