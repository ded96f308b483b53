package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantfold/tradeguard/internal/domain"
)

// SnapshotCache keeps the latest MarketSnapshot per symbol in a map. It backs
// paper mode and tests the same way the Redis cache backs live mode.
type SnapshotCache struct {
	mu       sync.Mutex
	maxStale time.Duration
	latest   map[string]domain.MarketSnapshot
}

// NewSnapshotCache creates an empty cache. maxStale bounds how old a snapshot
// may be before Fetch rejects it; zero disables the check.
func NewSnapshotCache(maxStale time.Duration) *SnapshotCache {
	return &SnapshotCache{
		maxStale: maxStale,
		latest:   make(map[string]domain.MarketSnapshot),
	}
}

// SetSnapshot stores the latest snapshot for its symbol.
func (c *SnapshotCache) SetSnapshot(_ context.Context, snap domain.MarketSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[snap.Symbol] = snap
	return nil
}

// Fetch returns the latest snapshot for a symbol. It returns
// domain.ErrNotFound when no snapshot exists and domain.ErrStaleSnapshot when
// the stored snapshot is older than the staleness bound.
func (c *SnapshotCache) Fetch(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.latest[symbol]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	if c.maxStale > 0 && time.Since(snap.Time) > c.maxStale {
		return domain.MarketSnapshot{}, fmt.Errorf("memory: snapshot %s aged %s: %w",
			symbol, time.Since(snap.Time).Round(time.Millisecond), domain.ErrStaleSnapshot)
	}
	return snap, nil
}

var _ domain.SnapshotCollector = (*SnapshotCache)(nil)
