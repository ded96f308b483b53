package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/tradeguard/internal/domain"
)

// SnapshotCache stores the latest MarketSnapshot per symbol as JSON at key
// "snapshot:{symbol}". The feed writes snapshots; the monitor reads them
// through the domain.SnapshotCollector interface.
type SnapshotCache struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxStale time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. ttl
// bounds how long an entry lives in Redis; maxStale bounds how old a snapshot
// may be before Fetch rejects it with domain.ErrStaleSnapshot.
func NewSnapshotCache(c *Client, ttl, maxStale time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl, maxStale: maxStale}
}

func snapshotKey(symbol string) string {
	return "snapshot:" + symbol
}

// SetSnapshot stores the latest snapshot for its symbol.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Symbol, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(snap.Symbol), payload, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

// Fetch returns the latest snapshot for a symbol. It returns
// domain.ErrNotFound when no snapshot exists and domain.ErrStaleSnapshot when
// the stored snapshot is older than the configured staleness bound.
func (sc *SnapshotCache) Fetch(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	raw, err := sc.rdb.Get(ctx, snapshotKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", symbol, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", symbol, err)
	}

	if sc.maxStale > 0 && time.Since(snap.Time) > sc.maxStale {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: snapshot %s aged %s: %w",
			symbol, time.Since(snap.Time).Round(time.Millisecond), domain.ErrStaleSnapshot)
	}

	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotCollector = (*SnapshotCache)(nil)
