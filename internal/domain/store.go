package domain

import (
	"context"
	"io"
	"time"
)

// PositionStore is the persistence boundary for positions and their audit
// trail. The store is append/update only; rows are never deleted. Calls for
// the same position are serialized by the caller (the manager holds the
// per-position lock across persistence), so implementations only need to be
// safe for concurrent writes to different positions.
type PositionStore interface {
	// SaveNew inserts a freshly opened position.
	SaveNew(ctx context.Context, p Position) error
	// SavePosition persists the position after any field mutation.
	SavePosition(ctx context.Context, p Position) error
	// AppendAdjustmentEvent appends one immutable adjustment audit record.
	AppendAdjustmentEvent(ctx context.Context, e AdjustmentEvent) error
	// GetByID retrieves a single position; ErrNotFound when unknown.
	GetByID(ctx context.Context, id string) (Position, error)
	// ListOpen returns every position still marked open, for recovery at
	// startup.
	ListOpen(ctx context.Context) ([]Position, error)
}

// SnapshotCollector supplies the latest market snapshot for a symbol. It may
// fail or time out; the monitor loop skips the affected symbol for that tick
// and retries on the next one.
type SnapshotCollector interface {
	Fetch(ctx context.Context, symbol string) (MarketSnapshot, error)
}

// Advisor is the external signal provider consulted (optionally) for open
// positions when no numeric exit rule has fired.
type Advisor interface {
	Recommend(ctx context.Context, p Position, snap MarketSnapshot) (Recommendation, error)
}

// OutcomeSink receives the outcome record emitted on every close. Delivery is
// fire-and-forget from the engine's perspective: failures are logged, never
// propagated.
type OutcomeSink interface {
	EmitOutcome(ctx context.Context, rec OutcomeRecord) error
}

// ArchiveStore provides read access to terminated positions for cold-storage
// archival.
type ArchiveStore interface {
	// ListClosedBefore returns positions closed strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	// ListEventsByPosition returns a position's adjustment events in append
	// order.
	ListEventsByPosition(ctx context.Context, positionID string) ([]AdjustmentEvent, error)
}

// BlobWriter uploads an object to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
