package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantfold/tradeguard/internal/domain"
)

// AppendAdjustmentEvent appends one immutable adjustment audit record. The
// snapshot is stored as JSONB for later analysis; the seq column preserves
// the per-position append order.
func (s *PositionStore) AppendAdjustmentEvent(ctx context.Context, e domain.AdjustmentEvent) error {
	snapJSON, err := json.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot for event %s: %w", e.ID, err)
	}

	const query = `
		INSERT INTO adjustment_events (id, position_id, field, old_value, new_value, reason, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.PositionID, string(e.Field), e.OldValue, e.NewValue, e.Reason, snapJSON, e.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: append adjustment event %s: %w", e.ID, err)
	}
	return nil
}

// ListEventsByPosition returns a position's adjustment events in append order.
func (s *PositionStore) ListEventsByPosition(ctx context.Context, positionID string) ([]domain.AdjustmentEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, field, old_value, new_value, reason, snapshot, created_at
		 FROM adjustment_events
		 WHERE position_id = $1
		 ORDER BY seq ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", positionID, err)
	}
	defer rows.Close()

	var events []domain.AdjustmentEvent
	for rows.Next() {
		var e domain.AdjustmentEvent
		var field string
		var snapJSON []byte

		if err := rows.Scan(&e.ID, &e.PositionID, &field, &e.OldValue, &e.NewValue, &e.Reason, &snapJSON, &e.Time); err != nil {
			return nil, fmt.Errorf("postgres: scan event for %s: %w", positionID, err)
		}
		e.Field = domain.AdjustedField(field)
		if err := json.Unmarshal(snapJSON, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal snapshot for event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Compile-time interface checks.
var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.ArchiveStore  = (*PositionStore)(nil)
)
