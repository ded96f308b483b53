// Package memory provides an in-process implementation of the domain store
// interfaces, used by the paper trading mode and by tests that do not want a
// database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quantfold/tradeguard/internal/domain"
)

// PositionStore keeps positions, adjustment events, and outcomes in maps. It
// honors the same append/update-only discipline as the PostgreSQL store.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	events    map[string][]domain.AdjustmentEvent
	outcomes  map[string]domain.OutcomeRecord
}

// NewPositionStore creates an empty in-memory store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]domain.Position),
		events:    make(map[string][]domain.AdjustmentEvent),
		outcomes:  make(map[string]domain.OutcomeRecord),
	}
}

// SaveNew inserts a freshly opened position.
func (s *PositionStore) SaveNew(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

// SavePosition replaces the stored copy of the position.
func (s *PositionStore) SavePosition(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[p.ID] = p
	return nil
}

// AppendAdjustmentEvent appends one audit record.
func (s *PositionStore) AppendAdjustmentEvent(_ context.Context, e domain.AdjustmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.PositionID] = append(s.events[e.PositionID], e)
	return nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// ListOpen returns every stored position still marked open.
func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []domain.Position
	for _, p := range s.positions {
		if !p.Closed() {
			open = append(open, p)
		}
	}
	return open, nil
}

// ListClosedBefore returns positions closed strictly before the cutoff.
func (s *PositionStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closed []domain.Position
	for _, p := range s.positions {
		if p.Closed() && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			closed = append(closed, p)
		}
	}
	return closed, nil
}

// ListEventsByPosition returns a position's adjustment events in append order.
func (s *PositionStore) ListEventsByPosition(_ context.Context, positionID string) ([]domain.AdjustmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]domain.AdjustmentEvent, len(s.events[positionID]))
	copy(events, s.events[positionID])
	return events, nil
}

// EmitOutcome stores the outcome record, keyed by position.
func (s *PositionStore) EmitOutcome(_ context.Context, rec domain.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outcomes[rec.PositionID]; !ok {
		s.outcomes[rec.PositionID] = rec
	}
	return nil
}

// Outcome returns the recorded outcome for a position, if any.
func (s *PositionStore) Outcome(positionID string) (domain.OutcomeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outcomes[positionID]
	return rec, ok
}

var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.ArchiveStore  = (*PositionStore)(nil)
	_ domain.OutcomeSink   = (*PositionStore)(nil)
)
