package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/tradeguard/internal/domain"
)

// OutcomeStore persists close outcomes for the learning adapter. It
// implements domain.OutcomeSink; a second sink (the redis bus) typically runs
// alongside it so the adapter can consume either.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given connection pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// EmitOutcome records the outcome of one closed position. Re-emitting for the
// same position is a no-op, which keeps the close path idempotent with
// respect to persistence retries.
func (s *OutcomeStore) EmitOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	const query = `
		INSERT INTO outcomes (position_id, symbol, direction, success, realized_pnl, confidence, holding_seconds, exit_reason, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (position_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.PositionID, rec.Symbol, string(rec.Direction), rec.Success,
		rec.RealizedPnL, rec.Confidence, int64(rec.Holding/time.Second),
		rec.ExitReason, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: emit outcome %s: %w", rec.PositionID, err)
	}
	return nil
}

var _ domain.OutcomeSink = (*OutcomeStore)(nil)
