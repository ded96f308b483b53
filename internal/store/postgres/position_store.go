package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/tradeguard/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, direction, quantity, entry_price, status,
	stop_loss_initial, take_profit_initial, stop_loss_current, take_profit_current,
	max_holding_seconds, confidence, peak_return, adjustment_count,
	opened_at, closed_at, exit_price, realized_pnl, exit_reason`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string
	var maxHoldingSeconds int64
	var exitReason *string

	err := row.Scan(
		&p.ID, &p.Symbol, &direction, &p.Quantity, &p.EntryPrice, &status,
		&p.StopLossInitial, &p.TakeProfitInitial, &p.StopLossCurrent, &p.TakeProfitCurrent,
		&maxHoldingSeconds, &p.Confidence, &p.PeakReturn, &p.AdjustmentCount,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL, &exitReason,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	p.MaxHolding = time.Duration(maxHoldingSeconds) * time.Second
	if exitReason != nil {
		p.ExitReason = *exitReason
	}
	return p, nil
}

// SaveNew inserts a freshly opened position.
func (s *PositionStore) SaveNew(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, direction, quantity, entry_price, status,
			stop_loss_initial, take_profit_initial, stop_loss_current, take_profit_current,
			max_holding_seconds, confidence, peak_return, adjustment_count,
			opened_at, closed_at, exit_price, realized_pnl, exit_reason, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Direction), p.Quantity, p.EntryPrice, string(p.Status),
		p.StopLossInitial, p.TakeProfitInitial, p.StopLossCurrent, p.TakeProfitCurrent,
		int64(p.MaxHolding/time.Second), p.Confidence, p.PeakReturn, p.AdjustmentCount,
		p.OpenedAt, p.ClosedAt, p.ExitPrice, p.RealizedPnL, nullable(p.ExitReason),
	)
	if err != nil {
		return fmt.Errorf("postgres: save new position %s: %w", p.ID, err)
	}
	return nil
}

// SavePosition persists the mutable fields of a position. Initial levels and
// entry parameters are deliberately left out of the update: they are
// write-once.
func (s *PositionStore) SavePosition(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			status              = $2,
			stop_loss_current   = $3,
			take_profit_current = $4,
			peak_return         = $5,
			adjustment_count    = $6,
			closed_at           = $7,
			exit_price          = $8,
			realized_pnl        = $9,
			exit_reason         = $10,
			updated_at          = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Status),
		p.StopLossCurrent, p.TakeProfitCurrent,
		p.PeakReturn, p.AdjustmentCount,
		p.ClosedAt, p.ExitPrice, p.RealizedPnL, nullable(p.ExitReason),
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every position still marked open, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListClosedBefore returns positions closed strictly before the cutoff,
// oldest first, for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
