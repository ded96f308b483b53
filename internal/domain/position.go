// Package domain defines the core types of the risk-management engine:
// positions, market snapshots, adjustment events, and the interfaces that
// external collaborators (stores, collectors, advisors, learning adapters)
// must satisfy.
package domain

import "time"

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long positions and -1 for short positions.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is a tradable exposure under active risk management. A position is
// created open and transitions exactly once to closed, after which no field
// may change.
//
// StopLossInitial and TakeProfitInitial are write-once; StopLossCurrent and
// TakeProfitCurrent are the working levels moved by the monitor loop. The
// stop-loss ratchet only tightens: for a long position StopLossCurrent is
// non-decreasing over time, for a short position non-increasing.
type Position struct {
	ID         string
	Symbol     string
	Direction  Direction
	Quantity   float64
	EntryPrice float64

	Status PositionStatus

	StopLossInitial   float64
	TakeProfitInitial float64
	StopLossCurrent   float64
	TakeProfitCurrent float64

	// MaxHolding is the computed holding-time budget, fixed at open.
	MaxHolding time.Duration

	// Confidence is the entry-signal strength in [0,1], supplied by the
	// advisor at open time.
	Confidence float64

	// PeakReturn is the highest favorable unrealized return (percent)
	// observed over the position's life. Non-decreasing.
	PeakReturn float64

	// AdjustmentCount counts accepted stop/take adjustments.
	AdjustmentCount int

	OpenedAt    time.Time
	ClosedAt    *time.Time
	ExitPrice   *float64
	RealizedPnL *float64
	ExitReason  string
}

// UnrealizedReturn computes the current mark-to-market return of the position
// as a percentage of the entry price, signed so that a favorable move is
// positive for both directions.
func (p *Position) UnrealizedReturn(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100 * p.Direction.Sign()
}

// UnrealizedPnL computes the current mark-to-market profit or loss in quote
// currency.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity * p.Direction.Sign()
}

// HoldingTime returns how long the position has been open as of now.
func (p *Position) HoldingTime(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Closed reports whether the position has reached its terminal state.
func (p *Position) Closed() bool {
	return p.Status == PositionStatusClosed
}
