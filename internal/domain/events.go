package domain

import "time"

// AdjustedField identifies which protective level an adjustment changed.
type AdjustedField string

const (
	FieldStopLoss   AdjustedField = "stop_loss"
	FieldTakeProfit AdjustedField = "take_profit"
)

// AdjustmentEvent is an immutable audit record of one accepted level
// adjustment. The market snapshot that motivated the adjustment is retained
// verbatim for later analysis.
type AdjustmentEvent struct {
	ID         string
	PositionID string
	Field      AdjustedField
	OldValue   float64
	NewValue   float64
	Reason     string
	Snapshot   MarketSnapshot
	Time       time.Time
}

// OutcomeRecord is emitted to the learning collaborator when a position
// closes. The learning adapter uses it to tune global policy constants; the
// engine itself never reads outcomes back.
type OutcomeRecord struct {
	PositionID  string        `json:"position_id"`
	Symbol      string        `json:"symbol"`
	Direction   Direction     `json:"direction"`
	Success     bool          `json:"success"`
	RealizedPnL float64       `json:"realized_pnl"`
	Confidence  float64       `json:"confidence"`
	Holding     time.Duration `json:"holding"`
	ExitReason  string        `json:"exit_reason"`
	ClosedAt    time.Time     `json:"closed_at"`
}
