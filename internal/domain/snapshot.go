package domain

import "time"

// Trend is the coarse market direction reported by the indicator collector.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Agrees reports whether the trend points the same way as the position
// direction. A flat trend agrees with nothing and opposes nothing.
func (t Trend) Agrees(d Direction) bool {
	return (t == TrendUp && d == DirectionLong) || (t == TrendDown && d == DirectionShort)
}

// Opposes reports whether the trend points against the position direction.
func (t Trend) Opposes(d Direction) bool {
	return (t == TrendUp && d == DirectionShort) || (t == TrendDown && d == DirectionLong)
}

// MarketSnapshot is one evaluation's view of a symbol, supplied by the
// external market/indicator collector. The engine consumes snapshots; it
// never computes indicators itself.
type MarketSnapshot struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	RSI        float64   `json:"rsi"`
	Trend      Trend     `json:"trend"`
	Volatility float64   `json:"volatility"`
	Time       time.Time `json:"time"`
}
