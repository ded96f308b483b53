// Package exitrule decides when an open position should be closed. Each rule
// is evaluated independently against the latest market snapshot; the union of
// triggered reasons is returned, and any non-empty result means close.
package exitrule

import "time"

// Config holds the exit-rule thresholds. Operators tune them through
// configuration rather than code; Defaults returns the nominal values.
type Config struct {
	// LossFloorPct closes any position whose unrealized return falls below
	// this floor (percent, negative), independent of the formal stop.
	LossFloorPct float64 `toml:"loss_floor_pct"`

	// QuickProfitPct / QuickProfitDwell lock in small fast gains once the
	// position has been open past the minimum dwell.
	QuickProfitPct   float64       `toml:"quick_profit_pct"`
	QuickProfitDwell time.Duration `toml:"quick_profit_dwell"`

	// RSIOverbought / RSIOversold are the momentum-exhaustion extremes.
	RSIOverbought float64 `toml:"rsi_overbought"`
	RSIOversold   float64 `toml:"rsi_oversold"`

	// VolatilitySpike and VolatilityProfitPct protect gains when volatility
	// jumps while the position is already profitable.
	VolatilitySpike     float64 `toml:"volatility_spike"`
	VolatilityProfitPct float64 `toml:"volatility_profit_pct"`

	// GivebackActivationPct arms the trailing-giveback rule once the peak
	// return exceeds it. The tolerance shrinks as the peak grows.
	GivebackActivationPct float64 `toml:"giveback_activation_pct"`
	SmallPeakPct          float64 `toml:"small_peak_pct"`
	MediumPeakPct         float64 `toml:"medium_peak_pct"`
	SmallPeakTolerance    float64 `toml:"small_peak_tolerance"`
	MediumPeakTolerance   float64 `toml:"medium_peak_tolerance"`
	LargePeakTolerance    float64 `toml:"large_peak_tolerance"`

	// SustainedProfitPct / SustainedProfitAfter form the secondary profit
	// lock for slow-moving winners.
	SustainedProfitPct   float64       `toml:"sustained_profit_pct"`
	SustainedProfitAfter time.Duration `toml:"sustained_profit_after"`
}

// Defaults returns the exit thresholds from the engine's reference tuning.
func Defaults() Config {
	return Config{
		LossFloorPct:          -0.5,
		QuickProfitPct:        0.2,
		QuickProfitDwell:      30 * time.Second,
		RSIOverbought:         75,
		RSIOversold:           25,
		VolatilitySpike:       0.05,
		VolatilityProfitPct:   0.3,
		GivebackActivationPct: 0.2,
		SmallPeakPct:          2.0,
		MediumPeakPct:         5.0,
		SmallPeakTolerance:    0.30,
		MediumPeakTolerance:   0.20,
		LargePeakTolerance:    0.10,
		SustainedProfitPct:    1.0,
		SustainedProfitAfter:  120 * time.Second,
	}
}
