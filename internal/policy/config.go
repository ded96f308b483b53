// Package policy computes protective levels for positions: the initial
// stop-loss / take-profit / holding-time budget at open, and the trailing
// candidates recomputed on every monitor tick. All functions are pure; the
// manager applies the final ratchet and noise guards.
package policy

import "time"

// Config holds the tunable policy constants. The engine treats it as an
// injected snapshot: the external learning adapter may rewrite these values
// on its own schedule and the engine picks them up on the next Open.
type Config struct {
	// MinConfidence gates Open; entries below it are rejected.
	MinConfidence float64 `toml:"min_confidence"`

	// TakeProfitBasePct and TakeProfitConfidencePct define the initial
	// take-profit distance: base + confidence * slope, in percent.
	TakeProfitBasePct       float64 `toml:"take_profit_base_pct"`
	TakeProfitConfidencePct float64 `toml:"take_profit_confidence_pct"`

	// TrendBoost scales the take-profit distance when the trend agrees with
	// the entry direction; TrendFade scales it when the trend opposes.
	TrendBoost float64 `toml:"trend_boost"`
	TrendFade  float64 `toml:"trend_fade"`

	// RewardToRisk places the stop at reward/RewardToRisk from entry.
	RewardToRisk float64 `toml:"reward_to_risk"`

	// MaxStopLossPct bounds the stop to at most this adverse move from entry.
	MaxStopLossPct float64 `toml:"max_stop_loss_pct"`

	// Holding-time budget parameters.
	BaseHolding           time.Duration `toml:"base_holding"`
	HighConfidenceHolding time.Duration `toml:"high_confidence_holding"`
	LowConfidenceHolding  time.Duration `toml:"low_confidence_holding"`
	HighConfidence        float64       `toml:"high_confidence"`
	LowConfidence         float64       `toml:"low_confidence"`
	HighVolatility        float64       `toml:"high_volatility"`
	LowVolatility         float64       `toml:"low_volatility"`
	VolatileScale         float64       `toml:"volatile_scale"`
	CalmScale             float64       `toml:"calm_scale"`
	MinHolding            time.Duration `toml:"min_holding"`
	MaxHolding            time.Duration `toml:"max_holding"`

	// TrailFraction is how far the stop trails toward the current price:
	// the stop moves this fraction of the distance between price and the
	// previous stop on each favorable tick.
	TrailFraction float64 `toml:"trail_fraction"`

	// Take-profit retargeting multipliers applied to the current level.
	ExtendFactor       float64 `toml:"extend_factor"`
	ContractFactor     float64 `toml:"contract_factor"`
	FastContractFactor float64 `toml:"fast_contract_factor"`

	// RSIOverbought / RSIOversold bound the momentum check used when
	// retargeting the take-profit.
	RSIOverbought float64 `toml:"rsi_overbought"`
	RSIOversold   float64 `toml:"rsi_oversold"`

	// NoiseThreshold is the minimum relative change, as a fraction of the
	// current value, for a take-profit adjustment to be applied at all.
	NoiseThreshold float64 `toml:"noise_threshold"`
}

// Defaults returns the policy constants the engine ships with. The learning
// adapter overrides individual values through configuration.
func Defaults() Config {
	return Config{
		MinConfidence:           0,
		TakeProfitBasePct:       2.0,
		TakeProfitConfidencePct: 3.0,
		TrendBoost:              1.1,
		TrendFade:               0.9,
		RewardToRisk:            2.0,
		MaxStopLossPct:          10.0,
		BaseHolding:             300 * time.Second,
		HighConfidenceHolding:   180 * time.Second,
		LowConfidenceHolding:    600 * time.Second,
		HighConfidence:          0.8,
		LowConfidence:           0.5,
		HighVolatility:          0.03,
		LowVolatility:           0.01,
		VolatileScale:           0.7,
		CalmScale:               1.3,
		MinHolding:              60 * time.Second,
		MaxHolding:              1800 * time.Second,
		TrailFraction:           0.3,
		ExtendFactor:            1.05,
		ContractFactor:          0.95,
		FastContractFactor:      0.90,
		RSIOverbought:           70,
		RSIOversold:             30,
		NoiseThreshold:          0.02,
	}
}
