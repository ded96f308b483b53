package policy

import (
	"time"

	"github.com/quantfold/tradeguard/internal/domain"
)

// Levels bundles the protective levels computed at open.
type Levels struct {
	StopLoss   float64
	TakeProfit float64
	MaxHolding time.Duration
}

// ComputeInitialLevels derives the initial stop-loss, take-profit, and
// holding-time budget for a new position. The take-profit distance grows with
// entry confidence and is widened when the trend agrees with the direction;
// the stop is placed at 1/RewardToRisk of the reward distance so the
// risk:reward ratio holds by construction.
func ComputeInitialLevels(cfg Config, dir domain.Direction, entryPrice, confidence float64, snap domain.MarketSnapshot) Levels {
	sign := dir.Sign()

	tpPct := cfg.TakeProfitBasePct + confidence*cfg.TakeProfitConfidencePct
	if snap.Trend.Agrees(dir) {
		tpPct *= cfg.TrendBoost
	} else if snap.Trend.Opposes(dir) {
		tpPct *= cfg.TrendFade
	}

	takeProfit := entryPrice * (1 + sign*tpPct/100)

	reward := takeProfit - entryPrice
	if reward < 0 {
		reward = -reward
	}
	stopLoss := entryPrice - sign*reward/cfg.RewardToRisk

	// Sanity bound: the stop may not imply more than MaxStopLossPct adverse
	// movement from entry.
	floor := entryPrice * (1 - sign*cfg.MaxStopLossPct/100)
	if dir == domain.DirectionLong && stopLoss < floor {
		stopLoss = floor
	} else if dir == domain.DirectionShort && stopLoss > floor {
		stopLoss = floor
	}

	return Levels{
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		MaxHolding: computeMaxHolding(cfg, confidence, snap.Volatility),
	}
}

// computeMaxHolding scales the holding budget by entry confidence and current
// volatility: confident entries get a short leash, uncertain ones more room,
// and volatile markets tighten the budget further.
func computeMaxHolding(cfg Config, confidence, volatility float64) time.Duration {
	holding := cfg.BaseHolding
	if confidence >= cfg.HighConfidence {
		holding = cfg.HighConfidenceHolding
	} else if confidence < cfg.LowConfidence {
		holding = cfg.LowConfidenceHolding
	}

	if volatility > cfg.HighVolatility {
		holding = time.Duration(float64(holding) * cfg.VolatileScale)
	} else if volatility < cfg.LowVolatility {
		holding = time.Duration(float64(holding) * cfg.CalmScale)
	}

	if holding < cfg.MinHolding {
		holding = cfg.MinHolding
	}
	if holding > cfg.MaxHolding {
		holding = cfg.MaxHolding
	}
	return holding
}

// ComputeAdjustedStopLoss returns the stop-loss candidate for the current
// price. When the price has moved in the position's favor the stop trails a
// fixed fraction of the distance between the price and the previous stop;
// when the price has moved against the position the current stop is returned
// unchanged. The manager enforces the tightening ratchet as a final guard
// regardless.
func ComputeAdjustedStopLoss(cfg Config, p domain.Position, currentPrice float64) float64 {
	if p.UnrealizedReturn(currentPrice) <= 0 {
		return p.StopLossCurrent
	}

	// Trail: move the stop TrailFraction of the way from the price back to
	// the old stop, on the protective side.
	return currentPrice - cfg.TrailFraction*(currentPrice-p.StopLossCurrent)
}

// ComputeAdjustedTakeProfit returns the take-profit candidate for the current
// price and snapshot. Momentum continuation extends the target, exhausted
// momentum contracts it, and an unfavorable move since entry contracts it
// harder to favor a faster exit. The manager applies the noise threshold
// before accepting the candidate.
func ComputeAdjustedTakeProfit(cfg Config, p domain.Position, currentPrice float64, snap domain.MarketSnapshot) float64 {
	ret := p.UnrealizedReturn(currentPrice)

	if ret < 0 {
		// Losing ground: reduce ambition.
		return scaleTarget(p, cfg.FastContractFactor)
	}

	if rsiExtremeAgainst(cfg, p.Direction, snap.RSI) {
		return scaleTarget(p, cfg.ContractFactor)
	}

	if snap.Trend.Agrees(p.Direction) {
		return scaleTarget(p, cfg.ExtendFactor)
	}

	return p.TakeProfitCurrent
}

// scaleTarget moves the take-profit away from (factor > 1) or toward
// (factor < 1) the entry. For shorts the factor is mirrored so "extend"
// always means a more ambitious target.
func scaleTarget(p domain.Position, factor float64) float64 {
	if p.Direction == domain.DirectionShort {
		factor = 2 - factor
	}
	return p.TakeProfitCurrent * factor
}

// rsiExtremeAgainst reports whether the oscillator is beyond the extreme
// threshold working against the position's direction.
func rsiExtremeAgainst(cfg Config, dir domain.Direction, rsi float64) bool {
	if dir == domain.DirectionLong {
		return rsi > cfg.RSIOverbought
	}
	return rsi < cfg.RSIOversold
}

// ExceedsNoiseThreshold reports whether a candidate differs from the current
// value by more than the configured relative threshold. Adjustments below it
// are treated as noise and dropped.
func ExceedsNoiseThreshold(cfg Config, current, candidate float64) bool {
	if current == 0 {
		return candidate != 0
	}
	diff := (candidate - current) / current
	if diff < 0 {
		diff = -diff
	}
	return diff > cfg.NoiseThreshold
}
