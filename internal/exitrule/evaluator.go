package exitrule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantfold/tradeguard/internal/domain"
)

// Evaluator runs the exit rules for a position against a market snapshot.
// Rules 1–2 (level breach, time limit) are unconditional and short-circuit;
// the remaining numeric rules are all evaluated and unioned. When no numeric
// rule fires and an advisor is configured, it is consulted as the final rule.
type Evaluator struct {
	cfg     Config
	advisor domain.Advisor
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator. The advisor may be nil, in which case
// the delegated-recommendation rule is skipped.
func NewEvaluator(cfg Config, advisor domain.Advisor, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:     cfg,
		advisor: advisor,
		logger:  logger.With(slog.String("component", "exit_evaluator")),
	}
}

// Evaluate returns the set of exit reasons triggered for the position at the
// given price and snapshot. An empty set means hold.
func (e *Evaluator) Evaluate(ctx context.Context, p domain.Position, currentPrice float64, snap domain.MarketSnapshot, now time.Time) []domain.ExitReason {
	// Unconditional rules first: a breached level or an exhausted time
	// budget closes the position regardless of anything else.
	if r, ok := levelBreach(p, currentPrice); ok {
		return []domain.ExitReason{r}
	}
	if p.HoldingTime(now) > p.MaxHolding {
		return []domain.ExitReason{domain.ExitMaxHolding}
	}

	reasons := e.numericRules(p, currentPrice, snap, now)

	// Delegated recommendation: consulted only when the numeric rules are
	// all quiet.
	if len(reasons) == 0 && e.advisor != nil {
		if r, ok := e.consultAdvisor(ctx, p, snap); ok {
			reasons = append(reasons, r)
		}
	}

	return reasons
}

// numericRules evaluates rules 3–9 independently and returns their union.
func (e *Evaluator) numericRules(p domain.Position, currentPrice float64, snap domain.MarketSnapshot, now time.Time) []domain.ExitReason {
	var reasons []domain.ExitReason

	ret := p.UnrealizedReturn(currentPrice)
	held := p.HoldingTime(now)

	// Excessive loss guard: defense against a stop that was set too wide.
	if ret < e.cfg.LossFloorPct {
		reasons = append(reasons, domain.ExitExcessiveLoss)
	}

	// Quick profit: lock small fast gains after the minimum dwell.
	if ret > e.cfg.QuickProfitPct && held > e.cfg.QuickProfitDwell {
		reasons = append(reasons, domain.ExitQuickProfit)
	}

	// Trend reversal.
	if snap.Trend.Opposes(p.Direction) {
		reasons = append(reasons, domain.ExitTrendReversal)
	}

	// Momentum exhaustion.
	if rsiExhausted(e.cfg, p.Direction, snap.RSI) {
		reasons = append(reasons, domain.ExitMomentumExhausted)
	}

	// Volatility spike while profitable: protect gains before they evaporate.
	if snap.Volatility > e.cfg.VolatilitySpike && ret > e.cfg.VolatilityProfitPct {
		reasons = append(reasons, domain.ExitVolatilitySpike)
	}

	// Trailing-profit giveback.
	if givebackTriggered(e.cfg, p.PeakReturn, ret) {
		reasons = append(reasons, domain.ExitProfitGiveback)
	}

	// Sustained profit: secondary lock for slow-moving winners.
	if held > e.cfg.SustainedProfitAfter && ret > e.cfg.SustainedProfitPct {
		reasons = append(reasons, domain.ExitSustainedProfit)
	}

	return reasons
}

// levelBreach checks the hard stop-loss / take-profit levels.
func levelBreach(p domain.Position, price float64) (domain.ExitReason, bool) {
	if p.Direction == domain.DirectionLong {
		if price <= p.StopLossCurrent {
			return domain.ExitStopLoss, true
		}
		if price >= p.TakeProfitCurrent {
			return domain.ExitTakeProfit, true
		}
		return "", false
	}
	if price >= p.StopLossCurrent {
		return domain.ExitStopLoss, true
	}
	if price <= p.TakeProfitCurrent {
		return domain.ExitTakeProfit, true
	}
	return "", false
}

func rsiExhausted(cfg Config, dir domain.Direction, rsi float64) bool {
	if dir == domain.DirectionLong {
		return rsi > cfg.RSIOverbought
	}
	return rsi < cfg.RSIOversold
}

// givebackTolerance returns the fraction of the peak the position is allowed
// to give back before the trailing rule triggers. Bigger peaks get tighter
// tolerances.
func givebackTolerance(cfg Config, peak float64) float64 {
	switch {
	case peak <= cfg.SmallPeakPct:
		return cfg.SmallPeakTolerance
	case peak <= cfg.MediumPeakPct:
		return cfg.MediumPeakTolerance
	default:
		return cfg.LargePeakTolerance
	}
}

// givebackTriggered reports whether the current return has retraced more than
// the tolerated fraction of the recorded peak. The rule is armed only once
// the peak clears the activation floor.
func givebackTriggered(cfg Config, peak, current float64) bool {
	if peak < cfg.GivebackActivationPct {
		return false
	}
	return current < peak*(1-givebackTolerance(cfg, peak))
}

// consultAdvisor asks the external advisor for a recommendation. Timeouts and
// errors are treated as hold; the monitor retries on the next tick anyway.
func (e *Evaluator) consultAdvisor(ctx context.Context, p domain.Position, snap domain.MarketSnapshot) (domain.ExitReason, bool) {
	rec, err := e.advisor.Recommend(ctx, p, snap)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrAdvisorTimeout) || errors.Is(err, context.DeadlineExceeded) {
			level = slog.LevelDebug
		}
		e.logger.Log(ctx, level, "advisor consultation failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
		return "", false
	}

	if rec.Action == domain.AdvisorClose {
		e.logger.InfoContext(ctx, "advisor recommended close",
			slog.String("position_id", p.ID),
			slog.String("reason", rec.Reason),
		)
		return domain.ExitAdvisorClose, true
	}
	return "", false
}
