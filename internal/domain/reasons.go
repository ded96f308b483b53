package domain

import "strings"

// ExitReason is a closed set of reasons the exit evaluator can produce.
// Multiple reasons may trigger on the same tick; all are retained for
// explainability and joined into the position's ExitReason on close.
type ExitReason string

const (
	ExitStopLoss          ExitReason = "stop_loss_hit"
	ExitTakeProfit        ExitReason = "take_profit_hit"
	ExitMaxHolding        ExitReason = "max_holding_time"
	ExitExcessiveLoss     ExitReason = "excessive_loss"
	ExitQuickProfit       ExitReason = "quick_profit"
	ExitTrendReversal     ExitReason = "trend_reversal"
	ExitMomentumExhausted ExitReason = "momentum_exhausted"
	ExitVolatilitySpike   ExitReason = "volatility_spike"
	ExitProfitGiveback    ExitReason = "profit_giveback"
	ExitSustainedProfit   ExitReason = "sustained_profit"
	ExitAdvisorClose      ExitReason = "advisor_close"
	ExitManual            ExitReason = "manual_close"
)

// JoinReasons renders a reason set as the human-readable string stored on the
// closed position.
func JoinReasons(reasons []ExitReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
