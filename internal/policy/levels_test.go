package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradeguard/internal/domain"
)

func snap(trend domain.Trend, rsi, vol float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:     "BTCUSDT",
		Price:      100,
		RSI:        rsi,
		Trend:      trend,
		Volatility: vol,
		Time:       time.Now(),
	}
}

func TestComputeInitialLevelsLong(t *testing.T) {
	cfg := Defaults()

	// Confidence 0.8 with an agreeing trend: tpPct = (2 + 0.8*3) * 1.1 = 4.84.
	lv := ComputeInitialLevels(cfg, domain.DirectionLong, 100, 0.8, snap(domain.TrendUp, 50, 0.02))

	assert.InDelta(t, 104.84, lv.TakeProfit, 1e-9)
	// Stop at half the reward distance below entry (1:2 risk:reward).
	assert.InDelta(t, 97.58, lv.StopLoss, 1e-9)
	assert.Equal(t, 180*time.Second, lv.MaxHolding)
}

func TestComputeInitialLevelsShort(t *testing.T) {
	cfg := Defaults()

	// Confidence 0.5, flat trend: tpPct = 2 + 0.5*3 = 3.5, mirrored below entry.
	lv := ComputeInitialLevels(cfg, domain.DirectionShort, 100, 0.5, snap(domain.TrendFlat, 50, 0.02))

	assert.InDelta(t, 96.5, lv.TakeProfit, 1e-9)
	assert.InDelta(t, 101.75, lv.StopLoss, 1e-9)
	assert.Equal(t, 300*time.Second, lv.MaxHolding)
}

func TestComputeInitialLevelsTrendFade(t *testing.T) {
	cfg := Defaults()

	// Opposing trend fades the target: tpPct = (2 + 0.5*3) * 0.9 = 3.15.
	lv := ComputeInitialLevels(cfg, domain.DirectionLong, 100, 0.5, snap(domain.TrendDown, 50, 0.02))

	assert.InDelta(t, 103.15, lv.TakeProfit, 1e-9)
	assert.InDelta(t, 98.425, lv.StopLoss, 1e-9)
}

func TestComputeInitialLevelsStopClamp(t *testing.T) {
	cfg := Defaults()
	cfg.MaxStopLossPct = 1.0

	// Flat trend, confidence 0.8: raw stop would sit 2.2% below entry, the
	// clamp pulls it to 1%.
	lvLong := ComputeInitialLevels(cfg, domain.DirectionLong, 100, 0.8, snap(domain.TrendFlat, 50, 0.02))
	assert.InDelta(t, 99.0, lvLong.StopLoss, 1e-9)

	lvShort := ComputeInitialLevels(cfg, domain.DirectionShort, 100, 0.8, snap(domain.TrendFlat, 50, 0.02))
	assert.InDelta(t, 101.0, lvShort.StopLoss, 1e-9)
}

func TestComputeMaxHolding(t *testing.T) {
	cfg := Defaults()

	tests := []struct {
		name       string
		confidence float64
		volatility float64
		want       time.Duration
	}{
		{"high confidence", 0.9, 0.02, 180 * time.Second},
		{"confidence at high boundary", 0.8, 0.02, 180 * time.Second},
		{"base confidence", 0.6, 0.02, 300 * time.Second},
		{"low confidence", 0.3, 0.02, 600 * time.Second},
		{"volatile market shortens", 0.6, 0.05, 210 * time.Second},
		{"calm market lengthens", 0.6, 0.005, 390 * time.Second},
		{"low confidence calm", 0.3, 0.005, 780 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeMaxHolding(cfg, tt.confidence, tt.volatility)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeMaxHoldingClamps(t *testing.T) {
	cfg := Defaults()
	cfg.HighConfidenceHolding = 60 * time.Second

	// 60s * 0.7 = 42s, clamped up to the minimum.
	got := computeMaxHolding(cfg, 0.9, 0.05)
	assert.Equal(t, 60*time.Second, got)

	cfg = Defaults()
	cfg.LowConfidenceHolding = 1700 * time.Second

	// 1700s * 1.3 = 2210s, clamped down to the maximum.
	got = computeMaxHolding(cfg, 0.3, 0.005)
	assert.Equal(t, 1800*time.Second, got)
}

func TestComputeAdjustedStopLossTrailsOnFavorableMove(t *testing.T) {
	cfg := Defaults()

	long := domain.Position{
		Direction:       domain.DirectionLong,
		EntryPrice:      100,
		StopLossCurrent: 95,
	}
	// Price up 1%: stop trails 30% of the distance from price back to the
	// old stop.
	got := ComputeAdjustedStopLoss(cfg, long, 101)
	assert.InDelta(t, 99.2, got, 1e-9)

	short := domain.Position{
		Direction:       domain.DirectionShort,
		EntryPrice:      100,
		StopLossCurrent: 105,
	}
	got = ComputeAdjustedStopLoss(cfg, short, 97)
	assert.InDelta(t, 99.4, got, 1e-9)
}

func TestComputeAdjustedStopLossHoldsOnAdverseMove(t *testing.T) {
	cfg := Defaults()

	p := domain.Position{
		Direction:       domain.DirectionLong,
		EntryPrice:      100,
		StopLossCurrent: 95,
	}
	got := ComputeAdjustedStopLoss(cfg, p, 99)
	assert.Equal(t, 95.0, got)
}

func TestComputeAdjustedTakeProfit(t *testing.T) {
	cfg := Defaults()

	p := domain.Position{
		Direction:         domain.DirectionLong,
		EntryPrice:        100,
		TakeProfitCurrent: 104,
	}

	tests := []struct {
		name  string
		price float64
		snap  domain.MarketSnapshot
		want  float64
	}{
		{"losing ground contracts hard", 99, snap(domain.TrendUp, 50, 0.02), 104 * 0.90},
		{"overbought contracts", 102, snap(domain.TrendUp, 75, 0.02), 104 * 0.95},
		{"trend continuation extends", 102, snap(domain.TrendUp, 50, 0.02), 104 * 1.05},
		{"quiet market holds", 102, snap(domain.TrendFlat, 50, 0.02), 104},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeAdjustedTakeProfit(cfg, p, tt.price, tt.snap)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestComputeAdjustedTakeProfitShortMirrorsFactors(t *testing.T) {
	cfg := Defaults()

	p := domain.Position{
		Direction:         domain.DirectionShort,
		EntryPrice:        100,
		TakeProfitCurrent: 96,
	}

	// Trend continuation for a short means a lower, more ambitious target:
	// the extend factor mirrors to 2 - 1.05 = 0.95.
	got := ComputeAdjustedTakeProfit(cfg, p, 98, snap(domain.TrendDown, 50, 0.02))
	assert.InDelta(t, 96*0.95, got, 1e-9)

	// Losing ground mirrors the fast contraction to 1.10, pulling the target
	// back toward entry.
	got = ComputeAdjustedTakeProfit(cfg, p, 101, snap(domain.TrendDown, 50, 0.02))
	assert.InDelta(t, 96*1.10, got, 1e-9)
}

func TestExceedsNoiseThreshold(t *testing.T) {
	cfg := Defaults()

	require.True(t, ExceedsNoiseThreshold(cfg, 104, 110))
	require.False(t, ExceedsNoiseThreshold(cfg, 104, 105))
	// Exactly at the threshold does not pass.
	require.False(t, ExceedsNoiseThreshold(cfg, 100, 102))
	require.True(t, ExceedsNoiseThreshold(cfg, 100, 102.001))
}
