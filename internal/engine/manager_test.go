package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradeguard/internal/domain"
	"github.com/quantfold/tradeguard/internal/exitrule"
	"github.com/quantfold/tradeguard/internal/metrics"
	"github.com/quantfold/tradeguard/internal/policy"
	"github.com/quantfold/tradeguard/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testManager builds a manager over the in-memory store with a controllable
// clock.
func testManager(t *testing.T) (*Manager, *memory.PositionStore, *time.Time) {
	t.Helper()

	store := memory.NewPositionStore()
	eval := exitrule.NewEvaluator(exitrule.Defaults(), nil, testLogger())
	m := NewManager(store, eval, policy.Defaults(), testLogger())
	m.SetOutcomeSink(store)

	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	clock := &now
	m.now = func() time.Time { return *clock }

	return m, store, clock
}

func upSnap(price float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:     "BTCUSDT",
		Price:      price,
		RSI:        50,
		Trend:      domain.TrendUp,
		Volatility: 0.02,
		Time:       time.Now(),
	}
}

func openTestPosition(t *testing.T, m *Manager) domain.Position {
	t.Helper()

	pos, err := m.Open(context.Background(), OpenRequest{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionLong,
		Quantity:   1,
		EntryPrice: 100,
		Confidence: 0.8,
		Snapshot:   upSnap(100),
	})
	require.NoError(t, err)
	return pos
}

func TestOpenComputesLevels(t *testing.T) {
	m, store, _ := testManager(t)

	pos := openTestPosition(t, m)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.InDelta(t, 104.84, pos.TakeProfitInitial, 1e-9)
	assert.InDelta(t, 97.58, pos.StopLossInitial, 1e-9)
	assert.Equal(t, pos.StopLossInitial, pos.StopLossCurrent)
	assert.Equal(t, pos.TakeProfitInitial, pos.TakeProfitCurrent)
	assert.Equal(t, 180*time.Second, pos.MaxHolding)

	// Persisted on open.
	stored, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, stored.ID)
}

func TestOpenValidation(t *testing.T) {
	m, _, _ := testManager(t)

	base := OpenRequest{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionLong,
		Quantity:   1,
		EntryPrice: 100,
		Confidence: 0.8,
		Snapshot:   upSnap(100),
	}

	tests := []struct {
		name   string
		mutate func(*OpenRequest)
	}{
		{"missing symbol", func(r *OpenRequest) { r.Symbol = "" }},
		{"bad direction", func(r *OpenRequest) { r.Direction = "sideways" }},
		{"zero quantity", func(r *OpenRequest) { r.Quantity = 0 }},
		{"negative price", func(r *OpenRequest) { r.EntryPrice = -1 }},
		{"confidence above one", func(r *OpenRequest) { r.Confidence = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := m.Open(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestOpenRejectsLowConfidence(t *testing.T) {
	m, _, _ := testManager(t)

	cfg := policy.Defaults()
	cfg.MinConfidence = 0.3
	m.UpdatePolicy(cfg)

	req := OpenRequest{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionLong,
		Quantity:   1,
		EntryPrice: 100,
		Confidence: 0.2,
		Snapshot:   upSnap(100),
	}
	_, err := m.Open(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrValidation)

	assert.InDelta(t, 0.3, m.Policy().MinConfidence, 1e-9)
}

func TestAdjustStopLossRatchet(t *testing.T) {
	ctx := context.Background()
	m, _, _ := testManager(t)
	pos := openTestPosition(t, m)

	// Tighter for a long: stop moves up.
	applied, err := m.AdjustStopLoss(ctx, pos.ID, 99, "trailing stop", upSnap(101))
	require.NoError(t, err)
	assert.True(t, applied)

	// Looser: silently dropped, not an error.
	applied, err = m.AdjustStopLoss(ctx, pos.ID, 98, "trailing stop", upSnap(101))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := m.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 99.0, got.StopLossCurrent)
	assert.Equal(t, 1, got.AdjustmentCount)
	// The initial level never moves.
	assert.InDelta(t, 97.58, got.StopLossInitial, 1e-9)
}

func TestAdjustStopLossRatchetShort(t *testing.T) {
	ctx := context.Background()
	m, _, _ := testManager(t)

	pos, err := m.Open(ctx, OpenRequest{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionShort,
		Quantity:   1,
		EntryPrice: 100,
		Confidence: 0.8,
		Snapshot:   upSnap(100),
	})
	require.NoError(t, err)

	// Tighter for a short: stop moves down.
	applied, err := m.AdjustStopLoss(ctx, pos.ID, pos.StopLossCurrent-0.5, "trailing stop", upSnap(99))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = m.AdjustStopLoss(ctx, pos.ID, pos.StopLossCurrent+1, "trailing stop", upSnap(99))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAdjustTakeProfitNoiseThreshold(t *testing.T) {
	ctx := context.Background()
	m, store, _ := testManager(t)
	pos := openTestPosition(t, m)

	// 0.5% change: below the noise threshold, dropped.
	applied, err := m.AdjustTakeProfit(ctx, pos.ID, pos.TakeProfitCurrent*1.005, "take-profit retarget", upSnap(101))
	require.NoError(t, err)
	assert.False(t, applied)

	// 5% change: applied and audited.
	applied, err = m.AdjustTakeProfit(ctx, pos.ID, pos.TakeProfitCurrent*1.05, "take-profit retarget", upSnap(101))
	require.NoError(t, err)
	assert.True(t, applied)

	events, err := store.ListEventsByPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.FieldTakeProfit, events[0].Field)
	assert.InDelta(t, 104.84, events[0].OldValue, 1e-9)
}

func TestTickTracksPeakMonotonically(t *testing.T) {
	ctx := context.Background()
	m, _, clock := testManager(t)
	pos := openTestPosition(t, m)

	*clock = clock.Add(10 * time.Second)
	require.NoError(t, m.Tick(ctx, pos.ID, 101, upSnap(101)))

	got, err := m.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.PeakReturn, 1e-9)

	// Price retreats but stays clear of the exit rules: the peak holds.
	*clock = clock.Add(5 * time.Second)
	require.NoError(t, m.Tick(ctx, pos.ID, 100.8, upSnap(100.8)))

	got, err = m.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.PeakReturn, 1e-9)
}

func TestTickTrailsLevels(t *testing.T) {
	ctx := context.Background()
	m, _, clock := testManager(t)
	pos := openTestPosition(t, m)

	*clock = clock.Add(10 * time.Second)
	require.NoError(t, m.Tick(ctx, pos.ID, 101, upSnap(101)))

	got, err := m.Get(ctx, pos.ID)
	require.NoError(t, err)

	// Stop trailed 30% of the way from price to the old stop.
	assert.InDelta(t, 101-0.3*(101-97.58), got.StopLossCurrent, 1e-9)
	// Trend continuation extended the take-profit.
	assert.InDelta(t, 104.84*1.05, got.TakeProfitCurrent, 1e-9)
	assert.Equal(t, 2, got.AdjustmentCount)
}

func TestTickClosesOnStopBreach(t *testing.T) {
	ctx := context.Background()
	m, store, clock := testManager(t)
	pos := openTestPosition(t, m)

	*clock = clock.Add(10 * time.Second)
	require.NoError(t, m.Tick(ctx, pos.ID, 97, upSnap(97)))

	// Gone from the active table.
	assert.Empty(t, m.OpenPositions())

	got, err := m.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, got.Closed())
	assert.Equal(t, string(domain.ExitStopLoss), got.ExitReason)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 97.0, *got.ExitPrice)
	require.NotNil(t, got.RealizedPnL)
	assert.InDelta(t, -3.0, *got.RealizedPnL, 1e-9)

	// Outcome emitted to the learning sink.
	rec, ok := store.Outcome(pos.ID)
	require.True(t, ok)
	assert.False(t, rec.Success)
	assert.InDelta(t, -3.0, rec.RealizedPnL, 1e-9)
	assert.Equal(t, 10*time.Second, rec.Holding)
}

func TestTickAfterCloseReturnsAlreadyClosed(t *testing.T) {
	ctx := context.Background()
	m, _, _ := testManager(t)
	pos := openTestPosition(t, m)

	_, err := m.Close(ctx, pos.ID, 101, nil, upSnap(101))
	require.NoError(t, err)

	err = m.Tick(ctx, pos.ID, 102, upSnap(102))
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)

	_, err = m.AdjustStopLoss(ctx, pos.ID, 100, "trailing stop", upSnap(102))
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestCloseManualDefaultsReason(t *testing.T) {
	ctx := context.Background()
	m, _, _ := testManager(t)
	pos := openTestPosition(t, m)

	closed, err := m.Close(ctx, pos.ID, 101, nil, upSnap(101))
	require.NoError(t, err)
	assert.Equal(t, string(domain.ExitManual), closed.ExitReason)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, 1.0, *closed.RealizedPnL, 1e-9)
}

func TestCloseRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	m, _, _ := testManager(t)
	pos := openTestPosition(t, m)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Close(ctx, pos.ID, 101, nil, upSnap(101))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, domain.ErrAlreadyClosed)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestGetUnknownPosition(t *testing.T) {
	m, _, _ := testManager(t)

	_, err := m.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.Close(context.Background(), "nope", 100, nil, upSnap(100))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()

	open := domain.Position{
		ID:         "open-1",
		Symbol:     "ETHUSDT",
		Direction:  domain.DirectionLong,
		Quantity:   2,
		EntryPrice: 2000,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveNew(ctx, open))

	closed := open
	closed.ID = "closed-1"
	require.NoError(t, store.SaveNew(ctx, closed))
	closedAt := time.Now().UTC()
	closed.Status = domain.PositionStatusClosed
	closed.ClosedAt = &closedAt
	require.NoError(t, store.SavePosition(ctx, closed))

	eval := exitrule.NewEvaluator(exitrule.Defaults(), nil, testLogger())
	m := NewManager(store, eval, policy.Defaults(), testLogger())

	count, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	refs := m.OpenPositions()
	require.Len(t, refs, 1)
	assert.Equal(t, "open-1", refs[0].ID)
	assert.Equal(t, "ETHUSDT", refs[0].Symbol)
}

func TestRecoverResetsOpenGauge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()

	for _, id := range []string{"open-1", "open-2"} {
		require.NoError(t, store.SaveNew(ctx, domain.Position{
			ID:         id,
			Symbol:     "ETHUSDT",
			Direction:  domain.DirectionLong,
			Quantity:   1,
			EntryPrice: 2000,
			Status:     domain.PositionStatusOpen,
			OpenedAt:   time.Now().UTC(),
		}))
	}

	eval := exitrule.NewEvaluator(exitrule.Defaults(), nil, testLogger())
	m := NewManager(store, eval, policy.Defaults(), testLogger())
	mx := metrics.New(prometheus.NewRegistry())
	m.SetMetrics(mx)

	count, err := m.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	assert.Equal(t, float64(2), testutil.ToFloat64(mx.OpenPositions))
}

// failingStore counts writes and fails every SaveNew so the retry path is
// observable.
type failingStore struct {
	mu       sync.Mutex
	saveNews int
}

func (f *failingStore) SaveNew(_ context.Context, _ domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveNews++
	return errors.New("disk on fire")
}

func (f *failingStore) SavePosition(_ context.Context, _ domain.Position) error { return nil }
func (f *failingStore) AppendAdjustmentEvent(_ context.Context, _ domain.AdjustmentEvent) error {
	return nil
}
func (f *failingStore) GetByID(_ context.Context, _ string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (f *failingStore) ListOpen(_ context.Context) ([]domain.Position, error) { return nil, nil }

func TestOpenSurvivesStoreFailure(t *testing.T) {
	store := &failingStore{}
	eval := exitrule.NewEvaluator(exitrule.Defaults(), nil, testLogger())
	m := NewManager(store, eval, policy.Defaults(), testLogger())

	pos, err := m.Open(context.Background(), OpenRequest{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionLong,
		Quantity:   1,
		EntryPrice: 100,
		Confidence: 0.8,
		Snapshot:   upSnap(100),
	})
	require.NoError(t, err)

	// One attempt plus one retry, then the failure is swallowed.
	assert.Equal(t, 2, store.saveNews)

	// The position is still managed in memory.
	refs := m.OpenPositions()
	require.Len(t, refs, 1)
	assert.Equal(t, pos.ID, refs[0].ID)
}
