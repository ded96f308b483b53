package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradeguard/internal/domain"
	"github.com/quantfold/tradeguard/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCollector serves canned snapshots per symbol and records the fetch
// calls.
type fakeCollector struct {
	mu      sync.Mutex
	snaps   map[string]domain.MarketSnapshot
	errs    map[string]error
	fetches []string
}

func (c *fakeCollector) Fetch(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	c.mu.Lock()
	c.fetches = append(c.fetches, symbol)
	c.mu.Unlock()

	if err, ok := c.errs[symbol]; ok {
		return domain.MarketSnapshot{}, err
	}
	snap, ok := c.snaps[symbol]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// fakeTicker records the ticks the loop dispatches.
type fakeTicker struct {
	mu    sync.Mutex
	refs  []engine.PositionRef
	errs  map[string]error
	ticks []string
}

func (f *fakeTicker) OpenPositions() []engine.PositionRef { return f.refs }

func (f *fakeTicker) Tick(_ context.Context, id string, _ float64, _ domain.MarketSnapshot) error {
	f.mu.Lock()
	f.ticks = append(f.ticks, id)
	f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return err
	}
	return nil
}

func snapFor(symbol string, price float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{Symbol: symbol, Price: price}
}

func TestRunOnceFetchesEachSymbolOnce(t *testing.T) {
	ticker := &fakeTicker{refs: []engine.PositionRef{
		{ID: "p1", Symbol: "BTCUSDT"},
		{ID: "p2", Symbol: "BTCUSDT"},
		{ID: "p3", Symbol: "ETHUSDT"},
	}}
	collector := &fakeCollector{snaps: map[string]domain.MarketSnapshot{
		"BTCUSDT": snapFor("BTCUSDT", 50000),
		"ETHUSDT": snapFor("ETHUSDT", 2000),
	}}

	l := New(ticker, collector, Defaults(), testLogger())
	l.RunOnce(context.Background())

	// Two distinct symbols, two fetches, three ticks.
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, collector.fetches)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, ticker.ticks)
}

func TestRunOnceSkipsFailedSymbolOnly(t *testing.T) {
	ticker := &fakeTicker{refs: []engine.PositionRef{
		{ID: "p1", Symbol: "BTCUSDT"},
		{ID: "p2", Symbol: "ETHUSDT"},
	}}
	collector := &fakeCollector{
		snaps: map[string]domain.MarketSnapshot{"ETHUSDT": snapFor("ETHUSDT", 2000)},
		errs:  map[string]error{"BTCUSDT": errors.New("feed down")},
	}

	l := New(ticker, collector, Defaults(), testLogger())
	l.RunOnce(context.Background())

	// The failed symbol's position sits out; the other is still evaluated.
	assert.Equal(t, []string{"p2"}, ticker.ticks)
}

func TestRunOnceToleratesRacingClose(t *testing.T) {
	ticker := &fakeTicker{
		refs: []engine.PositionRef{
			{ID: "p1", Symbol: "BTCUSDT"},
			{ID: "p2", Symbol: "BTCUSDT"},
		},
		errs: map[string]error{"p1": domain.ErrAlreadyClosed},
	}
	collector := &fakeCollector{snaps: map[string]domain.MarketSnapshot{
		"BTCUSDT": snapFor("BTCUSDT", 50000),
	}}

	l := New(ticker, collector, Defaults(), testLogger())
	l.RunOnce(context.Background())

	// Both were attempted; the already-closed error did not abort the pass.
	assert.ElementsMatch(t, []string{"p1", "p2"}, ticker.ticks)
}

func TestRunOnceNoPositions(t *testing.T) {
	ticker := &fakeTicker{}
	collector := &fakeCollector{}

	l := New(ticker, collector, Defaults(), testLogger())
	l.RunOnce(context.Background())

	assert.Empty(t, collector.fetches)
	assert.Empty(t, ticker.ticks)
}

// blockingCollector parks every Fetch until release is closed, signalling
// started on the first call.
type blockingCollector struct {
	snap      domain.MarketSnapshot
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (c *blockingCollector) Fetch(_ context.Context, _ string) (domain.MarketSnapshot, error) {
	c.startOnce.Do(func() { close(c.started) })
	<-c.release
	return c.snap, nil
}

func TestRunFinishesInFlightPassOnCancel(t *testing.T) {
	ticker := &fakeTicker{refs: []engine.PositionRef{
		{ID: "p1", Symbol: "BTCUSDT"},
	}}
	collector := &blockingCollector{
		snap:    snapFor("BTCUSDT", 50000),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	cfg := Config{
		Interval:             5 * time.Millisecond,
		FetchTimeout:         time.Second,
		MaxConcurrentFetches: 1,
	}
	l := New(ticker, collector, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Cancel while a pass is blocked inside the collector.
	<-collector.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a pass was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(collector.release)
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the pass completed")
	}

	// The interrupted pass still dispatched its tick.
	ticker.mu.Lock()
	defer ticker.mu.Unlock()
	assert.Contains(t, ticker.ticks, "p1")
}

// timeoutCollector never answers; only the per-fetch deadline ends the call.
type timeoutCollector struct{}

func (timeoutCollector) Fetch(ctx context.Context, _ string) (domain.MarketSnapshot, error) {
	<-ctx.Done()
	return domain.MarketSnapshot{}, ctx.Err()
}

func TestRunOnceSkipsSymbolOnFetchTimeout(t *testing.T) {
	ticker := &fakeTicker{refs: []engine.PositionRef{
		{ID: "p1", Symbol: "BTCUSDT"},
	}}

	cfg := Defaults()
	cfg.FetchTimeout = 5 * time.Millisecond
	l := New(ticker, timeoutCollector{}, cfg, testLogger())
	l.RunOnce(context.Background())

	assert.Empty(t, ticker.ticks)
}

func TestClassifyFetchErr(t *testing.T) {
	wrapped := classifyFetchErr(fmt.Errorf("redis: fetch: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, wrapped, domain.ErrCollectorTimeout)

	plain := errors.New("feed down")
	assert.Equal(t, plain, classifyFetchErr(plain))
}

func TestNewFillsZeroConfig(t *testing.T) {
	l := New(&fakeTicker{}, &fakeCollector{}, Config{}, testLogger())

	require.Equal(t, Defaults().Interval, l.cfg.Interval)
	require.Equal(t, Defaults().FetchTimeout, l.cfg.FetchTimeout)
	require.Equal(t, Defaults().MaxConcurrentFetches, l.cfg.MaxConcurrentFetches)
}
