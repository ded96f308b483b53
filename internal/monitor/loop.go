// Package monitor runs the recurring evaluation loop over all open
// positions. Each pass snapshots the active table, fetches one market
// snapshot per distinct symbol concurrently, and dispatches a Tick per
// position through the position manager.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/tradeguard/internal/domain"
	"github.com/quantfold/tradeguard/internal/engine"
	"github.com/quantfold/tradeguard/internal/metrics"
)

// Ticker is the subset of the position manager the loop drives.
type Ticker interface {
	OpenPositions() []engine.PositionRef
	Tick(ctx context.Context, id string, currentPrice float64, snap domain.MarketSnapshot) error
}

// Config holds the loop's timing parameters.
type Config struct {
	// Interval between evaluation passes.
	Interval time.Duration `toml:"interval"`
	// FetchTimeout bounds each per-symbol snapshot fetch so one hanging
	// collector call cannot stall the rest of the pass.
	FetchTimeout time.Duration `toml:"fetch_timeout"`
	// MaxConcurrentFetches caps the snapshot fetches in flight per pass.
	MaxConcurrentFetches int `toml:"max_concurrent_fetches"`
}

// Defaults returns the loop timing the engine ships with.
func Defaults() Config {
	return Config{
		Interval:             5 * time.Second,
		FetchTimeout:         2 * time.Second,
		MaxConcurrentFetches: 8,
	}
}

// Loop drives the manager on a fixed interval.
type Loop struct {
	manager   Ticker
	collector domain.SnapshotCollector
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a monitor Loop. Metrics are optional.
func New(manager Ticker, collector domain.SnapshotCollector, cfg Config, logger *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = Defaults().Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = Defaults().FetchTimeout
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = Defaults().MaxConcurrentFetches
	}
	return &Loop{
		manager:   manager,
		collector: collector,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "monitor_loop")),
	}
}

// SetMetrics attaches Prometheus instrumentation.
func (l *Loop) SetMetrics(mx *metrics.Metrics) { l.metrics = mx }

// Run executes evaluation passes until ctx is cancelled. The in-flight pass
// always completes before Run returns, so every adjustment or close decided
// during it reaches the store.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "monitor loop starting",
		slog.Duration("interval", l.cfg.Interval),
		slog.Duration("fetch_timeout", l.cfg.FetchTimeout),
	)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("monitor loop stopped")
			return ctx.Err()
		case <-ticker.C:
			// The pass runs on the background context so cancellation lets
			// it finish instead of abandoning decided work mid-flight.
			l.RunOnce(context.WithoutCancel(ctx))
		}
	}
}

// RunOnce performs a single evaluation pass over all open positions.
func (l *Loop) RunOnce(ctx context.Context) {
	start := time.Now()

	refs := l.manager.OpenPositions()
	if len(refs) == 0 {
		return
	}

	snapshots := l.fetchSnapshots(ctx, distinctSymbols(refs))

	evaluated, skipped := 0, 0
	for _, ref := range refs {
		snap, ok := snapshots[ref.Symbol]
		if !ok {
			skipped++
			continue
		}
		if err := l.manager.Tick(ctx, ref.ID, snap.Price, snap); err != nil {
			// A position closed by a racing manual close is expected; the
			// table snapshot was taken before the race resolved.
			if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			l.logger.ErrorContext(ctx, "tick failed",
				slog.String("position_id", ref.ID),
				slog.String("symbol", ref.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		evaluated++
	}

	l.metrics.ObserveTickDuration(time.Since(start).Seconds())
	l.logger.DebugContext(ctx, "monitor pass complete",
		slog.Int("positions", len(refs)),
		slog.Int("evaluated", evaluated),
		slog.Int("skipped", skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// fetchSnapshots retrieves one snapshot per symbol, concurrently, each under
// its own timeout. A failed symbol is logged and omitted from the result so
// only that symbol's positions sit out the current pass.
func (l *Loop) fetchSnapshots(ctx context.Context, symbols []string) map[string]domain.MarketSnapshot {
	var mu sync.Mutex
	snapshots := make(map[string]domain.MarketSnapshot, len(symbols))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxConcurrentFetches)

	for _, symbol := range symbols {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
			defer cancel()

			snap, err := l.collector.Fetch(fetchCtx, symbol)
			if err != nil {
				err = classifyFetchErr(err)
				l.metrics.IncFetchError(symbol)
				l.logger.WarnContext(ctx, "snapshot fetch failed, skipping symbol this pass",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				return nil // fetch failures never abort the pass
			}

			mu.Lock()
			snapshots[symbol] = snap
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return snapshots
}

// classifyFetchErr attributes an expired per-fetch budget to the collector
// so the skip is reported as a collector timeout rather than a raw context
// error.
func classifyFetchErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("monitor: %w", domain.ErrCollectorTimeout)
	}
	return err
}

func distinctSymbols(refs []engine.PositionRef) []string {
	seen := make(map[string]struct{}, len(refs))
	symbols := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.Symbol]; ok {
			continue
		}
		seen[ref.Symbol] = struct{}{}
		symbols = append(symbols, ref.Symbol)
	}
	return symbols
}
