package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/tradeguard/internal/config"
	"github.com/quantfold/tradeguard/internal/engine"
	"github.com/quantfold/tradeguard/internal/exitrule"
	"github.com/quantfold/tradeguard/internal/feed"
	"github.com/quantfold/tradeguard/internal/monitor"
	"github.com/quantfold/tradeguard/internal/notify"
	"github.com/quantfold/tradeguard/internal/policy"
	"github.com/quantfold/tradeguard/internal/server"
	"github.com/quantfold/tradeguard/internal/server/handler"
)

// LiveMode runs the full engine against PostgreSQL, Redis, and (optionally)
// S3: recovery, monitor loop, feed, intake API, metrics, and archiver.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	return a.runEngine(ctx, deps)
}

// PaperMode runs the same engine entirely in process, for dry runs and
// strategy shakedowns. No database, Redis, or object storage is touched.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps)
}

// runEngine wires the manager, recovers open positions, and starts every
// configured goroutine. It blocks until the context is cancelled or a
// component fails.
func (a *App) runEngine(ctx context.Context, deps *Dependencies) error {
	eval := exitrule.NewEvaluator(exitFromConfig(a.cfg.Exit), deps.Advisor, a.logger)

	manager := engine.NewManager(deps.PositionStore, eval, policyFromConfig(a.cfg.Policy), a.logger)
	manager.SetOutcomeSink(deps.OutcomeSink)
	manager.SetNotifier(deps.Notifier)
	manager.SetMetrics(deps.Metrics)

	// Reload any positions that were open when the previous process stopped.
	recovered, err := manager.Recover(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "recovery failed, starting with empty table",
			slog.String("error", err.Error()),
		)
	} else if recovered > 0 {
		if err := deps.Notifier.Notify(ctx, notify.EventRecovery, "Recovery",
			fmt.Sprintf("resumed monitoring %d open position(s)", recovered)); err != nil {
			a.logger.WarnContext(ctx, "recovery notification failed", slog.String("error", err.Error()))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	// Monitor loop.
	loop := monitor.New(manager, deps.Collector, monitorFromConfig(a.cfg.Monitor), a.logger)
	loop.SetMetrics(deps.Metrics)
	g.Go(func() error {
		return loop.Run(ctx)
	})

	// Market data feed.
	if a.cfg.Feed.Enabled {
		snapFeed := feed.NewSnapshotFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, deps.SnapshotWriter, a.logger)
		g.Go(func() error {
			return snapFeed.Run(ctx)
		})
	}

	// Intake API.
	if a.cfg.Server.Enabled {
		srv := server.NewServer(
			server.Config{
				Port:        a.cfg.Server.Port,
				CORSOrigins: a.cfg.Server.CORSOrigins,
				APIKey:      a.cfg.Server.ApiKey,
			},
			server.Handlers{
				Health: handler.NewHealthHandler(a.cfg.Mode, func() int {
					return len(manager.OpenPositions())
				}, a.logger),
				Positions: handler.NewPositionHandler(manager, a.logger),
				Policy:    handler.NewPolicyHandler(manager, a.logger),
			},
			a.logger,
		)
		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	// Prometheus metrics endpoint.
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return a.serveMetrics(ctx, deps)
		})
	}

	// S3 archiver.
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.RunLoop(ctx, a.cfg.S3.ArchiveInterval.Duration)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics exposes the Prometheus registry over HTTP until ctx is
// cancelled.
func (a *App) serveMetrics(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:        a.cfg.Metrics.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("metrics endpoint listening", slog.String("addr", a.cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---------------------------------------------------------------------------
// Config conversions. The config package stays free of component imports, so
// the app layer translates its sections into each package's own Config.
// ---------------------------------------------------------------------------

func policyFromConfig(c config.PolicyConfig) policy.Config {
	return policy.Config{
		MinConfidence:           c.MinConfidence,
		TakeProfitBasePct:       c.TakeProfitBasePct,
		TakeProfitConfidencePct: c.TakeProfitConfidencePct,
		TrendBoost:              c.TrendBoost,
		TrendFade:               c.TrendFade,
		RewardToRisk:            c.RewardToRisk,
		MaxStopLossPct:          c.MaxStopLossPct,
		BaseHolding:             c.BaseHolding.Duration,
		HighConfidenceHolding:   c.HighConfidenceHolding.Duration,
		LowConfidenceHolding:    c.LowConfidenceHolding.Duration,
		HighConfidence:          c.HighConfidence,
		LowConfidence:           c.LowConfidence,
		HighVolatility:          c.HighVolatility,
		LowVolatility:           c.LowVolatility,
		VolatileScale:           c.VolatileScale,
		CalmScale:               c.CalmScale,
		MinHolding:              c.MinHolding.Duration,
		MaxHolding:              c.MaxHolding.Duration,
		TrailFraction:           c.TrailFraction,
		ExtendFactor:            c.ExtendFactor,
		ContractFactor:          c.ContractFactor,
		FastContractFactor:      c.FastContractFactor,
		RSIOverbought:           c.RSIOverbought,
		RSIOversold:             c.RSIOversold,
		NoiseThreshold:          c.NoiseThreshold,
	}
}

func exitFromConfig(c config.ExitConfig) exitrule.Config {
	return exitrule.Config{
		LossFloorPct:          c.LossFloorPct,
		QuickProfitPct:        c.QuickProfitPct,
		QuickProfitDwell:      c.QuickProfitDwell.Duration,
		RSIOverbought:         c.RSIOverbought,
		RSIOversold:           c.RSIOversold,
		VolatilitySpike:       c.VolatilitySpike,
		VolatilityProfitPct:   c.VolatilityProfitPct,
		GivebackActivationPct: c.GivebackActivationPct,
		SmallPeakPct:          c.SmallPeakPct,
		MediumPeakPct:         c.MediumPeakPct,
		SmallPeakTolerance:    c.SmallPeakTolerance,
		MediumPeakTolerance:   c.MediumPeakTolerance,
		LargePeakTolerance:    c.LargePeakTolerance,
		SustainedProfitPct:    c.SustainedProfitPct,
		SustainedProfitAfter:  c.SustainedProfitAfter.Duration,
	}
}

func monitorFromConfig(c config.MonitorConfig) monitor.Config {
	return monitor.Config{
		Interval:             c.Interval.Duration,
		FetchTimeout:         c.FetchTimeout.Duration,
		MaxConcurrentFetches: c.MaxConcurrentFetches,
	}
}
