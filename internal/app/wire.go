package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantfold/tradeguard/internal/advisor"
	s3blob "github.com/quantfold/tradeguard/internal/blob/s3"
	"github.com/quantfold/tradeguard/internal/cache/redis"
	"github.com/quantfold/tradeguard/internal/config"
	"github.com/quantfold/tradeguard/internal/domain"
	"github.com/quantfold/tradeguard/internal/feed"
	"github.com/quantfold/tradeguard/internal/metrics"
	"github.com/quantfold/tradeguard/internal/notify"
	"github.com/quantfold/tradeguard/internal/store/memory"
	"github.com/quantfold/tradeguard/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Persistence
	PositionStore domain.PositionStore
	ArchiveStore  domain.ArchiveStore
	OutcomeSink   domain.OutcomeSink

	// Market data
	Collector      domain.SnapshotCollector
	SnapshotWriter feed.SnapshotWriter

	// Collaborators
	Advisor  domain.Advisor
	Notifier *notify.Notifier
	Archiver *s3blob.Archiver

	// Observability
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// outcomeFanout delivers each outcome record to every sink. The first failure
// is returned after all sinks have been attempted.
type outcomeFanout []domain.OutcomeSink

func (f outcomeFanout) EmitOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	var first error
	for _, sink := range f {
		if err := sink.EmitOutcome(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	deps.Registry = prometheus.NewRegistry()
	deps.Metrics = metrics.New(deps.Registry)

	live := strings.ToLower(cfg.Mode) == "live"

	if live {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pgStore := postgres.NewPositionStore(pgClient.Pool())
		deps.PositionStore = pgStore
		deps.ArchiveStore = pgStore

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout.Duration,
			ReadTimeout:  cfg.Redis.ReadTimeout.Duration,
			TLSEnabled:   cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		snapCache := redis.NewSnapshotCache(redisClient,
			cfg.Redis.SnapshotTTL.Duration,
			cfg.Redis.SnapshotMaxStale.Duration,
		)
		deps.Collector = snapCache
		deps.SnapshotWriter = snapCache

		// Outcomes go to both the durable table and the pub/sub bus; the
		// learning adapter consumes whichever suits it.
		deps.OutcomeSink = outcomeFanout{
			postgres.NewOutcomeStore(pgClient.Pool()),
			redis.NewOutcomeBus(redisClient,
				cfg.Redis.OutcomeChannel,
				cfg.Redis.OutcomeStream,
			),
		}

		// --- S3 archiver ---
		if cfg.S3.Enabled {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			closers = append(closers, func() { _ = s3Client.Close() })

			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				deps.ArchiveStore,
				cfg.S3.ArchiveRetention.Duration,
				logger,
			)
		}
	} else {
		// Paper mode runs entirely in process.
		memStore := memory.NewPositionStore()
		deps.PositionStore = memStore
		deps.ArchiveStore = memStore
		deps.OutcomeSink = memStore

		memCache := memory.NewSnapshotCache(cfg.Redis.SnapshotMaxStale.Duration)
		deps.Collector = memCache
		deps.SnapshotWriter = memCache
	}

	// --- Advisor ---
	if cfg.Advisor.Enabled {
		deps.Advisor = advisor.NewClient(
			cfg.Advisor.BaseURL,
			cfg.Advisor.ApiKey,
			cfg.Advisor.Timeout.Duration,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
