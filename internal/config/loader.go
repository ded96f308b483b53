package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEGUARD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEGUARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEGUARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEGUARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEGUARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEGUARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEGUARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEGUARD_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "TRADEGUARD_REDIS_SNAPSHOT_TTL")
	setDuration(&cfg.Redis.SnapshotMaxStale, "TRADEGUARD_REDIS_SNAPSHOT_MAX_STALE")
	setStr(&cfg.Redis.OutcomeChannel, "TRADEGUARD_REDIS_OUTCOME_CHANNEL")
	setStr(&cfg.Redis.OutcomeStream, "TRADEGUARD_REDIS_OUTCOME_STREAM")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADEGUARD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEGUARD_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "TRADEGUARD_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.ArchiveRetention, "TRADEGUARD_S3_ARCHIVE_RETENTION")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "TRADEGUARD_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "TRADEGUARD_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "TRADEGUARD_FEED_SYMBOLS")

	// ── Advisor ──
	setBool(&cfg.Advisor.Enabled, "TRADEGUARD_ADVISOR_ENABLED")
	setStr(&cfg.Advisor.BaseURL, "TRADEGUARD_ADVISOR_BASE_URL")
	setStr(&cfg.Advisor.ApiKey, "TRADEGUARD_ADVISOR_API_KEY")
	setDuration(&cfg.Advisor.Timeout, "TRADEGUARD_ADVISOR_TIMEOUT")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "TRADEGUARD_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.FetchTimeout, "TRADEGUARD_MONITOR_FETCH_TIMEOUT")
	setInt(&cfg.Monitor.MaxConcurrentFetches, "TRADEGUARD_MONITOR_MAX_CONCURRENT_FETCHES")

	// ── Policy ──
	setFloat64(&cfg.Policy.MinConfidence, "TRADEGUARD_POLICY_MIN_CONFIDENCE")
	setFloat64(&cfg.Policy.TakeProfitBasePct, "TRADEGUARD_POLICY_TAKE_PROFIT_BASE_PCT")
	setFloat64(&cfg.Policy.TakeProfitConfidencePct, "TRADEGUARD_POLICY_TAKE_PROFIT_CONFIDENCE_PCT")
	setFloat64(&cfg.Policy.RewardToRisk, "TRADEGUARD_POLICY_REWARD_TO_RISK")
	setFloat64(&cfg.Policy.MaxStopLossPct, "TRADEGUARD_POLICY_MAX_STOP_LOSS_PCT")
	setFloat64(&cfg.Policy.TrailFraction, "TRADEGUARD_POLICY_TRAIL_FRACTION")
	setFloat64(&cfg.Policy.NoiseThreshold, "TRADEGUARD_POLICY_NOISE_THRESHOLD")

	// ── Exit ──
	setFloat64(&cfg.Exit.LossFloorPct, "TRADEGUARD_EXIT_LOSS_FLOOR_PCT")
	setFloat64(&cfg.Exit.QuickProfitPct, "TRADEGUARD_EXIT_QUICK_PROFIT_PCT")
	setFloat64(&cfg.Exit.GivebackActivationPct, "TRADEGUARD_EXIT_GIVEBACK_ACTIVATION_PCT")
	setFloat64(&cfg.Exit.SustainedProfitPct, "TRADEGUARD_EXIT_SUSTAINED_PROFIT_PCT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEGUARD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEGUARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEGUARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "TRADEGUARD_SERVER_API_KEY")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "TRADEGUARD_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "TRADEGUARD_METRICS_ADDR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "TRADEGUARD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEGUARD_MODE")
	setStr(&cfg.LogLevel, "TRADEGUARD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
