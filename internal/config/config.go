// Package config defines the top-level configuration for the risk engine and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEGUARD_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Feed     FeedConfig     `toml:"feed"`
	Advisor  AdvisorConfig  `toml:"advisor"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Policy   PolicyConfig   `toml:"policy"`
	Exit     ExitConfig     `toml:"exit"`
	Server   ServerConfig   `toml:"server"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters plus the snapshot cache and
// outcome bus settings layered on top of it.
type RedisConfig struct {
	Addr             string   `toml:"addr"`
	Password         string   `toml:"password"`
	DB               int      `toml:"db"`
	PoolSize         int      `toml:"pool_size"`
	MinIdleConns     int      `toml:"min_idle_conns"`
	MaxRetries       int      `toml:"max_retries"`
	DialTimeout      duration `toml:"dial_timeout"`
	ReadTimeout      duration `toml:"read_timeout"`
	TLSEnabled       bool     `toml:"tls_enabled"`
	SnapshotTTL      duration `toml:"snapshot_ttl"`
	SnapshotMaxStale duration `toml:"snapshot_max_stale"`
	OutcomeChannel   string   `toml:"outcome_channel"`
	OutcomeStream    string   `toml:"outcome_stream"`
}

// S3Config holds S3-compatible object storage parameters and the archive
// schedule.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveRetention duration `toml:"archive_retention"`
}

// FeedConfig holds the market data WebSocket parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// AdvisorConfig holds the external advisor service parameters.
type AdvisorConfig struct {
	Enabled bool     `toml:"enabled"`
	BaseURL string   `toml:"base_url"`
	ApiKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// MonitorConfig holds the evaluation loop timing.
type MonitorConfig struct {
	Interval             duration `toml:"interval"`
	FetchTimeout         duration `toml:"fetch_timeout"`
	MaxConcurrentFetches int      `toml:"max_concurrent_fetches"`
}

// PolicyConfig holds the protective-level tunables. Zero values fall back to
// the policy package defaults when the app wires the engine.
type PolicyConfig struct {
	MinConfidence           float64  `toml:"min_confidence"`
	TakeProfitBasePct       float64  `toml:"take_profit_base_pct"`
	TakeProfitConfidencePct float64  `toml:"take_profit_confidence_pct"`
	TrendBoost              float64  `toml:"trend_boost"`
	TrendFade               float64  `toml:"trend_fade"`
	RewardToRisk            float64  `toml:"reward_to_risk"`
	MaxStopLossPct          float64  `toml:"max_stop_loss_pct"`
	BaseHolding             duration `toml:"base_holding"`
	HighConfidenceHolding   duration `toml:"high_confidence_holding"`
	LowConfidenceHolding    duration `toml:"low_confidence_holding"`
	HighConfidence          float64  `toml:"high_confidence"`
	LowConfidence           float64  `toml:"low_confidence"`
	HighVolatility          float64  `toml:"high_volatility"`
	LowVolatility           float64  `toml:"low_volatility"`
	VolatileScale           float64  `toml:"volatile_scale"`
	CalmScale               float64  `toml:"calm_scale"`
	MinHolding              duration `toml:"min_holding"`
	MaxHolding              duration `toml:"max_holding"`
	TrailFraction           float64  `toml:"trail_fraction"`
	ExtendFactor            float64  `toml:"extend_factor"`
	ContractFactor          float64  `toml:"contract_factor"`
	FastContractFactor      float64  `toml:"fast_contract_factor"`
	RSIOverbought           float64  `toml:"rsi_overbought"`
	RSIOversold             float64  `toml:"rsi_oversold"`
	NoiseThreshold          float64  `toml:"noise_threshold"`
}

// ExitConfig holds the exit-rule thresholds. Zero values fall back to the
// exitrule package defaults when the app wires the evaluator.
type ExitConfig struct {
	LossFloorPct          float64  `toml:"loss_floor_pct"`
	QuickProfitPct        float64  `toml:"quick_profit_pct"`
	QuickProfitDwell      duration `toml:"quick_profit_dwell"`
	RSIOverbought         float64  `toml:"rsi_overbought"`
	RSIOversold           float64  `toml:"rsi_oversold"`
	VolatilitySpike       float64  `toml:"volatility_spike"`
	VolatilityProfitPct   float64  `toml:"volatility_profit_pct"`
	GivebackActivationPct float64  `toml:"giveback_activation_pct"`
	SmallPeakPct          float64  `toml:"small_peak_pct"`
	MediumPeakPct         float64  `toml:"medium_peak_pct"`
	SmallPeakTolerance    float64  `toml:"small_peak_tolerance"`
	MediumPeakTolerance   float64  `toml:"medium_peak_tolerance"`
	LargePeakTolerance    float64  `toml:"large_peak_tolerance"`
	SustainedProfitPct    float64  `toml:"sustained_profit_pct"`
	SustainedProfitAfter  duration `toml:"sustained_profit_after"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
}

// MetricsConfig holds the Prometheus HTTP endpoint parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			DB:               0,
			PoolSize:         20,
			MinIdleConns:     2,
			MaxRetries:       3,
			DialTimeout:      duration{5 * time.Second},
			ReadTimeout:      duration{time.Second},
			TLSEnabled:       false,
			SnapshotTTL:      duration{30 * time.Second},
			SnapshotMaxStale: duration{10 * time.Second},
			OutcomeChannel:   "outcomes",
			OutcomeStream:    "outcomes:stream",
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "tradeguard-archive",
			UseSSL:           false,
			ForcePathStyle:   true,
			ArchiveInterval:  duration{time.Hour},
			ArchiveRetention: duration{24 * time.Hour},
		},
		Feed: FeedConfig{
			Enabled: true,
			WsURL:   "ws://localhost:8900/stream",
		},
		Advisor: AdvisorConfig{
			Enabled: false,
			Timeout: duration{2 * time.Second},
		},
		Monitor: MonitorConfig{
			Interval:             duration{5 * time.Second},
			FetchTimeout:         duration{2 * time.Second},
			MaxConcurrentFetches: 8,
		},
		Policy: PolicyConfig{
			TakeProfitBasePct:       2.0,
			TakeProfitConfidencePct: 3.0,
			TrendBoost:              1.1,
			TrendFade:               0.9,
			RewardToRisk:            2.0,
			MaxStopLossPct:          10.0,
			BaseHolding:             duration{300 * time.Second},
			HighConfidenceHolding:   duration{180 * time.Second},
			LowConfidenceHolding:    duration{600 * time.Second},
			HighConfidence:          0.8,
			LowConfidence:           0.5,
			HighVolatility:          0.03,
			LowVolatility:           0.01,
			VolatileScale:           0.7,
			CalmScale:               1.3,
			MinHolding:              duration{60 * time.Second},
			MaxHolding:              duration{1800 * time.Second},
			TrailFraction:           0.3,
			ExtendFactor:            1.05,
			ContractFactor:          0.95,
			FastContractFactor:      0.90,
			RSIOverbought:           70,
			RSIOversold:             30,
			NoiseThreshold:          0.02,
		},
		Exit: ExitConfig{
			LossFloorPct:          -0.5,
			QuickProfitPct:        0.2,
			QuickProfitDwell:      duration{30 * time.Second},
			RSIOverbought:         75,
			RSIOversold:           25,
			VolatilitySpike:       0.05,
			VolatilityProfitPct:   0.3,
			GivebackActivationPct: 0.2,
			SmallPeakPct:          2.0,
			MediumPeakPct:         5.0,
			SmallPeakTolerance:    0.30,
			MediumPeakTolerance:   0.20,
			LargePeakTolerance:    0.10,
			SustainedProfitPct:    1.0,
			SustainedProfitAfter:  duration{120 * time.Second},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed"},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	live := strings.ToLower(c.Mode) == "live"

	// Postgres is only required for live mode; paper mode runs in memory.
	if live {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.SnapshotMaxStale.Duration <= 0 {
			errs = append(errs, "redis: snapshot_max_stale must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0 when enabled")
		}
	}

	// Feed
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty when enabled")
	}

	// Advisor
	if c.Advisor.Enabled && c.Advisor.BaseURL == "" {
		errs = append(errs, "advisor: base_url must not be empty when enabled")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.FetchTimeout.Duration <= 0 {
		errs = append(errs, "monitor: fetch_timeout must be > 0")
	}
	if c.Monitor.MaxConcurrentFetches < 1 {
		errs = append(errs, "monitor: max_concurrent_fetches must be >= 1")
	}

	// Policy
	if c.Policy.MinConfidence < 0 || c.Policy.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("policy: min_confidence must be in [0,1], got %g", c.Policy.MinConfidence))
	}
	if c.Policy.RewardToRisk <= 0 {
		errs = append(errs, "policy: reward_to_risk must be > 0")
	}
	if c.Policy.MaxStopLossPct <= 0 {
		errs = append(errs, "policy: max_stop_loss_pct must be > 0")
	}
	if c.Policy.TrailFraction <= 0 || c.Policy.TrailFraction >= 1 {
		errs = append(errs, fmt.Sprintf("policy: trail_fraction must be in (0,1), got %g", c.Policy.TrailFraction))
	}
	if c.Policy.MinHolding.Duration > c.Policy.MaxHolding.Duration {
		errs = append(errs, "policy: min_holding must not exceed max_holding")
	}

	// Exit
	if c.Exit.LossFloorPct >= 0 {
		errs = append(errs, "exit: loss_floor_pct must be negative")
	}
	if c.Exit.SmallPeakPct >= c.Exit.MediumPeakPct {
		errs = append(errs, "exit: small_peak_pct must be less than medium_peak_pct")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
