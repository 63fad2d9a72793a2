// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Control  ControlConfig  `mapstructure:"control"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Output   OutputConfig   `mapstructure:"output"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// CrawlerConfig governs crawl scope and pipeline behavior.
type CrawlerConfig struct {
	Market             string   `mapstructure:"market"`
	Mode               string   `mapstructure:"mode"`
	MaxRecords         int      `mapstructure:"max_records"`
	MaxDurationSeconds int      `mapstructure:"max_duration_seconds"`
	QueueDepth         int      `mapstructure:"queue_depth"`
	PageSize           int      `mapstructure:"page_size"`
	FlushSize          int      `mapstructure:"flush_size"`
	AllowDivisions     []string `mapstructure:"allow_divisions"`
	DenySlugs          []string `mapstructure:"deny_slugs"`
}

// HTTPConfig configures fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
	MaxRetries     int  `mapstructure:"max_retries"`
	RespectRobots  bool `mapstructure:"respect_robots"`
}

// ControlConfig bounds the adaptive concurrency controller.
type ControlConfig struct {
	MinConcurrency int `mapstructure:"min_concurrency"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
	BurstCeiling   int `mapstructure:"burst_ceiling"`
	DelayMs        int `mapstructure:"delay_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// SnapshotConfig selects where exhausted-page snapshots are archived.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig controls the optional Postgres record sink.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig controls the optional record stream.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// OutputConfig sets the JSONL dataset location.
type OutputConfig struct {
	DatasetPath string `mapstructure:"dataset_path"`
}

// LedgerConfig locates the SQLite resume ledger.
type LedgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOPCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.market", "GERMANY")
	v.SetDefault("crawler.mode", "shallow")
	v.SetDefault("crawler.queue_depth", 10000)
	v.SetDefault("crawler.page_size", 36)
	v.SetDefault("crawler.flush_size", 50)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("control.min_concurrency", 2)
	v.SetDefault("control.max_concurrency", 8)
	v.SetDefault("control.burst_ceiling", 12)
	v.SetDefault("control.delay_ms", 500)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("snapshot.backend", "local")
	v.SetDefault("snapshot.base_dir", "data/snapshots")
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("database.table", "products")
	v.SetDefault("output.dataset_path", "data/products.jsonl")
	v.SetDefault("ledger.dir", "data/ledger")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Market == "" {
		return fmt.Errorf("crawler.market is required")
	}
	switch c.Crawler.Mode {
	case "shallow", "deep":
	default:
		return fmt.Errorf("crawler.mode must be shallow or deep, got %q", c.Crawler.Mode)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Control.MinConcurrency > c.Control.MaxConcurrency {
		return fmt.Errorf("control.min_concurrency must not exceed control.max_concurrency")
	}
	if c.Control.BurstCeiling > 0 && c.Control.BurstCeiling < c.Control.MaxConcurrency {
		return fmt.Errorf("control.burst_ceiling must be >= control.max_concurrency")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Snapshot.Backend {
	case "local", "gcs", "memory", "off":
	default:
		return fmt.Errorf("snapshot.backend must be local, gcs, memory, or off, got %q", c.Snapshot.Backend)
	}
	if c.Snapshot.Backend == "gcs" && c.Snapshot.GCSBucket == "" {
		return fmt.Errorf("snapshot.gcs_bucket is required for the gcs backend")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when the database sink is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id are required when publishing is enabled")
	}
	if c.Output.DatasetPath == "" {
		return fmt.Errorf("output.dataset_path is required")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MaxDuration returns the optional wall-clock budget, zero when unset.
func (c Config) MaxDuration() time.Duration {
	return time.Duration(c.Crawler.MaxDurationSeconds) * time.Second
}

// InterRequestDelay returns the controller's base pacing interval.
func (c Config) InterRequestDelay() time.Duration {
	return time.Duration(c.Control.DelayMs) * time.Millisecond
}
