// Package config loads and validates sentinel configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CaptureConfig configures the headless browser used for page snapshots.
type CaptureConfig struct {
	Engine          string        `mapstructure:"engine"`
	RemoteURL       string        `mapstructure:"remote_url"`
	SnapshotDir     string        `mapstructure:"snapshot_dir"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	BodyWaitTimeout time.Duration `mapstructure:"body_wait_timeout"`
	SettleMin       time.Duration `mapstructure:"settle_min"`
	SettleMax       time.Duration `mapstructure:"settle_max"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	DomainQPS       float64       `mapstructure:"domain_qps"`
	Grayscale       bool          `mapstructure:"grayscale"`
	KeepSnapshots   bool          `mapstructure:"keep_snapshots"`
	Archive         string        `mapstructure:"archive"`
	ArchiveDir      string        `mapstructure:"archive_dir"`
	ArchiveBucket   string        `mapstructure:"archive_bucket"`
}

// ExtractConfig holds the vision model credentials and parsing knobs.
type ExtractConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	Prompt             string        `mapstructure:"prompt"`
	Timeout            time.Duration `mapstructure:"timeout"`
	NameFallbackFields []string      `mapstructure:"name_fallback_fields"`
	NameKeywords       []string      `mapstructure:"name_keywords"`
	PriceKeywords      []string      `mapstructure:"price_keywords"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// CrawlConfig governs orchestrator behavior.
type CrawlConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	ProbeEnabled  bool          `mapstructure:"probe_enabled"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// SchedulerConfig sets the periodic job intervals.
type SchedulerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	CrawlInterval    time.Duration `mapstructure:"crawl_interval"`
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
}

// NotifyConfig selects where undercut alerts are delivered.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Subject   string `mapstructure:"subject"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ProjectID      string `mapstructure:"project_id"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
}

const defaultPrompt = `Read the product page in this screenshot. Reply with JSON only: an object with
"product_name", "current_price" and "promotional_price" (empty when there is no promotion)
as shown on the page, plus any other visible attributes as extra string fields.`

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
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
	// Keys without a real default still need one registered, or AutomaticEnv
	// never surfaces them to Unmarshal.
	for _, key := range []string{
		"server.api_key",
		"capture.remote_url",
		"capture.archive_dir",
		"capture.archive_bucket",
		"extract.api_key",
		"database.url",
		"notify.project_id",
		"notify.topic",
		"telemetry.project_id",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", "3m")
	v.SetDefault("logging.development", true)

	v.SetDefault("capture.engine", "chromium")
	v.SetDefault("capture.snapshot_dir", "snapshots")
	v.SetDefault("capture.page_load_timeout", "30s")
	v.SetDefault("capture.body_wait_timeout", "10s")
	v.SetDefault("capture.settle_min", "1s")
	v.SetDefault("capture.settle_max", "3s")
	v.SetDefault("capture.user_agent", "price-sentinel/0.1")
	v.SetDefault("capture.max_parallel", 3)
	v.SetDefault("capture.domain_qps", 0.5)
	v.SetDefault("capture.grayscale", true)
	v.SetDefault("capture.keep_snapshots", false)
	v.SetDefault("capture.archive", "none")

	v.SetDefault("extract.model", "gemini-2.0-flash")
	v.SetDefault("extract.prompt", defaultPrompt)
	v.SetDefault("extract.timeout", "60s")
	v.SetDefault("extract.name_fallback_fields", []string{"name", "title", "product", "ten_san_pham", "tên sản phẩm"})
	v.SetDefault("extract.name_keywords", []string{"product", "name", "tên", "sản phẩm"})
	v.SetDefault("extract.price_keywords", []string{"price", "giá", "₫", "vnd", "vnđ", "$", "€"})

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.retry_attempts", 3)
	v.SetDefault("database.retry_base_delay", "1s")
	v.SetDefault("database.ensure_schema", true)

	v.SetDefault("crawl.batch_size", 3)
	v.SetDefault("crawl.probe_enabled", false)
	v.SetDefault("crawl.probe_timeout", "15s")
	v.SetDefault("crawl.respect_robots", true)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.crawl_interval", "24h")
	v.SetDefault("scheduler.reminder_interval", "1h")

	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.subject", "Price Alert - Enemy Product Price Drop!")

	v.SetDefault("telemetry.service_name", "price-sentinel")
	v.SetDefault("telemetry.tracing_enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Capture.PageLoadTimeout <= 0 {
		return fmt.Errorf("capture.page_load_timeout must be > 0")
	}
	if c.Capture.BodyWaitTimeout <= 0 {
		return fmt.Errorf("capture.body_wait_timeout must be > 0")
	}
	if c.Capture.SettleMin < 0 || c.Capture.SettleMin > c.Capture.SettleMax {
		return fmt.Errorf("capture.settle_min must be between 0 and capture.settle_max")
	}
	if c.Capture.MaxParallel <= 0 {
		return fmt.Errorf("capture.max_parallel must be > 0")
	}
	switch c.Capture.Archive {
	case "none", "":
	case "local":
		if c.Capture.ArchiveDir == "" {
			return fmt.Errorf("capture.archive_dir must be set when capture.archive is local")
		}
	case "gcs":
		if c.Capture.ArchiveBucket == "" {
			return fmt.Errorf("capture.archive_bucket must be set when capture.archive is gcs")
		}
	default:
		return fmt.Errorf("capture.archive %q is not supported", c.Capture.Archive)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if c.Database.RetryAttempts <= 0 {
		return fmt.Errorf("database.retry_attempts must be > 0")
	}
	if c.Crawl.BatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size must be > 0")
	}
	if c.Scheduler.Enabled && (c.Scheduler.CrawlInterval <= 0 || c.Scheduler.ReminderInterval <= 0) {
		return fmt.Errorf("scheduler intervals must be > 0 when the scheduler is enabled")
	}
	switch c.Notify.Backend {
	case "log":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	return nil
}
