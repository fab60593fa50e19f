package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  addr: ":9090"
  api_key: secret
logging:
  development: false
capture:
  engine: remote
  remote_url: ws://127.0.0.1:9222
  page_load_timeout: 20s
  settle_min: 500ms
  settle_max: 2s
  archive: local
  archive_dir: /tmp/archive
extract:
  api_key: key
  model: gemini-test
  prompt: "read the price"
  price_keywords: ["price", "giá"]
database:
  url: postgres://localhost/sentinel
  retry_attempts: 5
crawl:
  batch_size: 4
notify:
  backend: pubsub
  project_id: proj
  topic: alerts
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "secret", cfg.Server.APIKey)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "remote", cfg.Capture.Engine)
	require.Equal(t, 20*time.Second, cfg.Capture.PageLoadTimeout)
	require.Equal(t, 10*time.Second, cfg.Capture.BodyWaitTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Capture.SettleMin)
	require.Equal(t, "gemini-test", cfg.Extract.Model)
	require.Equal(t, []string{"price", "giá"}, cfg.Extract.PriceKeywords)
	require.Equal(t, 5, cfg.Database.RetryAttempts)
	require.Equal(t, time.Second, cfg.Database.RetryBaseDelay)
	require.Equal(t, 4, cfg.Crawl.BatchSize)
	require.Equal(t, "pubsub", cfg.Notify.Backend)
	require.Equal(t, "Price Alert - Enemy Product Price Drop!", cfg.Notify.Subject)
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("SENTINEL_DATABASE_URL", "postgres://env/sentinel")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://env/sentinel", cfg.Database.URL)
	require.Equal(t, "chromium", cfg.Capture.Engine)
	require.Equal(t, 30*time.Second, cfg.Capture.PageLoadTimeout)
	require.Equal(t, 3, cfg.Crawl.BatchSize)
	require.Equal(t, 3, cfg.Database.RetryAttempts)
	require.Equal(t, "log", cfg.Notify.Backend)
}

func TestLoadSecretsAndEndpointsFromEnv(t *testing.T) {
	t.Setenv("SENTINEL_DATABASE_URL", "postgres://env/sentinel")
	t.Setenv("SENTINEL_EXTRACT_API_KEY", "gemini-key")
	t.Setenv("SENTINEL_SERVER_API_KEY", "api-key")
	t.Setenv("SENTINEL_CAPTURE_REMOTE_URL", "ws://chrome:9222")
	t.Setenv("SENTINEL_CAPTURE_ARCHIVE_DIR", "/var/archive")
	t.Setenv("SENTINEL_CAPTURE_ARCHIVE_BUCKET", "snapshots-bucket")
	t.Setenv("SENTINEL_NOTIFY_PROJECT_ID", "proj")
	t.Setenv("SENTINEL_NOTIFY_TOPIC", "alerts")
	t.Setenv("SENTINEL_TELEMETRY_PROJECT_ID", "trace-proj")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://env/sentinel", cfg.Database.URL)
	require.Equal(t, "gemini-key", cfg.Extract.APIKey)
	require.Equal(t, "api-key", cfg.Server.APIKey)
	require.Equal(t, "ws://chrome:9222", cfg.Capture.RemoteURL)
	require.Equal(t, "/var/archive", cfg.Capture.ArchiveDir)
	require.Equal(t, "snapshots-bucket", cfg.Capture.ArchiveBucket)
	require.Equal(t, "proj", cfg.Notify.ProjectID)
	require.Equal(t, "alerts", cfg.Notify.Topic)
	require.Equal(t, "trace-proj", cfg.Telemetry.ProjectID)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Addr: ":8080"},
			Capture:  CaptureConfig{PageLoadTimeout: time.Second, BodyWaitTimeout: time.Second, SettleMax: time.Second, MaxParallel: 1},
			Database: DatabaseConfig{URL: "postgres://x", RetryAttempts: 3},
			Crawl:    CrawlConfig{BatchSize: 3},
			Notify:   NotifyConfig{Backend: "log"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"zero batch", func(c *Config) { c.Crawl.BatchSize = 0 }, "crawl.batch_size"},
		{"settle inverted", func(c *Config) { c.Capture.SettleMin = 2 * time.Second }, "capture.settle_min"},
		{"unknown archive", func(c *Config) { c.Capture.Archive = "s3" }, "capture.archive"},
		{"gcs without bucket", func(c *Config) { c.Capture.Archive = "gcs" }, "capture.archive_bucket"},
		{"pubsub without topic", func(c *Config) { c.Notify.Backend = "pubsub" }, "notify.project_id"},
		{"unknown notifier", func(c *Config) { c.Notify.Backend = "smtp" }, "notify.backend"},
		{"scheduler without interval", func(c *Config) { c.Scheduler.Enabled = true }, "scheduler"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tc.want), err.Error())
		})
	}
}
