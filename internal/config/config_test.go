package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Output:   OutputConfig{BasePath: "/tmp/out", Mode: "continue"},
		Behavior: BehaviorConfig{Delay: time.Second, RetryDelay: time.Second, MaxRetries: 3, RequestTimeout: time.Minute},
		Storage:  StorageConfig{Provider: "local"},
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
output:
  base_path: /data/spider
  mode: Force
  dry_run: true
logging:
  verbosity: debug
  development: true
behavior:
  delay: 250ms
  retry_delay: 2s
  max_retries: 4
  request_timeout: 30s
request:
  user_agent: test-agent/1.0
storage:
  provider: gcs
  gcs_bucket: spider-bucket
journal:
  dsn: postgres://localhost/spider
pubsub:
  project_id: proj
  topic: spider-runs
server:
  addr: ":9090"
sites:
  - sites/a.yaml
  - sites/b.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/spider", cfg.Output.BasePath)
	assert.Equal(t, "force", cfg.Output.Mode)
	assert.True(t, cfg.Output.DryRun)
	assert.Equal(t, "debug", cfg.Logging.Verbosity)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, BehaviorConfig{
		Delay:          250 * time.Millisecond,
		RetryDelay:     2 * time.Second,
		MaxRetries:     4,
		RequestTimeout: 30 * time.Second,
	}, cfg.Behavior)
	assert.Equal(t, "test-agent/1.0", cfg.Request.UserAgent)
	assert.Equal(t, StorageConfig{Provider: "gcs", GCSBucket: "spider-bucket"}, cfg.Storage)
	assert.Equal(t, "postgres://localhost/spider", cfg.Journal.DSN)
	assert.Equal(t, "spider", cfg.Journal.TablePrefix)
	assert.Equal(t, PubSubConfig{ProjectID: "proj", Topic: "spider-runs"}, cfg.PubSub)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"sites/a.yaml", "sites/b.yaml"}, cfg.Sites)
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SPIDER_DATA_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "spider-data"), cfg.Output.BasePath)
	assert.Equal(t, "continue", cfg.Output.Mode)
	assert.False(t, cfg.Output.DryRun)
	assert.Equal(t, "warn", cfg.Logging.Verbosity)
	assert.Equal(t, BehaviorConfig{
		Delay:          time.Second,
		RetryDelay:     10 * time.Second,
		MaxRetries:     10,
		RequestTimeout: 5 * time.Minute,
	}, cfg.Behavior)
	assert.Equal(t, "local", cfg.Storage.Provider)
	assert.Equal(t, RequestConfig{Burst: 1}, cfg.Request)
	assert.Equal(t, TelemetryConfig{ServiceName: "spider"}, cfg.Telemetry)
	assert.Empty(t, cfg.Journal.DSN)
	assert.Empty(t, cfg.Sites)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SPIDER_DATA_PATH", "/var/lib/spider")
	t.Setenv("SPIDER_OUTPUT_MODE", "skip")
	t.Setenv("SPIDER_BEHAVIOR_MAX_RETRIES", "2")
	t.Setenv("SPIDER_BEHAVIOR_DELAY", "0s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/spider", cfg.Output.BasePath)
	assert.Equal(t, "skip", cfg.Output.Mode)
	assert.Equal(t, 2, cfg.Behavior.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Behavior.Delay)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  base_path: /tmp\n  mode: sometimes\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "output.mode")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "negative delay", mutate: func(c *Config) { c.Behavior.Delay = -1 }, wantErr: "behavior.delay"},
		{name: "negative retry delay", mutate: func(c *Config) { c.Behavior.RetryDelay = -1 }, wantErr: "behavior.retry_delay"},
		{name: "zero retries", mutate: func(c *Config) { c.Behavior.MaxRetries = 0 }, wantErr: "behavior.max_retries"},
		{name: "zero timeout", mutate: func(c *Config) { c.Behavior.RequestTimeout = 0 }, wantErr: "behavior.request_timeout"},
		{name: "empty base path", mutate: func(c *Config) { c.Output.BasePath = " " }, wantErr: "output.base_path"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Provider = "gcs" }, wantErr: "storage.gcs_bucket"},
		{name: "unknown provider", mutate: func(c *Config) { c.Storage.Provider = "s3" }, wantErr: "storage.provider"},
		{name: "negative rps", mutate: func(c *Config) { c.Request.MaxRPS = -1 }, wantErr: "request.max_rps"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.Topic = "t" }, wantErr: "pubsub"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExpandHome(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := expandHome("~/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), got)

	got, err = expandHome("/abs/~/x")
	require.NoError(t, err)
	assert.Equal(t, "/abs/~/x", got)
}
