// Package config loads and validates spider configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SPIDER_OUTPUT_MODE.
const EnvPrefix = "SPIDER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Behavior  BehaviorConfig  `mapstructure:"behavior"`
	Request   RequestConfig   `mapstructure:"request"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Journal   JournalConfig   `mapstructure:"journal"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	// Sites lists site definition files to crawl.
	Sites []string `mapstructure:"sites"`
}

// OutputConfig controls where and how crawl output is written.
type OutputConfig struct {
	BasePath string `mapstructure:"base_path"`
	// Mode is continue, skip or force.
	Mode   string `mapstructure:"mode"`
	DryRun bool   `mapstructure:"dry_run"`
}

// LoggingConfig selects verbosity and zap development features.
type LoggingConfig struct {
	Verbosity   string `mapstructure:"verbosity"`
	Development bool   `mapstructure:"development"`
}

// BehaviorConfig holds the pacing and retry defaults for every site.
type BehaviorConfig struct {
	Delay          time.Duration `mapstructure:"delay"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RequestConfig holds request defaults shared by every site.
type RequestConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	// MaxRPS caps requests per second per host across all sites. Zero disables it.
	MaxRPS float64 `mapstructure:"max_rps"`
	Burst  int     `mapstructure:"burst"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing"`
	ServiceName string `mapstructure:"service_name"`
}

// StorageConfig selects the output backend.
type StorageConfig struct {
	// Provider is local or gcs.
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// JournalConfig points at the Postgres run journal. An empty DSN disables it.
type JournalConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// PubSubConfig holds the completion notice topic. Both fields empty disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the metrics and API listener. An empty Addr disables it
// during crawls.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from .env, an optional config file and the environment.
// With an empty path the usual locations are searched and a missing file is
// not an error.
func Load(path string) (Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// NewViper prepares a Viper instance with defaults, env bindings and the config
// file, so callers can bind flags before decoding.
func NewViper(path string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/spider/")
	v.AddConfigPath("$HOME/.spider")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// FromViper decodes and validates a Config.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	basePath, err := expandHome(cfg.Output.BasePath)
	if err != nil {
		return Config{}, err
	}
	cfg.Output.BasePath = basePath
	cfg.Output.Mode = strings.ToLower(strings.TrimSpace(cfg.Output.Mode))
	cfg.Storage.Provider = strings.ToLower(strings.TrimSpace(cfg.Storage.Provider))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.base_path", defaultBasePath())
	v.SetDefault("output.mode", "continue")
	v.SetDefault("output.dry_run", false)
	v.SetDefault("logging.verbosity", "warn")
	v.SetDefault("logging.development", false)
	v.SetDefault("behavior.delay", time.Second)
	v.SetDefault("behavior.retry_delay", 10*time.Second)
	v.SetDefault("behavior.max_retries", 10)
	v.SetDefault("behavior.request_timeout", 5*time.Minute)
	v.SetDefault("request.user_agent", "")
	v.SetDefault("request.respect_robots", false)
	v.SetDefault("request.max_rps", 0)
	v.SetDefault("request.burst", 1)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("journal.dsn", "")
	v.SetDefault("journal.table_prefix", "spider")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "spider")
	v.SetDefault("sites", []string{})
}

func defaultBasePath() string {
	if p := os.Getenv("SPIDER_DATA_PATH"); p != "" {
		return p
	}
	return "~/spider-data"
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Output.Mode {
	case "continue", "skip", "force":
	default:
		return fmt.Errorf("output.mode must be continue, skip or force, got %q", c.Output.Mode)
	}
	if c.Behavior.Delay < 0 {
		return errors.New("behavior.delay must be >= 0")
	}
	if c.Behavior.RetryDelay < 0 {
		return errors.New("behavior.retry_delay must be >= 0")
	}
	if c.Behavior.MaxRetries < 1 {
		return errors.New("behavior.max_retries must be >= 1")
	}
	if c.Behavior.RequestTimeout <= 0 {
		return errors.New("behavior.request_timeout must be > 0")
	}
	if c.Request.MaxRPS < 0 {
		return errors.New("request.max_rps must be >= 0")
	}
	switch c.Storage.Provider {
	case "local":
		if strings.TrimSpace(c.Output.BasePath) == "" {
			return errors.New("output.base_path must be set for local storage")
		}
	case "gcs":
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return errors.New("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("storage.provider must be local or gcs, got %q", c.Storage.Provider)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return errors.New("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}
