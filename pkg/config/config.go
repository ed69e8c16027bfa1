package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "AGENTBENCH"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultDatabaseDriver is the default persistence driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "agentbench.db"

	// DefaultWorkers is the default number of orchestration workers.
	DefaultWorkers = 4

	// DefaultQueueSize is the default capacity of the run queue.
	DefaultQueueSize = 64

	// DefaultTraceConcurrency is the default number of traces scored in
	// parallel within one run.
	DefaultTraceConcurrency = 8

	// DefaultMaxRetries is the default retry ceiling for a run lineage.
	DefaultMaxRetries = 3

	// DefaultPollInterval is the default scheduler poll interval.
	DefaultPollInterval = 60 * time.Second

	// DefaultStaleRunTimeout is how long a run may stay RUNNING before the
	// scheduler fails it.
	DefaultStaleRunTimeout = 6 * time.Hour

	// DefaultStaleCheckInterval is how often stale runs are looked for.
	DefaultStaleCheckInterval = time.Hour

	// DefaultHTTPTimeout is the default timeout for outbound HTTP calls.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultLangfuseConcurrency bounds parallel trace detail requests.
	DefaultLangfuseConcurrency = 4
)

// Config is the root configuration for agentbench.
type Config struct {
	Global        GlobalConfig        `yaml:"global" mapstructure:"global"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Catalog       CatalogConfig       `yaml:"catalog" mapstructure:"catalog"`
	Traces        TracesConfig        `yaml:"traces" mapstructure:"traces"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator" mapstructure:"orchestrator"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" mapstructure:"scheduler"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
	Reports       ReportsConfig       `yaml:"reports,omitempty" mapstructure:"reports"`
	Metrics       MetricsConfig       `yaml:"metrics,omitempty" mapstructure:"metrics"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// CatalogConfig points at the benchmark/agent definitions file.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig extends the formula vocabulary with extra metric names.
type MetricsConfig struct {
	ExtraKnownMetrics []string `yaml:"extra_known_metrics,omitempty" mapstructure:"extra_known_metrics"`
}

// Load reads one or more configuration files, merging later files over
// earlier ones, and applies environment overrides and defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every default with viper so that environment
// variables can override keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.public.requests_per_minute", 600)
	v.SetDefault("server.rate_limit.trigger.requests_per_minute", 60)

	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "agentbench")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("catalog.path", "")

	v.SetDefault("traces.langfuse.base_url", "")
	v.SetDefault("traces.langfuse.public_key", "")
	v.SetDefault("traces.langfuse.secret_key", "")
	v.SetDefault("traces.langfuse.timeout", DefaultHTTPTimeout.String())
	v.SetDefault("traces.langfuse.concurrency", DefaultLangfuseConcurrency)
	v.SetDefault("traces.file.path", "")

	v.SetDefault("orchestrator.workers", DefaultWorkers)
	v.SetDefault("orchestrator.queue_size", DefaultQueueSize)
	v.SetDefault("orchestrator.trace_concurrency", DefaultTraceConcurrency)
	v.SetDefault("orchestrator.max_retries", DefaultMaxRetries)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval", DefaultPollInterval.String())
	v.SetDefault("scheduler.stale_run_timeout", DefaultStaleRunTimeout.String())
	v.SetDefault("scheduler.stale_check_interval", DefaultStaleCheckInterval.String())

	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.teams.webhook_url", "")
	v.SetDefault("notifications.email.enabled", false)
	v.SetDefault("notifications.email.host", "")
	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("notifications.email.username", "")
	v.SetDefault("notifications.email.password", "")
	v.SetDefault("notifications.email.from", "")
	v.SetDefault("notifications.webhook.timeout", DefaultHTTPTimeout.String())
	v.SetDefault("notifications.webhook.requests_per_minute", 60)

	v.SetDefault("reports.s3.enabled", false)
	v.SetDefault("reports.s3.endpoint_url", "")
	v.SetDefault("reports.s3.region", "")
	v.SetDefault("reports.s3.bucket", "")
	v.SetDefault("reports.s3.prefix", "")
	v.SetDefault("reports.s3.access_key_id", "")
	v.SetDefault("reports.s3.secret_access_key", "")
	v.SetDefault("reports.s3.force_path_style", false)

	v.SetDefault("metrics.extra_known_metrics", []string{})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	if err := c.Traces.Validate(); err != nil {
		return fmt.Errorf("traces: %w", err)
	}

	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be positive")
	}

	if c.Orchestrator.QueueSize <= 0 {
		return fmt.Errorf("orchestrator.queue_size must be positive")
	}

	if c.Orchestrator.TraceConcurrency <= 0 {
		return fmt.Errorf("orchestrator.trace_concurrency must be positive")
	}

	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must not be negative")
	}

	if c.Scheduler.Enabled && c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}

	if c.Reports.S3.Enabled && c.Reports.S3.Bucket == "" {
		return fmt.Errorf("reports.s3.bucket is required when reports are enabled")
	}

	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Public.RequestsPerMinute <= 0 ||
			c.Server.RateLimit.Trigger.RequestsPerMinute <= 0 {
			return fmt.Errorf("server.rate_limit tiers must be positive")
		}
	}

	return nil
}
