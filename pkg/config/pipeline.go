package config

import (
	"errors"
	"time"
)

// TracesConfig selects the trace source. Exactly one of Langfuse or File
// must be configured.
type TracesConfig struct {
	Langfuse LangfuseConfig  `yaml:"langfuse,omitempty" mapstructure:"langfuse"`
	File     FileTraceConfig `yaml:"file,omitempty" mapstructure:"file"`
}

// LangfuseConfig contains Langfuse public API settings.
type LangfuseConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	PublicKey   string        `yaml:"public_key" mapstructure:"public_key"`
	SecretKey   string        `yaml:"secret_key" mapstructure:"secret_key"`
	Timeout     time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Concurrency int           `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// FileTraceConfig reads trace batches from a local JSON file.
type FileTraceConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// IsLangfuse reports whether the Langfuse source is configured.
func (c *TracesConfig) IsLangfuse() bool {
	return c.Langfuse.BaseURL != ""
}

// Validate checks that exactly one trace source is configured.
func (c *TracesConfig) Validate() error {
	hasLangfuse := c.IsLangfuse()
	hasFile := c.File.Path != ""

	switch {
	case hasLangfuse && hasFile:
		return errors.New("only one of langfuse or file may be configured")
	case !hasLangfuse && !hasFile:
		return errors.New("one of langfuse or file must be configured")
	case hasLangfuse && (c.Langfuse.PublicKey == "" || c.Langfuse.SecretKey == ""):
		return errors.New("langfuse public_key and secret_key are required")
	}

	return nil
}

// OrchestratorConfig tunes run execution.
type OrchestratorConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	QueueSize        int `yaml:"queue_size" mapstructure:"queue_size"`
	TraceConcurrency int `yaml:"trace_concurrency" mapstructure:"trace_concurrency"`
	MaxRetries       int `yaml:"max_retries" mapstructure:"max_retries"`
}

// SchedulerConfig tunes the scheduled-task runner.
type SchedulerConfig struct {
	Enabled            bool          `yaml:"enabled" mapstructure:"enabled"`
	PollInterval       time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	StaleRunTimeout    time.Duration `yaml:"stale_run_timeout" mapstructure:"stale_run_timeout"`
	StaleCheckInterval time.Duration `yaml:"stale_check_interval" mapstructure:"stale_check_interval"`
}

// NotificationsConfig contains per-channel transport settings.
type NotificationsConfig struct {
	Slack   IncomingWebhookConfig `yaml:"slack,omitempty" mapstructure:"slack"`
	Teams   IncomingWebhookConfig `yaml:"teams,omitempty" mapstructure:"teams"`
	Email   EmailConfig           `yaml:"email,omitempty" mapstructure:"email"`
	Webhook WebhookConfig         `yaml:"webhook,omitempty" mapstructure:"webhook"`
}

// IncomingWebhookConfig configures a chat incoming webhook.
type IncomingWebhookConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// WebhookConfig configures the generic per-alert webhook channel.
type WebhookConfig struct {
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ReportsConfig configures run summary archiving.
type ReportsConfig struct {
	S3 S3ReportConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3ReportConfig contains S3 settings for run summary uploads.
type S3ReportConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}
