package store

import (
	"time"
)

// RunStatus is the lifecycle state of a benchmark run.
type RunStatus string

// Run status constants.
const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// TriggerType records what caused a run to be created.
type TriggerType string

// Trigger type constants.
const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerEvent     TriggerType = "EVENT"
	TriggerWebhook   TriggerType = "WEBHOOK"
	TriggerRetry     TriggerType = "RETRY"
)

// Run is one execution of a benchmark against an agent.
type Run struct {
	ID               string      `gorm:"primaryKey;size:36" json:"id"`
	BenchmarkID      string      `gorm:"index;not null" json:"benchmark_id"`
	AgentID          string      `gorm:"index;not null" json:"agent_id"`
	Status           RunStatus   `gorm:"index;not null" json:"status"`
	TriggerType      TriggerType `gorm:"not null" json:"trigger_type"`
	TriggeredBy      string      `json:"triggered_by"`
	TraceBatchName   string      `json:"trace_batch_name,omitempty"`
	StartedAt        *time.Time  `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at"`
	TracesProcessed  int         `json:"traces_processed"`
	MetricsComputed  int         `json:"metrics_computed"`
	RetryCount       int         `json:"retry_count"`
	RetryOfRunID     string      `gorm:"size:36" json:"retry_of_run_id,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	ScheduleConfigID string      `gorm:"index;size:36" json:"schedule_config_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Duration returns the wall time between start and completion, or zero
// if the run has not finished.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}

	return r.CompletedAt.Sub(*r.StartedAt)
}

// ScheduleConfig drives periodic runs from a cron expression.
type ScheduleConfig struct {
	ID                     string     `gorm:"primaryKey;size:36" json:"id"`
	Name                   string     `gorm:"not null" json:"name" validate:"required,max=255"`
	Description            string     `json:"description,omitempty"`
	BenchmarkID            string     `gorm:"index;not null" json:"benchmark_id" validate:"required"`
	AgentID                string     `gorm:"index;not null" json:"agent_id" validate:"required"`
	CronExpression         string     `gorm:"not null" json:"cron_expression" validate:"required"`
	Timezone               string     `gorm:"not null" json:"timezone"`
	Enabled                bool       `gorm:"index" json:"enabled"`
	TraceBatchName         string     `json:"trace_batch_name,omitempty"`
	NextRunAt              *time.Time `gorm:"index" json:"next_run_at"`
	LastFiredAt            *time.Time `json:"last_fired_at"`
	LastRunAt              *time.Time `json:"last_run_at"`
	LastRunID              string     `gorm:"size:36" json:"last_run_id,omitempty"`
	LastRunStatus          RunStatus  `json:"last_run_status,omitempty"`
	RunCount               int        `json:"run_count"`
	FailureCount           int        `json:"failure_count"`
	ConsecutiveFailures    int        `json:"consecutive_failures"`
	MaxConsecutiveFailures int        `json:"max_consecutive_failures" validate:"gte=0"`
	AutoDisableOnFailure   bool       `json:"auto_disable_on_failure"`
	CreatedBy              string     `json:"created_by,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// AlertCondition is the comparison applied to a KPI value.
type AlertCondition string

// Alert condition constants. The percentage and anomaly conditions are
// accepted but never fire.
const (
	ConditionLessThan        AlertCondition = "LESS_THAN"
	ConditionGreaterThan     AlertCondition = "GREATER_THAN"
	ConditionEquals          AlertCondition = "EQUALS"
	ConditionNotEquals       AlertCondition = "NOT_EQUALS"
	ConditionPercentageDrop  AlertCondition = "PERCENTAGE_DROP"
	ConditionPercentageRise  AlertCondition = "PERCENTAGE_RISE"
	ConditionAnomalyDetected AlertCondition = "ANOMALY_DETECTED"
)

// Severity grades an alert.
type Severity string

// Severity constants.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// NotificationChannel names a delivery channel for alerts.
type NotificationChannel string

// Notification channel constants.
const (
	ChannelEmail   NotificationChannel = "EMAIL"
	ChannelSlack   NotificationChannel = "SLACK"
	ChannelTeams   NotificationChannel = "TEAMS"
	ChannelWebhook NotificationChannel = "WEBHOOK"
	ChannelInApp   NotificationChannel = "IN_APP"
)

// AlertConfig watches one KPI of one benchmark.
type AlertConfig struct {
	ID              string                `gorm:"primaryKey;size:36" json:"id"`
	Name            string                `gorm:"not null" json:"name" validate:"required,max=255"`
	Description     string                `json:"description,omitempty"`
	BenchmarkID     string                `gorm:"index;not null" json:"benchmark_id" validate:"required"`
	AgentID         string                `json:"agent_id,omitempty"`
	KPIName         string                `gorm:"not null" json:"kpi_name" validate:"required"`
	Condition       AlertCondition        `gorm:"not null" json:"condition" validate:"required,oneof=LESS_THAN GREATER_THAN EQUALS NOT_EQUALS PERCENTAGE_DROP PERCENTAGE_RISE ANOMALY_DETECTED"`
	Threshold       *float64              `json:"threshold" validate:"required"`
	Severity        Severity              `gorm:"not null" json:"severity" validate:"required,oneof=INFO WARNING ERROR CRITICAL"`
	Channels        []NotificationChannel `gorm:"serializer:json" json:"channels" validate:"dive,oneof=EMAIL SLACK TEAMS WEBHOOK IN_APP"`
	Recipients      []string              `gorm:"serializer:json" json:"recipients,omitempty" validate:"dive,email"`
	WebhookURL      string                `json:"webhook_url,omitempty" validate:"omitempty,url"`
	Enabled         bool                  `gorm:"index" json:"enabled"`
	CooldownMinutes int                   `json:"cooldown_minutes" validate:"gte=0"`
	LastTriggeredAt *time.Time            `json:"last_triggered_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// InCooldown reports whether the alert fired less than CooldownMinutes ago.
func (a *AlertConfig) InCooldown(now time.Time) bool {
	if a.LastTriggeredAt == nil || a.CooldownMinutes <= 0 {
		return false
	}

	return now.Before(a.LastTriggeredAt.Add(time.Duration(a.CooldownMinutes) * time.Minute))
}

// MarkTriggered records a firing at now.
func (a *AlertConfig) MarkTriggered(now time.Time) {
	a.LastTriggeredAt = &now
}

// ThresholdValue returns the configured threshold, or zero when unset.
func (a *AlertConfig) ThresholdValue() float64 {
	if a.Threshold == nil {
		return 0
	}

	return *a.Threshold
}

// KPIStatus grades a KPI value against its target band.
type KPIStatus string

// KPI status constants.
const (
	KPIStatusHealthy  KPIStatus = "HEALTHY"
	KPIStatusWarning  KPIStatus = "WARNING"
	KPIStatusCritical KPIStatus = "CRITICAL"
	KPIStatusUnknown  KPIStatus = "UNKNOWN"
)

// KPIHistory is one KPI evaluation for one run. Rows are append-only.
type KPIHistory struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	RunID             string    `gorm:"index;not null;size:36" json:"run_id"`
	BenchmarkID       string    `gorm:"index:idx_kpi_history_lookup;not null" json:"benchmark_id"`
	AgentID           string    `gorm:"index:idx_kpi_history_lookup;not null" json:"agent_id"`
	KPIID             string    `json:"kpi_id"`
	KPIName           string    `gorm:"index:idx_kpi_history_lookup;not null" json:"kpi_name"`
	Value             float64   `json:"value"`
	BaselineValue     *float64  `json:"baseline_value,omitempty"`
	TargetMin         *float64  `json:"target_min,omitempty"`
	TargetMax         *float64  `json:"target_max,omitempty"`
	DeltaFromBaseline *float64  `json:"delta_from_baseline,omitempty"`
	DeltaPercentage   *float64  `json:"delta_percentage,omitempty"`
	Status            KPIStatus `gorm:"not null" json:"status"`
	RecordedAt        time.Time `gorm:"index" json:"recorded_at"`
}

// Snapshot source constants.
const (
	SnapshotSourceProvider = "provider"
	SnapshotSourceExternal = "external"
)

// MetricSnapshot is one metric value for one trace of one run. Rows are
// append-only.
type MetricSnapshot struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	RunID      string    `gorm:"index;not null;size:36" json:"run_id"`
	TraceID    string    `gorm:"not null" json:"trace_id"`
	MetricName string    `gorm:"not null" json:"metric_name"`
	Source     string    `gorm:"not null" json:"source"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
