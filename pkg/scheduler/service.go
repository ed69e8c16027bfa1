// Package scheduler turns cron schedules into benchmark runs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

// DefaultMaxConsecutiveFailures applies when a schedule leaves the limit
// at zero.
const DefaultMaxConsecutiveFailures = 3

var validate = validator.New()

// Service manages schedules and their run bookkeeping.
type Service interface {
	// Create validates the cron expression and timezone, applies defaults
	// and computes the first fire time.
	Create(ctx context.Context, s *store.ScheduleConfig) error
	Get(ctx context.Context, id string) (*store.ScheduleConfig, error)
	// Update replaces the user-editable fields and recomputes the next
	// fire time. Counters are preserved.
	Update(ctx context.Context, s *store.ScheduleConfig) (*store.ScheduleConfig, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter store.ScheduleFilter) ([]store.ScheduleConfig, error)
	Enable(ctx context.Context, id string) (*store.ScheduleConfig, error)
	Disable(ctx context.Context, id string) (*store.ScheduleConfig, error)

	// FindDue returns enabled schedules whose next fire time has passed.
	FindDue(ctx context.Context) ([]store.ScheduleConfig, error)
	// MarkDispatched records that the fire time held in s was handed off
	// and advances the schedule to its next fire time. The stored row is
	// reloaded first; ErrScheduleDisabled is returned, and nothing is
	// written, when it was disabled in the meantime.
	MarkDispatched(ctx context.Context, s *store.ScheduleConfig, runID string) error

	RecordRunSuccess(ctx context.Context, scheduleID, runID string) error
	RecordRunFailure(ctx context.Context, scheduleID, runID string) error

	// RunFinished feeds terminal runs back into their schedule.
	RunFinished(ctx context.Context, run *store.Run)
}

// Option configures a Service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	log   logrus.FieldLogger
	store store.Store
	now   func() time.Time

	// mu serializes the read-modify-write paths below. Each path writes
	// only the columns it owns.
	mu sync.Mutex
}

// Ensure interface compliance.
var _ Service = (*service)(nil)

// NewService creates a schedule service.
func NewService(log logrus.FieldLogger, st store.Store, opts ...Option) Service {
	s := &service{
		log:   log.WithField("component", "scheduler"),
		store: st,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// nextRunAt computes the first fire time strictly after both now and the
// last recorded fire time.
func (s *service) nextRunAt(cfg *store.ScheduleConfig) (*time.Time, error) {
	sched, err := ParseCron(cfg.CronExpression)
	if err != nil {
		return nil, err
	}

	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	from := s.now()
	if cfg.LastFiredAt != nil && cfg.LastFiredAt.After(from) {
		from = *cfg.LastFiredAt
	}

	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return nil, fmt.Errorf("%w %q: no future fire time", ErrInvalidCron, cfg.CronExpression)
	}

	next = next.UTC()

	return &next, nil
}

func (s *service) validate(cfg *store.ScheduleConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	if _, err := ParseCron(cfg.CronExpression); err != nil {
		return err
	}

	if _, err := LoadLocation(cfg.Timezone); err != nil {
		return err
	}

	return nil
}

func (s *service) Create(ctx context.Context, cfg *store.ScheduleConfig) error {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}

	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	if err := s.validate(cfg); err != nil {
		return err
	}

	cfg.RunCount = 0
	cfg.FailureCount = 0
	cfg.ConsecutiveFailures = 0
	cfg.LastFiredAt = nil
	cfg.NextRunAt = nil

	if cfg.Enabled {
		next, err := s.nextRunAt(cfg)
		if err != nil {
			return err
		}

		cfg.NextRunAt = next
	}

	if err := s.store.CreateSchedule(ctx, cfg); err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"schedule_id":  cfg.ID,
		"benchmark_id": cfg.BenchmarkID,
		"agent_id":     cfg.AgentID,
		"cron":         cfg.CronExpression,
		"next_run_at":  cfg.NextRunAt,
	}).Info("Created schedule")

	return nil
}

func (s *service) Get(ctx context.Context, id string) (*store.ScheduleConfig, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *service) Update(
	ctx context.Context, update *store.ScheduleConfig,
) (*store.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetSchedule(ctx, update.ID)
	if err != nil {
		return nil, err
	}

	if update.Timezone == "" {
		update.Timezone = existing.Timezone
	}

	if update.MaxConsecutiveFailures == 0 {
		update.MaxConsecutiveFailures = existing.MaxConsecutiveFailures
	}

	if err := s.validate(update); err != nil {
		return nil, err
	}

	existing.CronExpression = update.CronExpression
	existing.Timezone = update.Timezone
	existing.NextRunAt = nil

	if update.Enabled {
		next, err := s.nextRunAt(existing)
		if err != nil {
			return nil, err
		}

		existing.NextRunAt = next
	}

	if err := s.store.UpdateScheduleFields(ctx, existing.ID, map[string]any{
		"name":                     update.Name,
		"description":              update.Description,
		"benchmark_id":             update.BenchmarkID,
		"agent_id":                 update.AgentID,
		"cron_expression":          update.CronExpression,
		"timezone":                 update.Timezone,
		"trace_batch_name":         update.TraceBatchName,
		"max_consecutive_failures": update.MaxConsecutiveFailures,
		"auto_disable_on_failure":  update.AutoDisableOnFailure,
		"enabled":                  update.Enabled,
		"next_run_at":              timeValue(existing.NextRunAt),
	}); err != nil {
		return nil, fmt.Errorf("updating schedule: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"schedule_id": existing.ID,
		"next_run_at": existing.NextRunAt,
	}).Info("Updated schedule")

	return s.store.GetSchedule(ctx, existing.ID)
}

func (s *service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}

	s.log.WithField("schedule_id", id).Info("Deleted schedule")

	return nil
}

func (s *service) List(
	ctx context.Context, filter store.ScheduleFilter,
) ([]store.ScheduleConfig, error) {
	return s.store.ListSchedules(ctx, filter)
}

func (s *service) Enable(ctx context.Context, id string) (*store.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := s.nextRunAt(cfg)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateScheduleFields(ctx, id, map[string]any{
		"enabled":              true,
		"consecutive_failures": 0,
		"next_run_at":          *next,
	}); err != nil {
		return nil, fmt.Errorf("updating schedule: %w", err)
	}

	cfg.Enabled = true
	cfg.ConsecutiveFailures = 0
	cfg.NextRunAt = next

	s.log.WithFields(logrus.Fields{
		"schedule_id": id,
		"next_run_at": next,
	}).Info("Enabled schedule")

	return cfg, nil
}

func (s *service) Disable(ctx context.Context, id string) (*store.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.UpdateScheduleFields(ctx, id, map[string]any{
		"enabled":     false,
		"next_run_at": nil,
	}); err != nil {
		return nil, fmt.Errorf("updating schedule: %w", err)
	}

	s.log.WithField("schedule_id", id).Info("Disabled schedule")

	return s.store.GetSchedule(ctx, id)
}

func (s *service) FindDue(ctx context.Context) ([]store.ScheduleConfig, error) {
	return s.store.ListDueSchedules(ctx, s.now().UTC())
}

func (s *service) MarkDispatched(
	ctx context.Context, cfg *store.ScheduleConfig, runID string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetSchedule(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("loading schedule %s: %w", cfg.ID, err)
	}

	if !current.Enabled {
		*cfg = *current

		return fmt.Errorf("%w: %s", ErrScheduleDisabled, cfg.ID)
	}

	now := s.now().UTC()

	fired := now
	if cfg.NextRunAt != nil {
		fired = *cfg.NextRunAt
	}

	current.LastFiredAt = &fired

	next, err := s.nextRunAt(current)
	if err != nil {
		return err
	}

	current.NextRunAt = next

	fields := map[string]any{
		"last_fired_at": fired,
		"next_run_at":   *next,
	}

	if runID != "" {
		current.LastRunID = runID
		current.LastRunAt = &now
		current.LastRunStatus = store.RunStatusPending

		fields["last_run_id"] = runID
		fields["last_run_at"] = now
		fields["last_run_status"] = string(store.RunStatusPending)
	}

	if err := s.store.UpdateScheduleFields(ctx, cfg.ID, fields); err != nil {
		return fmt.Errorf("advancing schedule %s: %w", cfg.ID, err)
	}

	*cfg = *current

	return nil
}

func (s *service) RecordRunSuccess(ctx context.Context, scheduleID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	fields := map[string]any{
		"last_run_at":          now,
		"last_run_status":      string(store.RunStatusCompleted),
		"run_count":            cfg.RunCount + 1,
		"consecutive_failures": 0,
	}

	if runID != "" {
		fields["last_run_id"] = runID
	}

	if err := s.store.UpdateScheduleFields(ctx, scheduleID, fields); err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"schedule_id": scheduleID,
		"run_id":      runID,
	}).Info("Recorded successful scheduled run")

	return nil
}

func (s *service) RecordRunFailure(ctx context.Context, scheduleID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	consecutive := cfg.ConsecutiveFailures + 1
	now := s.now().UTC()
	fields := map[string]any{
		"last_run_at":          now,
		"last_run_status":      string(store.RunStatusFailed),
		"run_count":            cfg.RunCount + 1,
		"failure_count":        cfg.FailureCount + 1,
		"consecutive_failures": consecutive,
	}

	if runID != "" {
		fields["last_run_id"] = runID
	}

	log := s.log.WithFields(logrus.Fields{
		"schedule_id":          scheduleID,
		"run_id":               runID,
		"consecutive_failures": consecutive,
	})

	disable := cfg.AutoDisableOnFailure &&
		cfg.MaxConsecutiveFailures > 0 &&
		consecutive >= cfg.MaxConsecutiveFailures
	if disable {
		fields["enabled"] = false
		fields["next_run_at"] = nil
	}

	if err := s.store.UpdateScheduleFields(ctx, scheduleID, fields); err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	if disable {
		log.Warn("Schedule disabled after repeated failures")
	} else {
		log.Warn("Recorded failed scheduled run")
	}

	return nil
}

func (s *service) RunFinished(ctx context.Context, run *store.Run) {
	if run.ScheduleConfigID == "" {
		return
	}

	var err error

	switch run.Status {
	case store.RunStatusCompleted:
		err = s.RecordRunSuccess(ctx, run.ScheduleConfigID, run.ID)
	case store.RunStatusFailed:
		err = s.RecordRunFailure(ctx, run.ScheduleConfigID, run.ID)
	default:
		return
	}

	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"schedule_id": run.ScheduleConfigID,
			"run_id":      run.ID,
		}).Warn("Failed to record scheduled run outcome")
	}
}

// timeValue maps a nil timestamp onto SQL NULL for column updates.
func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}
