// Package runmanager owns the benchmark run lifecycle. It is the only
// writer of run status.
package runmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

// ErrIllegalTransition is returned when a run is not in a state that
// permits the requested transition.
var ErrIllegalTransition = errors.New("illegal run state transition")

// CreateRequest describes a new run.
type CreateRequest struct {
	BenchmarkID      string
	AgentID          string
	TriggerType      store.TriggerType
	TriggeredBy      string
	TraceBatchName   string
	RetryCount       int
	RetryOfRunID     string
	ScheduleConfigID string
}

// Manager drives runs through PENDING -> RUNNING -> COMPLETED, FAILED or
// CANCELLED.
type Manager interface {
	Create(ctx context.Context, req CreateRequest) (*store.Run, error)
	Start(ctx context.Context, id string) (*store.Run, error)
	// UpdateProgress is best effort: a missing or non-running run is
	// ignored and counters never decrease.
	UpdateProgress(ctx context.Context, id string, traces, metrics int) error
	Complete(ctx context.Context, id string, traces, metrics int) (*store.Run, error)
	// Fail is accepted from PENDING or RUNNING.
	Fail(ctx context.Context, id string, message string) (*store.Run, error)
	Cancel(ctx context.Context, id string) (*store.Run, error)

	Get(ctx context.Context, id string) (*store.Run, error)
	List(ctx context.Context, filter store.RunFilter) ([]store.Run, error)
	History(ctx context.Context, benchmarkID, agentID string, limit int) ([]store.Run, error)
}

// Option configures a Manager.
type Option func(*manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *manager) {
		m.now = now
	}
}

type manager struct {
	log   logrus.FieldLogger
	store store.Store
	now   func() time.Time

	// mu serializes read-modify-write cycles on run rows.
	mu sync.Mutex
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

// New creates a run manager backed by st.
func New(log logrus.FieldLogger, st store.Store, opts ...Option) Manager {
	m := &manager{
		log:   log.WithField("component", "run-manager"),
		store: st,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *manager) Create(ctx context.Context, req CreateRequest) (*store.Run, error) {
	run := &store.Run{
		BenchmarkID:      req.BenchmarkID,
		AgentID:          req.AgentID,
		Status:           store.RunStatusPending,
		TriggerType:      req.TriggerType,
		TriggeredBy:      req.TriggeredBy,
		TraceBatchName:   req.TraceBatchName,
		RetryCount:       req.RetryCount,
		RetryOfRunID:     req.RetryOfRunID,
		ScheduleConfigID: req.ScheduleConfigID,
	}

	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"benchmark_id": run.BenchmarkID,
		"agent_id":     run.AgentID,
		"trigger":      run.TriggerType,
	}).Info("Created benchmark run")

	return run, nil
}

// transition loads the run, applies fn when the current status is one of
// from, and persists the result.
func (m *manager) transition(
	ctx context.Context,
	id string,
	to store.RunStatus,
	fn func(run *store.Run, now time.Time),
	from ...store.RunStatus,
) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.store.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	allowed := false

	for _, s := range from {
		if run.Status == s {
			allowed = true

			break
		}
	}

	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s for run %s", ErrIllegalTransition, run.Status, to, id)
	}

	now := m.now().UTC()
	run.Status = to

	if to.IsTerminal() {
		run.CompletedAt = &now
	}

	if fn != nil {
		fn(run, now)
	}

	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run %s: %w", id, err)
	}

	return run, nil
}

func (m *manager) Start(ctx context.Context, id string) (*store.Run, error) {
	run, err := m.transition(ctx, id, store.RunStatusRunning, func(run *store.Run, now time.Time) {
		run.StartedAt = &now
	}, store.RunStatusPending)
	if err != nil {
		return nil, err
	}

	m.log.WithField("run_id", id).Info("Run started")

	return run, nil
}

func (m *manager) UpdateProgress(ctx context.Context, id string, traces, metrics int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("loading run %s: %w", id, err)
	}

	if run.Status != store.RunStatusRunning {
		return nil
	}

	if traces <= run.TracesProcessed && metrics <= run.MetricsComputed {
		return nil
	}

	run.TracesProcessed = max(run.TracesProcessed, traces)
	run.MetricsComputed = max(run.MetricsComputed, metrics)

	if err := m.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("saving progress for run %s: %w", id, err)
	}

	return nil
}

func (m *manager) Complete(ctx context.Context, id string, traces, metrics int) (*store.Run, error) {
	run, err := m.transition(ctx, id, store.RunStatusCompleted, func(run *store.Run, _ time.Time) {
		run.TracesProcessed = max(run.TracesProcessed, traces)
		run.MetricsComputed = max(run.MetricsComputed, metrics)
	}, store.RunStatusRunning)
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"run_id":           id,
		"traces_processed": run.TracesProcessed,
		"metrics_computed": run.MetricsComputed,
	}).Info("Run completed")

	return run, nil
}

func (m *manager) Fail(ctx context.Context, id string, message string) (*store.Run, error) {
	run, err := m.transition(ctx, id, store.RunStatusFailed, func(run *store.Run, _ time.Time) {
		run.ErrorMessage = message
	}, store.RunStatusPending, store.RunStatusRunning)
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"run_id": id,
		"error":  message,
	}).Error("Run failed")

	return run, nil
}

func (m *manager) Cancel(ctx context.Context, id string) (*store.Run, error) {
	run, err := m.transition(ctx, id, store.RunStatusCancelled, nil, store.RunStatusRunning)
	if err != nil {
		return nil, err
	}

	m.log.WithField("run_id", id).Info("Run cancelled")

	return run, nil
}

func (m *manager) Get(ctx context.Context, id string) (*store.Run, error) {
	return m.store.GetRun(ctx, id)
}

func (m *manager) List(ctx context.Context, filter store.RunFilter) ([]store.Run, error) {
	return m.store.ListRuns(ctx, filter)
}

func (m *manager) History(
	ctx context.Context, benchmarkID, agentID string, limit int,
) ([]store.Run, error) {
	return m.store.ListRuns(ctx, store.RunFilter{
		BenchmarkID: benchmarkID,
		AgentID:     agentID,
		Limit:       limit,
	})
}
