package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/telemetry"
)

// RunDispatcher hands a PENDING run off for execution and fails runs the
// runner gives up on. Fail runs the same terminal hooks as a run failing
// in the pipeline.
type RunDispatcher interface {
	ExecuteAsync(ctx context.Context, runID string) error
	Fail(ctx context.Context, runID, message string) (*store.Run, error)
}

// Runner polls for due schedules and fails runs that have been RUNNING
// for too long.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error

	// RunOnce dispatches every due schedule and returns how many runs
	// were handed off.
	RunOnce(ctx context.Context) int

	// FailStaleRuns fails RUNNING runs older than the stale timeout and
	// returns how many were failed.
	FailStaleRuns(ctx context.Context) int
}

// RunnerOption configures a Runner.
type RunnerOption func(*runner)

// WithRunnerClock overrides the time source.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *runner) {
		r.now = now
	}
}

type runner struct {
	log        logrus.FieldLogger
	cfg        *config.SchedulerConfig
	svc        Service
	runs       runmanager.Manager
	dispatcher RunDispatcher
	now        func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

// NewRunner creates a scheduled-task runner.
func NewRunner(
	log logrus.FieldLogger,
	cfg *config.SchedulerConfig,
	svc Service,
	runs runmanager.Manager,
	dispatcher RunDispatcher,
	opts ...RunnerOption,
) Runner {
	r := &runner{
		log:        log.WithField("component", "schedule-runner"),
		cfg:        cfg,
		svc:        svc,
		runs:       runs,
		dispatcher: dispatcher,
		now:        time.Now,
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start launches the poll and stale-check loops. The first poll runs
// immediately.
func (r *runner) Start(ctx context.Context) error {
	poll := r.cfg.PollInterval
	if poll <= 0 {
		poll = config.DefaultPollInterval
	}

	stale := r.cfg.StaleCheckInterval
	if stale <= 0 {
		stale = config.DefaultStaleCheckInterval
	}

	r.wg.Add(2)

	go r.loop(ctx, poll, func(ctx context.Context) { r.RunOnce(ctx) })
	go r.loop(ctx, stale, func(ctx context.Context) { r.FailStaleRuns(ctx) })

	r.log.WithFields(logrus.Fields{
		"poll_interval":        poll.String(),
		"stale_check_interval": stale.String(),
		"stale_run_timeout":    r.staleTimeout().String(),
	}).Info("Schedule runner started")

	return nil
}

// Stop signals both loops to exit and waits for them.
func (r *runner) Stop() error {
	r.mu.Lock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.log.Info("Schedule runner stopped")

	return nil
}

func (r *runner) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer r.wg.Done()

	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (r *runner) staleTimeout() time.Duration {
	if r.cfg.StaleRunTimeout <= 0 {
		return config.DefaultStaleRunTimeout
	}

	return r.cfg.StaleRunTimeout
}

func (r *runner) RunOnce(ctx context.Context) int {
	due, err := r.svc.FindDue(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Failed to list due schedules")

		return 0
	}

	if len(due) == 0 {
		return 0
	}

	r.log.WithField("count", len(due)).Debug("Found due schedules")

	dispatched := 0

	for i := range due {
		if ctx.Err() != nil {
			break
		}

		if err := r.dispatch(ctx, &due[i]); err != nil {
			telemetry.SchedulesDispatched.WithLabelValues("error").Inc()

			r.log.WithError(err).WithField("schedule_id", due[i].ID).
				Warn("Failed to dispatch scheduled run")

			continue
		}

		telemetry.SchedulesDispatched.WithLabelValues("ok").Inc()

		dispatched++
	}

	return dispatched
}

// dispatch creates a run for one due schedule. The schedule is advanced
// before the run is handed off so a slow or failing hand-off never
// causes the same fire time to be dispatched twice.
func (r *runner) dispatch(ctx context.Context, sched *store.ScheduleConfig) error {
	log := r.log.WithFields(logrus.Fields{
		"schedule_id":  sched.ID,
		"benchmark_id": sched.BenchmarkID,
		"agent_id":     sched.AgentID,
	})

	run, err := r.runs.Create(ctx, runmanager.CreateRequest{
		BenchmarkID:      sched.BenchmarkID,
		AgentID:          sched.AgentID,
		TriggerType:      store.TriggerScheduled,
		TriggeredBy:      "scheduler",
		TraceBatchName:   sched.TraceBatchName,
		ScheduleConfigID: sched.ID,
	})
	if err != nil {
		markErr := r.svc.MarkDispatched(ctx, sched, "")
		if markErr != nil {
			log.WithError(markErr).Warn("Failed to advance schedule")
		}

		if !errors.Is(markErr, ErrScheduleDisabled) {
			if recErr := r.svc.RecordRunFailure(ctx, sched.ID, ""); recErr != nil {
				log.WithError(recErr).Warn("Failed to record schedule failure")
			}
		}

		return fmt.Errorf("creating run: %w", err)
	}

	log = log.WithField("run_id", run.ID)

	if err := r.svc.MarkDispatched(ctx, sched, run.ID); err != nil {
		msg := "schedule could not be advanced"
		if errors.Is(err, ErrScheduleDisabled) {
			msg = "schedule disabled before dispatch"
		}

		if _, failErr := r.dispatcher.Fail(ctx, run.ID, msg); failErr != nil {
			log.WithError(failErr).Warn("Failed to fail undispatched run")
		}

		return fmt.Errorf("advancing schedule: %w", err)
	}

	if err := r.dispatcher.ExecuteAsync(ctx, run.ID); err != nil {
		return fmt.Errorf("submitting run %s: %w", run.ID, err)
	}

	log.WithField("next_run_at", sched.NextRunAt).Info("Dispatched scheduled run")

	return nil
}

func (r *runner) FailStaleRuns(ctx context.Context) int {
	timeout := r.staleTimeout()
	cutoff := r.now().UTC().Add(-timeout)

	stale, err := r.runs.List(ctx, store.RunFilter{
		Status:        store.RunStatusRunning,
		StartedBefore: &cutoff,
	})
	if err != nil {
		r.log.WithError(err).Warn("Failed to list stale runs")

		return 0
	}

	failed := 0
	msg := "stale run: exceeded " + units.HumanDuration(timeout)

	for i := range stale {
		run, err := r.dispatcher.Fail(ctx, stale[i].ID, msg)
		if err != nil {
			// Lost a race with the worker finishing the run.
			r.log.WithError(err).WithField("run_id", stale[i].ID).
				Debug("Could not fail stale run")

			continue
		}

		telemetry.StaleRunsFailed.Inc()

		r.log.WithFields(logrus.Fields{
			"run_id":       run.ID,
			"benchmark_id": run.BenchmarkID,
			"started_at":   run.StartedAt,
		}).Warn("Failed stale run")

		failed++
	}

	return failed
}
