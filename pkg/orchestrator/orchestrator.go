// Package orchestrator drives benchmark runs from trace retrieval through
// scoring, KPI evaluation and alerting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/alert"
	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/formula"
	"github.com/mosaico-wp2/agentbench/pkg/metric"
	"github.com/mosaico-wp2/agentbench/pkg/report"
	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/telemetry"
	"github.com/mosaico-wp2/agentbench/pkg/tracesource"
)

var (
	// ErrMaxRetriesExceeded is returned when a run has been retried the
	// maximum number of times.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrConfiguration marks failures caused by missing definitions. They
	// are never retried automatically.
	ErrConfiguration = errors.New("configuration error")

	// errCancelled stops a run that was cancelled mid-flight.
	errCancelled = errors.New("run cancelled")
)

// RunObserver is notified once after a run reaches a terminal status.
type RunObserver interface {
	RunFinished(ctx context.Context, run *store.Run)
}

// Orchestrator coordinates benchmark runs.
type Orchestrator interface {
	// Trigger creates a run and submits it for asynchronous execution.
	// When the queue is full the run is failed and returned alongside
	// ErrQueueFull.
	Trigger(ctx context.Context, req runmanager.CreateRequest) (*store.Run, error)

	// Execute runs the full pipeline for a PENDING run and returns the
	// run in its terminal state.
	Execute(ctx context.Context, runID string) (*store.Run, error)

	// ExecuteAsync submits Execute to the worker pool and returns at once.
	ExecuteAsync(ctx context.Context, runID string) error

	// Cancel marks a RUNNING run as cancelled. Trace processing stops at
	// the next trace boundary.
	Cancel(ctx context.Context, runID string) (*store.Run, error)

	// Fail moves a run to FAILED from outside the pipeline, stops it if it
	// is executing here, and runs the terminal hooks: metrics, summary
	// archive and observers.
	Fail(ctx context.Context, runID, message string) (*store.Run, error)

	// Retry creates a new PENDING run from an existing one without
	// modifying it.
	Retry(ctx context.Context, runID string) (*store.Run, error)

	// LiveMetrics fetches the current traces for a benchmark and agent
	// and returns the aggregated metrics without persisting anything.
	LiveMetrics(ctx context.Context, benchmarkID, agentID string) (map[string]float64, error)

	// AddObserver registers an observer for terminal runs.
	AddObserver(o RunObserver)
}

// Option configures an Orchestrator.
type Option func(*orchestrator)

// WithUploader archives a summary of every terminal run.
func WithUploader(u report.Uploader) Option {
	return func(o *orchestrator) {
		o.uploader = u
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		o.now = now
	}
}

type orchestrator struct {
	log         logrus.FieldLogger
	cfg         *config.OrchestratorConfig
	store       store.Store
	runs        runmanager.Manager
	catalog     catalog.Catalog
	source      tracesource.Source
	aggregator  *metric.Aggregator
	engine      formula.Engine
	alerts      alert.Evaluator
	pool        Pool
	uploader    report.Uploader
	now         func() time.Time
	observersMu sync.RWMutex
	observers   []RunObserver

	activeMu sync.Mutex
	active   map[string]chan struct{}
}

// Ensure interface compliance.
var _ Orchestrator = (*orchestrator)(nil)

// New creates an orchestrator. pool may be nil when only synchronous
// execution is used.
func New(
	log logrus.FieldLogger,
	cfg *config.OrchestratorConfig,
	st store.Store,
	runs runmanager.Manager,
	cat catalog.Catalog,
	source tracesource.Source,
	aggregator *metric.Aggregator,
	engine formula.Engine,
	alerts alert.Evaluator,
	pool Pool,
	opts ...Option,
) Orchestrator {
	o := &orchestrator{
		log:        log.WithField("component", "orchestrator"),
		cfg:        cfg,
		store:      st,
		runs:       runs,
		catalog:    cat,
		source:     source,
		aggregator: aggregator,
		engine:     engine,
		alerts:     alerts,
		pool:       pool,
		uploader:   report.NewNoopUploader(),
		now:        time.Now,
		active:     make(map[string]chan struct{}, 8),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *orchestrator) AddObserver(obs RunObserver) {
	o.observersMu.Lock()
	defer o.observersMu.Unlock()

	o.observers = append(o.observers, obs)
}

func (o *orchestrator) Trigger(
	ctx context.Context, req runmanager.CreateRequest,
) (*store.Run, error) {
	run, err := o.runs.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := o.ExecuteAsync(ctx, run.ID); err != nil {
		if latest, gerr := o.runs.Get(ctx, run.ID); gerr == nil {
			run = latest
		}

		return run, err
	}

	return run, nil
}

func (o *orchestrator) ExecuteAsync(ctx context.Context, runID string) error {
	if o.pool == nil {
		return fmt.Errorf("%w: no worker pool configured", ErrConfiguration)
	}

	err := o.pool.Submit(func(ctx context.Context) {
		if _, err := o.Execute(ctx, runID); err != nil {
			o.log.WithError(err).WithField("run_id", runID).Debug("Async run ended with error")
		}
	})
	if err != nil {
		telemetry.RunsSubmitted.WithLabelValues("rejected").Inc()

		// The run never started; record the startup failure.
		if _, ferr := o.Fail(ctx, runID, err.Error()); ferr != nil {
			o.log.WithError(ferr).WithField("run_id", runID).Warn("Failed to record rejected run")
		}

		return fmt.Errorf("submitting run %s: %w", runID, err)
	}

	telemetry.RunsSubmitted.WithLabelValues("accepted").Inc()

	return nil
}

func (o *orchestrator) Execute(ctx context.Context, runID string) (*store.Run, error) {
	// Registered before the RUNNING transition so a Cancel landing right
	// after it always finds the channel.
	cancelled := o.register(runID)
	defer o.unregister(runID, cancelled)

	run, err := o.runs.Start(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	log := o.log.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"benchmark_id": run.BenchmarkID,
		"agent_id":     run.AgentID,
	})

	res, err := o.safeExecute(ctx, log, run, cancelled)

	switch {
	case errors.Is(err, errCancelled):
		return o.finishInterrupted(ctx, log, runID)
	case err != nil:
		failed, ferr := o.runs.Fail(ctx, runID, err.Error())
		if ferr != nil {
			if errors.Is(ferr, runmanager.ErrIllegalTransition) {
				return o.finishInterrupted(ctx, log, runID)
			}

			log.WithError(ferr).Error("Failed to record run failure")

			return nil, errors.Join(err, ferr)
		}

		o.finish(ctx, failed, nil)

		return failed, err
	}

	completed, err := o.runs.Complete(ctx, runID, res.traces, res.metrics)
	if err != nil {
		if errors.Is(err, runmanager.ErrIllegalTransition) {
			return o.finishInterrupted(ctx, log, runID)
		}

		failed, ferr := o.runs.Fail(ctx, runID, err.Error())
		if ferr != nil {
			return nil, errors.Join(err, ferr)
		}

		o.finish(ctx, failed, res.aggregated)

		return failed, err
	}

	log.WithField("duration", units.HumanDuration(completed.Duration())).Info("Benchmark run finished")

	o.finish(ctx, completed, res.aggregated)

	return completed, nil
}

// finishInterrupted returns a run that another actor moved to a terminal
// state while it was executing. That actor has already notified observers.
func (o *orchestrator) finishInterrupted(
	ctx context.Context, log logrus.FieldLogger, runID string,
) (*store.Run, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading interrupted run: %w", err)
	}

	log.WithField("status", run.Status).Info("Run stopped early")

	return run, nil
}

// safeExecute converts a panic anywhere in the pipeline into an error so
// the run is failed instead of being left RUNNING.
func (o *orchestrator) safeExecute(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	cancelled <-chan struct{},
) (res *execution, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Run pipeline panicked")

			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	return o.execute(ctx, log, run, cancelled)
}

// execution holds the outcome of a successful pipeline pass.
type execution struct {
	traces     int
	metrics    int
	aggregated map[string]float64
}

func (o *orchestrator) execute(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	cancelled <-chan struct{},
) (*execution, error) {
	bench, agent, err := o.resolve(ctx, run.BenchmarkID, run.AgentID)
	if err != nil {
		return nil, err
	}

	runName := run.TraceBatchName
	if runName == "" {
		runName = bench.RunName
	}

	if runName == "" {
		return nil, fmt.Errorf("%w: no trace batch name configured for benchmark %s",
			ErrConfiguration, bench.ID)
	}

	log.WithFields(logrus.Fields{
		"dataset":  bench.DatasetRef,
		"run_name": runName,
	}).Debug("Fetching traces")

	traces, err := o.source.FetchTraces(ctx, agent, bench.DatasetRef, runName)
	if err != nil {
		return nil, fmt.Errorf("fetching traces: %w", err)
	}

	if len(traces) == 0 {
		log.Warn("No traces found for run")
	}

	processed, computed, err := o.processTraces(ctx, log, run, traces, cancelled)
	if err != nil {
		return nil, err
	}

	if isCancelled(cancelled) {
		return nil, errCancelled
	}

	// All trace workers have returned: the snapshot set is complete.
	snapshots, err := o.store.ListSnapshots(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshots: %w", err)
	}

	acc := metric.NewAccumulator()
	for _, s := range snapshots {
		acc.Add(s.MetricName, s.Value)
	}

	aggregated := acc.Means()

	if isCancelled(cancelled) {
		return nil, errCancelled
	}

	o.evaluateKPIs(ctx, log, run, bench, aggregated)

	if isCancelled(cancelled) {
		return nil, errCancelled
	}

	if _, err := o.alerts.EvaluateForRun(ctx, run.ID); err != nil {
		log.WithError(err).Warn("Alert evaluation failed")
	}

	return &execution{
		traces:     processed,
		metrics:    computed,
		aggregated: aggregated,
	}, nil
}

func (o *orchestrator) resolve(
	ctx context.Context, benchmarkID, agentID string,
) (*catalog.Benchmark, *catalog.Agent, error) {
	bench, err := o.catalog.FindBenchmark(ctx, benchmarkID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: benchmark %s: %w", ErrConfiguration, benchmarkID, err)
	}

	agent, err := o.catalog.FindAgent(ctx, agentID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: agent %s: %w", ErrConfiguration, agentID, err)
	}

	return bench, agent, nil
}

func (o *orchestrator) Cancel(ctx context.Context, runID string) (*store.Run, error) {
	run, err := o.runs.Cancel(ctx, runID)
	if err != nil {
		return nil, err
	}

	o.stop(runID)
	o.finish(ctx, run, nil)

	return run, nil
}

func (o *orchestrator) Fail(ctx context.Context, runID, message string) (*store.Run, error) {
	run, err := o.runs.Fail(ctx, runID, message)
	if err != nil {
		return nil, err
	}

	o.stop(runID)
	o.finish(ctx, run, nil)

	return run, nil
}

func (o *orchestrator) Retry(ctx context.Context, runID string) (*store.Run, error) {
	original, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	if original.RetryCount >= o.cfg.MaxRetries {
		return nil, fmt.Errorf("%w for run %s (%d/%d)",
			ErrMaxRetriesExceeded, runID, original.RetryCount, o.cfg.MaxRetries)
	}

	retry, err := o.runs.Create(ctx, runmanager.CreateRequest{
		BenchmarkID:    original.BenchmarkID,
		AgentID:        original.AgentID,
		TriggerType:    store.TriggerRetry,
		TriggeredBy:    "retry",
		TraceBatchName: original.TraceBatchName,
		RetryCount:     original.RetryCount + 1,
		RetryOfRunID:   original.ID,
	})
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"run_id":      retry.ID,
		"original_id": runID,
		"retry_count": retry.RetryCount,
	}).Info("Created retry run")

	return retry, nil
}

func (o *orchestrator) LiveMetrics(
	ctx context.Context, benchmarkID, agentID string,
) (map[string]float64, error) {
	bench, agent, err := o.resolve(ctx, benchmarkID, agentID)
	if err != nil {
		return nil, err
	}

	if bench.RunName == "" {
		return nil, fmt.Errorf("%w: no trace batch name configured for benchmark %s",
			ErrConfiguration, bench.ID)
	}

	traces, err := o.source.FetchTraces(ctx, agent, bench.DatasetRef, bench.RunName)
	if err != nil {
		return nil, fmt.Errorf("fetching traces: %w", err)
	}

	return o.aggregator.Aggregate(agentID, traces), nil
}

func (o *orchestrator) register(runID string) chan struct{} {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()

	ch := make(chan struct{})
	o.active[runID] = ch

	return ch
}

// stop signals an executing run to stop at its next checkpoint.
func (o *orchestrator) stop(runID string) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()

	if ch, ok := o.active[runID]; ok {
		close(ch)
		delete(o.active, runID)
	}
}

// unregister drops ch unless a concurrent Execute of the same run has
// since replaced it.
func (o *orchestrator) unregister(runID string, ch chan struct{}) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()

	if o.active[runID] == ch {
		delete(o.active, runID)
	}
}

func isCancelled(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// finish records metrics, archives the summary and notifies observers.
func (o *orchestrator) finish(ctx context.Context, run *store.Run, aggregated map[string]float64) {
	telemetry.RunsFinished.WithLabelValues(string(run.Status), string(run.TriggerType)).Inc()

	kpis, err := o.store.ListKPIHistory(ctx, store.KPIHistoryFilter{RunID: run.ID})
	if err != nil {
		o.log.WithError(err).WithField("run_id", run.ID).Warn("Failed to load KPI history for summary")
	}

	if _, err := o.uploader.Upload(ctx, report.NewSummary(run, kpis, aggregated, o.now())); err != nil {
		o.log.WithError(err).WithField("run_id", run.ID).Warn("Failed to upload run summary")
	}

	o.observersMu.RLock()
	observers := append([]RunObserver(nil), o.observers...)
	o.observersMu.RUnlock()

	for _, obs := range observers {
		obs.RunFinished(ctx, run)
	}
}
