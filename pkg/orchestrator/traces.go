package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/telemetry"
	"github.com/mosaico-wp2/agentbench/pkg/tracesource"
)

// processTraces scores every trace with bounded parallelism and persists
// one snapshot per metric value. It returns once every worker has
// finished. A cancelled run stops picking up new traces.
func (o *orchestrator) processTraces(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	traces []tracesource.Trace,
	cancelled <-chan struct{},
) (int, int, error) {
	concurrency := o.cfg.TraceConcurrency
	if concurrency <= 0 {
		concurrency = config.DefaultTraceConcurrency
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var processed, computed atomic.Int64

	for _, trace := range traces {
		if isCancelled(cancelled) || gCtx.Err() != nil {
			break
		}

		g.Go(func() (err error) {
			// A panic here would take the process down with it.
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("trace %s: panic: %v", trace.ID, r)
				}
			}()

			// Check for cancellation before starting work.
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-cancelled:
				return nil
			default:
			}

			n, err := o.processTrace(gCtx, log, run.ID, trace)
			if err != nil {
				return err
			}

			p := processed.Add(1)
			c := computed.Add(int64(n))

			if err := o.runs.UpdateProgress(gCtx, run.ID, int(p), int(c)); err != nil {
				log.WithError(err).Debug("Progress update dropped")
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	return int(processed.Load()), int(computed.Load()), nil
}

// processTrace scores one trace and stores its snapshots. Provider
// failures are logged and skipped.
func (o *orchestrator) processTrace(
	ctx context.Context,
	log logrus.FieldLogger,
	runID string,
	trace tracesource.Trace,
) (int, error) {
	start := time.Now()
	defer telemetry.ObserveTrace(start)

	tlog := log.WithField("trace_id", trace.ID)

	if !trace.HasText() {
		tlog.Debug("Trace has no expected or generated text, skipping providers")
	}

	scores, failures := o.aggregator.ScoreTrace(trace)

	for _, f := range failures {
		telemetry.ProviderFailures.WithLabelValues(f.Provider).Inc()
		tlog.WithError(f.Err).WithField("metric", f.Provider).Warn("Metric provider failed")
	}

	if len(scores) == 0 {
		return 0, nil
	}

	now := o.now().UTC()
	snapshots := make([]store.MetricSnapshot, 0, len(scores))

	for _, s := range scores {
		snapshots = append(snapshots, store.MetricSnapshot{
			RunID:      runID,
			TraceID:    trace.ID,
			MetricName: s.Name,
			Source:     s.Source,
			Value:      s.Value,
			Unit:       s.Unit,
			RecordedAt: now,
		})
	}

	if err := o.store.CreateSnapshots(ctx, snapshots); err != nil {
		return 0, fmt.Errorf("storing snapshots for trace %s: %w", trace.ID, err)
	}

	return len(snapshots), nil
}
