package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/telemetry"
)

// KPIStatusFor grades value against an optional target band. Falling below
// the minimum is critical, exceeding the maximum is a warning.
func KPIStatusFor(value float64, targetMin, targetMax *float64) store.KPIStatus {
	switch {
	case targetMin != nil && value < *targetMin:
		return store.KPIStatusCritical
	case targetMax != nil && value > *targetMax:
		return store.KPIStatusWarning
	case targetMin != nil || targetMax != nil:
		return store.KPIStatusHealthy
	default:
		return store.KPIStatusUnknown
	}
}

// applyBaseline fills the baseline and delta fields of h.
func applyBaseline(h *store.KPIHistory, baseline float64) {
	delta := h.Value - baseline
	h.BaselineValue = &baseline
	h.DeltaFromBaseline = &delta

	if baseline != 0 {
		pct := delta / baseline * 100
		h.DeltaPercentage = &pct
	}
}

// evaluateKPIs writes one history row per KPI of the benchmark. A KPI that
// fails to compile or persist is logged and skipped.
func (o *orchestrator) evaluateKPIs(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	bench *catalog.Benchmark,
	aggregated map[string]float64,
) {
	for _, kpi := range bench.KPIs {
		klog := log.WithField("kpi", kpi.Name)

		f, err := o.engine.CompileSpecification(kpi.Specification)
		if err != nil {
			telemetry.KPIEvaluationFailures.Inc()
			klog.WithError(err).Warn("Failed to compile KPI formula")

			continue
		}

		value := f.Evaluate(aggregated)

		h := &store.KPIHistory{
			RunID:       run.ID,
			BenchmarkID: run.BenchmarkID,
			AgentID:     run.AgentID,
			KPIID:       kpi.ID,
			KPIName:     kpi.Name,
			Value:       value,
			TargetMin:   kpi.TargetMin,
			TargetMax:   kpi.TargetMax,
			Status:      KPIStatusFor(value, kpi.TargetMin, kpi.TargetMax),
			RecordedAt:  o.now().UTC(),
		}

		previous, err := o.store.ListKPIHistory(ctx, store.KPIHistoryFilter{
			BenchmarkID: run.BenchmarkID,
			AgentID:     run.AgentID,
			KPIName:     kpi.Name,
			Limit:       1,
		})
		if err != nil {
			klog.WithError(err).Debug("Baseline lookup failed")
		} else if len(previous) > 0 {
			applyBaseline(h, previous[0].Value)
		}

		if err := o.store.CreateKPIHistory(ctx, h); err != nil {
			telemetry.KPIEvaluationFailures.Inc()
			klog.WithError(err).Warn("Failed to store KPI history")

			continue
		}

		klog.WithFields(logrus.Fields{
			"value":  value,
			"status": h.Status,
		}).Debug("Computed KPI")
	}
}
