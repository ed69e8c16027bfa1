// Package alert evaluates KPI values against configured thresholds and
// dispatches notifications for alerts that fire.
package alert

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/telemetry"
)

// equalityEpsilon is the tolerance used by EQUALS and NOT_EQUALS.
const equalityEpsilon = 1e-4

// Triggered describes one alert that fired for a KPI value.
type Triggered struct {
	Alert   store.AlertConfig `json:"alert"`
	KPIName string            `json:"kpi_name"`
	Value   float64           `json:"value"`
}

// Evaluator checks KPI values against enabled alerts.
type Evaluator interface {
	// EvaluateForRun checks every KPI history row of the run against the
	// enabled alerts of its benchmark. Alerts in cooldown are skipped.
	EvaluateForRun(ctx context.Context, runID string) ([]Triggered, error)

	// EvaluateKPIValue checks a single value. Cooldown is not applied.
	EvaluateKPIValue(ctx context.Context, benchmarkID, kpiName string, value float64) ([]store.AlertConfig, error)
}

// Option configures an Evaluator.
type Option func(*evaluator)

// WithClock overrides the time source used for cooldowns.
func WithClock(now func() time.Time) Option {
	return func(e *evaluator) {
		e.now = now
	}
}

type evaluator struct {
	log        logrus.FieldLogger
	store      store.Store
	dispatcher Dispatcher
	now        func() time.Time
}

// Ensure interface compliance.
var _ Evaluator = (*evaluator)(nil)

// NewEvaluator creates an alert evaluator.
func NewEvaluator(
	log logrus.FieldLogger,
	st store.Store,
	dispatcher Dispatcher,
	opts ...Option,
) Evaluator {
	e := &evaluator{
		log:        log.WithField("component", "alert-evaluator"),
		store:      st,
		dispatcher: dispatcher,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Check reports whether value satisfies condition against threshold. The
// statistical conditions never fire.
func Check(condition store.AlertCondition, value, threshold float64) bool {
	switch condition {
	case store.ConditionLessThan:
		return value < threshold
	case store.ConditionGreaterThan:
		return value > threshold
	case store.ConditionEquals:
		return math.Abs(value-threshold) < equalityEpsilon
	case store.ConditionNotEquals:
		return math.Abs(value-threshold) >= equalityEpsilon
	default:
		return false
	}
}

func (e *evaluator) EvaluateForRun(ctx context.Context, runID string) ([]Triggered, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	history, err := e.store.ListKPIHistory(ctx, store.KPIHistoryFilter{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("loading kpi history: %w", err)
	}

	alerts, err := e.store.ListAlerts(ctx, store.AlertFilter{
		BenchmarkID: run.BenchmarkID,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("loading alerts: %w", err)
	}

	log := e.log.WithField("run_id", runID)
	log.WithFields(logrus.Fields{
		"kpis":   len(history),
		"alerts": len(alerts),
	}).Debug("Evaluating alerts for run")

	var fired []Triggered

	for i := range alerts {
		a := &alerts[i]

		if a.AgentID != "" && a.AgentID != run.AgentID {
			continue
		}

		for _, h := range history {
			if !strings.EqualFold(a.KPIName, h.KPIName) {
				continue
			}

			if a.InCooldown(e.now()) {
				log.WithField("alert_id", a.ID).Debug("Alert in cooldown, skipping")

				break
			}

			if !Check(a.Condition, h.Value, a.ThresholdValue()) {
				continue
			}

			e.trigger(ctx, a, h.KPIName, h.Value)
			fired = append(fired, Triggered{Alert: *a, KPIName: h.KPIName, Value: h.Value})
		}
	}

	return fired, nil
}

func (e *evaluator) EvaluateKPIValue(
	ctx context.Context, benchmarkID, kpiName string, value float64,
) ([]store.AlertConfig, error) {
	alerts, err := e.store.ListAlerts(ctx, store.AlertFilter{
		BenchmarkID: benchmarkID,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("loading alerts: %w", err)
	}

	fired := make([]store.AlertConfig, 0, len(alerts))

	for i := range alerts {
		a := &alerts[i]

		if !strings.EqualFold(a.KPIName, kpiName) {
			continue
		}

		if !Check(a.Condition, value, a.ThresholdValue()) {
			continue
		}

		e.trigger(ctx, a, kpiName, value)
		fired = append(fired, *a)
	}

	return fired, nil
}

// trigger persists the trigger time, then dispatches the alert. Only
// last_triggered_at is written so a concurrent disable is not reverted. A
// persistence failure is logged; the notification still goes out.
func (e *evaluator) trigger(ctx context.Context, a *store.AlertConfig, kpiName string, value float64) {
	now := e.now().UTC()

	e.log.WithFields(logrus.Fields{
		"alert_id":  a.ID,
		"alert":     a.Name,
		"kpi":       kpiName,
		"value":     value,
		"threshold": a.ThresholdValue(),
		"severity":  a.Severity,
	}).Warn("Alert triggered")

	a.MarkTriggered(now)

	if err := e.store.UpdateAlertFields(ctx, a.ID, map[string]any{
		"last_triggered_at": now,
	}); err != nil {
		e.log.WithError(err).WithField("alert_id", a.ID).Warn("Failed to persist alert trigger time")
	}

	telemetry.AlertsTriggered.WithLabelValues(string(a.Severity)).Inc()

	e.dispatcher.Dispatch(ctx, a, value, now)
}
