package metric

import (
	"fmt"
	"math"

	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/tracesource"
	"github.com/sirupsen/logrus"
)

// Score is one metric value produced for one trace.
type Score struct {
	Name   string
	Unit   string
	Source string
	Value  float64
}

// ProviderError records a provider that failed on a trace.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

// Accumulator collects metric values by name and reduces them to means.
// It is not safe for concurrent use.
type Accumulator struct {
	values map[string][]float64
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{values: make(map[string][]float64, 8)}
}

// Add records one value. Non-finite values are ignored.
func (a *Accumulator) Add(name string, value float64) {
	if name == "" || math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}

	a.values[name] = append(a.values[name], value)
}

// Means returns the arithmetic mean per metric name with canonical
// aliases applied.
func (a *Accumulator) Means() map[string]float64 {
	means := make(map[string]float64, len(a.values)+2)

	for name, vs := range a.values {
		var sum float64
		for _, v := range vs {
			sum += v
		}

		means[name] = sum / float64(len(vs))
	}

	applyAliases(means)

	return means
}

// applyAliases folds known external names onto canonical ones. ROUGE is
// only aliased when it was not produced directly; the cosine similarity
// always replaces ACCURACY; BLEU is derived from ROUGE only when absent.
func applyAliases(m map[string]float64) {
	if _, ok := m[Rouge]; !ok {
		if v, ok := m[aliasRouge1F]; ok {
			m[Rouge] = v
		} else if v, ok := m[aliasRougeLF]; ok {
			m[Rouge] = v
		}
	}

	if v, ok := m[aliasCosinePredGold]; ok {
		m[Accuracy] = v
	}

	if _, ok := m[Bleu]; !ok {
		if v, ok := m[Rouge]; ok {
			m[Bleu] = v * derivedBleuFactor
		}
	}
}

// Aggregator scores traces with every registered provider and merges the
// results with externally supplied scores.
type Aggregator struct {
	log      logrus.FieldLogger
	registry Registry
}

// NewAggregator creates an aggregator over the given registry.
func NewAggregator(log logrus.FieldLogger, registry Registry) *Aggregator {
	return &Aggregator{
		log:      log.WithField("component", "metric-aggregator"),
		registry: registry,
	}
}

// ScoreTrace returns the external scores of trace under normalized names
// followed by one score per provider that succeeded. Providers are skipped
// when either text is missing. A failing provider never affects the others.
func (a *Aggregator) ScoreTrace(trace tracesource.Trace) ([]Score, []ProviderError) {
	scores := make([]Score, 0, len(trace.Scores)+5)

	for name, v := range trace.Scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}

		scores = append(scores, Score{
			Name:   NormalizeKey(name),
			Source: store.SnapshotSourceExternal,
			Value:  v,
		})
	}

	if !trace.HasText() {
		return scores, nil
	}

	var failures []ProviderError

	for _, p := range a.registry.List() {
		v, err := safeCompute(p, *trace.Expected, *trace.Generated)
		if err != nil {
			failures = append(failures, ProviderError{Provider: p.Name(), Err: err})

			continue
		}

		scores = append(scores, Score{
			Name:   p.Name(),
			Unit:   p.Unit(),
			Source: store.SnapshotSourceProvider,
			Value:  v,
		})
	}

	return scores, failures
}

// Aggregate scores every trace and returns the mean per metric name.
func (a *Aggregator) Aggregate(agentID string, traces []tracesource.Trace) map[string]float64 {
	acc := NewAccumulator()

	for _, trace := range traces {
		scores, failures := a.ScoreTrace(trace)

		for _, f := range failures {
			a.log.WithFields(logrus.Fields{
				"agent_id": agentID,
				"trace_id": trace.ID,
				"metric":   f.Provider,
			}).WithError(f.Err).Debug("Metric provider skipped")
		}

		for _, s := range scores {
			acc.Add(s.Name, s.Value)
		}
	}

	return acc.Means()
}

// safeCompute runs a provider, converting a panic into an error.
func safeCompute(p Provider, reference, generated string) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	v, err = p.Compute(reference, generated)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite score %v", v)
	}

	return v, err
}
