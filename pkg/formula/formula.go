// Package formula compiles KPI formula text into pure functions over
// aggregated metric values.
package formula

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Type identifies the aggregation pattern of a formula.
type Type string

// Supported formula types. Custom is reported for text that does not start
// with a known keyword.
const (
	TypeAverage     Type = "AVERAGE"
	TypeWeightedSum Type = "WEIGHTED_SUM"
	TypeMin         Type = "MIN"
	TypeMax         Type = "MAX"
	TypeThreshold   Type = "THRESHOLD"
	TypeCustom      Type = "CUSTOM"
)

// Version is stamped on specifications created by the engine.
const Version = "1.0"

var (
	// ErrSyntax is returned for text matching none of the supported forms.
	ErrSyntax = errors.New(
		"unrecognized formula pattern. Supported: AVERAGE, WEIGHTED_SUM, MIN, MAX, THRESHOLD",
	)

	// ErrEmpty is returned for blank formula text.
	ErrEmpty = errors.New("formula cannot be empty")

	// ErrUnknownMetric is returned when a formula references a metric
	// outside the known vocabulary.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrMetricNotAvailable is returned when a referenced metric is not in
	// the caller-supplied available set.
	ErrMetricNotAvailable = errors.New("metric not available")
)

// MetricError lists the metrics that failed validation together with the
// set they were checked against. It unwraps to ErrUnknownMetric or
// ErrMetricNotAvailable.
type MetricError struct {
	Kind    error
	Metrics []string
	Against []string
}

func (e *MetricError) Error() string {
	quoted := make([]string, len(e.Metrics))
	for i, m := range e.Metrics {
		quoted[i] = "'" + m + "'"
	}

	label := "Known"
	if errors.Is(e.Kind, ErrMetricNotAvailable) {
		label = "Available"
	}

	return fmt.Sprintf("%s %s. %s metrics: [%s]",
		e.Kind, strings.Join(quoted, ", "), label, strings.Join(e.Against, ", "))
}

func (e *MetricError) Unwrap() error { return e.Kind }

// Formula is a compiled KPI formula. Evaluate has no side effects.
type Formula interface {
	Evaluate(metrics map[string]float64) float64
	// Metrics returns the referenced metric names, sorted and unique.
	Metrics() []string
	Type() Type
	String() string
}

// lookup finds a metric by exact name, then case-insensitively.
func lookup(metrics map[string]float64, name string) (float64, bool) {
	if v, ok := metrics[name]; ok {
		return v, true
	}

	for k, v := range metrics {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}

	return 0, false
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}

		seen[n] = struct{}{}
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

// reduceFormula covers AVERAGE, MIN and MAX: all three ignore missing
// metrics and yield 0 when none is available.
type reduceFormula struct {
	kind    Type
	text    string
	metrics []string
}

func (f *reduceFormula) Evaluate(metrics map[string]float64) float64 {
	var (
		acc   float64
		count int
	)

	for _, name := range f.metrics {
		v, ok := lookup(metrics, name)
		if !ok {
			continue
		}

		switch {
		case count == 0:
			acc = v
		case f.kind == TypeMin:
			acc = math.Min(acc, v)
		case f.kind == TypeMax:
			acc = math.Max(acc, v)
		default:
			acc += v
		}

		count++
	}

	if count == 0 {
		return 0
	}

	if f.kind == TypeAverage {
		return acc / float64(count)
	}

	return acc
}

func (f *reduceFormula) Metrics() []string { return uniqueSorted(f.metrics) }
func (f *reduceFormula) Type() Type        { return f.kind }
func (f *reduceFormula) String() string    { return f.text }

type weightedTerm struct {
	metric string
	weight float64
}

// weightedSumFormula treats a missing metric as zero.
type weightedSumFormula struct {
	text  string
	terms []weightedTerm
}

func (f *weightedSumFormula) Evaluate(metrics map[string]float64) float64 {
	var sum float64

	for _, t := range f.terms {
		if v, ok := lookup(metrics, t.metric); ok {
			sum += v * t.weight
		}
	}

	return sum
}

func (f *weightedSumFormula) Metrics() []string {
	names := make([]string, len(f.terms))
	for i, t := range f.terms {
		names[i] = t.metric
	}

	return uniqueSorted(names)
}

func (f *weightedSumFormula) Type() Type     { return TypeWeightedSum }
func (f *weightedSumFormula) String() string { return f.text }

// thresholdFormula yields 1 when the metric reaches the threshold. A
// missing metric yields 0.
type thresholdFormula struct {
	text      string
	metric    string
	threshold float64
}

func (f *thresholdFormula) Evaluate(metrics map[string]float64) float64 {
	if v, ok := lookup(metrics, f.metric); ok && v >= f.threshold {
		return 1
	}

	return 0
}

func (f *thresholdFormula) Metrics() []string { return []string{f.metric} }
func (f *thresholdFormula) Type() Type        { return TypeThreshold }
func (f *thresholdFormula) String() string    { return f.text }
