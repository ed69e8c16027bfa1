package formula

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/metric"
	"github.com/sirupsen/logrus"
)

// Engine validates and compiles formulas against a known-metric vocabulary.
type Engine interface {
	// Compile parses text and checks every referenced metric against the
	// vocabulary. Nothing is cached.
	Compile(text string) (Formula, error)

	// CompileSpecification compiles a KPI specification, falling back to a
	// canned formula for its type hint when no formula text is present.
	// Results are cached by formula text.
	CompileSpecification(spec catalog.Specification) (Formula, error)

	// ValidateAgainst compiles text and additionally requires every
	// referenced metric to be in available.
	ValidateAgainst(text string, available []string) (Formula, error)

	// CreateSpecification validates text and returns a specification
	// stamped with the current version. An empty type hint is detected
	// from the text.
	CreateSpecification(text string, typeHint string) (catalog.Specification, error)

	// RegisterMetrics extends the vocabulary.
	RegisterMetrics(names ...string)

	// KnownMetrics returns the vocabulary, sorted.
	KnownMetrics() []string
}

// maxCachedFormulas bounds the KPI formula cache. The cache is reset when
// it fills up.
const maxCachedFormulas = 256

type engine struct {
	log    logrus.FieldLogger
	parser Parser

	mu    sync.RWMutex
	known map[string]struct{}
	cache map[string]Formula
}

// Ensure interface compliance.
var _ Engine = (*engine)(nil)

// NewEngine creates an engine using the pattern parser, with the
// vocabulary seeded from the canonical metric names.
func NewEngine(log logrus.FieldLogger) Engine {
	return NewEngineWithParser(log, NewPatternParser())
}

// NewEngineWithParser creates an engine around a custom parser.
func NewEngineWithParser(log logrus.FieldLogger, parser Parser) Engine {
	e := &engine{
		log:    log.WithField("component", "formula-engine"),
		parser: parser,
		known:  make(map[string]struct{}, 16),
		cache:  make(map[string]Formula, 16),
	}

	for _, name := range metric.CanonicalNames() {
		e.known[name] = struct{}{}
	}

	return e
}

func (e *engine) Compile(text string) (Formula, error) {
	f, err := e.parser.Parse(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}

	if err := e.checkKnown(f.Metrics()); err != nil {
		return nil, err
	}

	return f, nil
}

func (e *engine) compileCached(text string) (Formula, error) {
	key := strings.TrimSpace(text)

	e.mu.RLock()
	f, ok := e.cache[key]
	e.mu.RUnlock()

	if ok {
		return f, nil
	}

	f, err := e.Compile(key)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.cache) >= maxCachedFormulas {
		e.cache = make(map[string]Formula, 16)
	}

	e.cache[key] = f
	e.mu.Unlock()

	return f, nil
}

func (e *engine) cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.cache)
}

func (e *engine) checkKnown(metrics []string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var unknown []string

	for _, m := range metrics {
		if _, ok := e.known[m]; !ok {
			unknown = append(unknown, m)
		}
	}

	if len(unknown) == 0 {
		return nil
	}

	return &MetricError{
		Kind:    ErrUnknownMetric,
		Metrics: unknown,
		Against: e.knownLocked(),
	}
}

func (e *engine) CompileSpecification(spec catalog.Specification) (Formula, error) {
	text := strings.TrimSpace(spec.Formula)

	if text == "" {
		if strings.TrimSpace(spec.Type) == "" {
			return nil, fmt.Errorf("%w: specification has no formula or type", ErrEmpty)
		}

		text = legacyFormula(spec.Type)

		e.log.WithFields(logrus.Fields{
			"type":    spec.Type,
			"formula": text,
		}).Debug("Using legacy formula for type hint")
	}

	return e.compileCached(text)
}

// legacyFormula maps a bare type hint onto a canned formula.
func legacyFormula(typeHint string) string {
	switch Type(strings.ToUpper(strings.TrimSpace(typeHint))) {
	case TypeWeightedSum:
		return "WEIGHTED_SUM(ROUGE: 0.5, BLEU: 0.5)"
	case TypeThreshold:
		return "THRESHOLD(ROUGE, 0.7)"
	default:
		return "AVERAGE(ROUGE, BLEU)"
	}
}

func (e *engine) ValidateAgainst(text string, available []string) (Formula, error) {
	f, err := e.Compile(text)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(available))
	for _, a := range available {
		set[strings.ToUpper(a)] = struct{}{}
	}

	var missing []string

	for _, m := range f.Metrics() {
		if _, ok := set[m]; !ok {
			missing = append(missing, m)
		}
	}

	if len(missing) > 0 {
		sorted := make([]string, 0, len(set))
		for a := range set {
			sorted = append(sorted, a)
		}

		sort.Strings(sorted)

		return nil, &MetricError{
			Kind:    ErrMetricNotAvailable,
			Metrics: missing,
			Against: sorted,
		}
	}

	return f, nil
}

func (e *engine) CreateSpecification(text string, typeHint string) (catalog.Specification, error) {
	f, err := e.Compile(text)
	if err != nil {
		return catalog.Specification{}, fmt.Errorf("validating formula: %w", err)
	}

	t := strings.ToUpper(strings.TrimSpace(typeHint))
	if t == "" {
		t = string(DetectType(f.String()))
	}

	return catalog.Specification{
		Formula: f.String(),
		Version: Version,
		Type:    t,
	}, nil
}

func (e *engine) RegisterMetrics(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0

	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}

		if _, ok := e.known[n]; !ok {
			e.known[n] = struct{}{}
			added++
		}
	}

	if added > 0 {
		e.log.WithField("count", added).Info("Registered additional metric names")
	}
}

func (e *engine) KnownMetrics() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.knownLocked()
}

func (e *engine) knownLocked() []string {
	out := make([]string, 0, len(e.known))
	for k := range e.known {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

// SyntaxHelp describes the supported formula forms.
func SyntaxHelp() string {
	return `KPI formula syntax
==================

Keywords are case-insensitive; metric names are upper-cased.

1. AVERAGE(metric1, metric2, ...)
   Mean of the metrics that are present. 0 when none is present.
   Example: AVERAGE(ROUGE, BLEU, F1_SCORE)

2. WEIGHTED_SUM(metric1: weight1, metric2: weight2, ...)
   Sum of value * weight. A missing metric contributes 0.
   Example: WEIGHTED_SUM(ROUGE: 0.6, BLEU: 0.4)

3. MIN(metric1, metric2, ...)
   Smallest present value. 0 when none is present.
   Example: MIN(ROUGE, BLEU)

4. MAX(metric1, metric2, ...)
   Largest present value. 0 when none is present.
   Example: MAX(ROUGE, BLEU)

5. THRESHOLD(metric, value)
   1.0 if metric >= value, 0.0 otherwise.
   Example: THRESHOLD(ROUGE, 0.7)

Built-in metrics: ROUGE, BLEU, ACCURACY, PRECISION, RECALL, F1_SCORE.
Additional names can be registered at runtime.
`
}
