package formula

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parser turns formula text into a Formula without vocabulary checks.
type Parser interface {
	Parse(text string) (Formula, error)
}

var (
	averagePattern     = regexp.MustCompile(`(?i)^AVERAGE\s*\(\s*([^)]+?)\s*\)$`)
	weightedSumPattern = regexp.MustCompile(`(?i)^WEIGHTED_SUM\s*\(\s*([^)]+?)\s*\)$`)
	minPattern         = regexp.MustCompile(`(?i)^MIN\s*\(\s*([^)]+?)\s*\)$`)
	maxPattern         = regexp.MustCompile(`(?i)^MAX\s*\(\s*([^)]+?)\s*\)$`)
	thresholdPattern   = regexp.MustCompile(`(?i)^THRESHOLD\s*\(\s*(\w+)\s*,\s*([\d.]+)\s*\)$`)
)

type patternParser struct{}

// NewPatternParser returns the parser for the five aggregation patterns.
// Patterns are tried in the order AVERAGE, WEIGHTED_SUM, MIN, MAX,
// THRESHOLD and the first match wins.
func NewPatternParser() Parser {
	return patternParser{}
}

func (patternParser) Parse(text string) (Formula, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmpty
	}

	if m := averagePattern.FindStringSubmatch(trimmed); m != nil {
		return parseReduce(TypeAverage, trimmed, m[1])
	}

	if m := weightedSumPattern.FindStringSubmatch(trimmed); m != nil {
		return parseWeightedSum(trimmed, m[1])
	}

	if m := minPattern.FindStringSubmatch(trimmed); m != nil {
		return parseReduce(TypeMin, trimmed, m[1])
	}

	if m := maxPattern.FindStringSubmatch(trimmed); m != nil {
		return parseReduce(TypeMax, trimmed, m[1])
	}

	if m := thresholdPattern.FindStringSubmatch(trimmed); m != nil {
		threshold, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid threshold %q", ErrSyntax, m[2])
		}

		return &thresholdFormula{
			text:      trimmed,
			metric:    strings.ToUpper(m[1]),
			threshold: threshold,
		}, nil
	}

	return nil, ErrSyntax
}

func parseMetricList(args string) []string {
	parts := strings.Split(args, ",")
	metrics := make([]string, 0, len(parts))

	for _, p := range parts {
		if m := strings.ToUpper(strings.TrimSpace(p)); m != "" {
			metrics = append(metrics, m)
		}
	}

	return metrics
}

func parseReduce(kind Type, text, args string) (Formula, error) {
	metrics := parseMetricList(args)
	if len(metrics) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one metric", ErrSyntax, kind)
	}

	return &reduceFormula{kind: kind, text: text, metrics: metrics}, nil
}

func parseWeightedSum(text, args string) (Formula, error) {
	parts := strings.Split(args, ",")
	terms := make([]weightedTerm, 0, len(parts))

	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}

		name, weight, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("%w: expected METRIC:WEIGHT, got %q", ErrSyntax, strings.TrimSpace(p))
		}

		w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid weight %q", ErrSyntax, strings.TrimSpace(weight))
		}

		metric := strings.ToUpper(strings.TrimSpace(name))
		if metric == "" {
			return nil, fmt.Errorf("%w: missing metric name before weight", ErrSyntax)
		}

		terms = append(terms, weightedTerm{metric: metric, weight: w})
	}

	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: WEIGHTED_SUM needs at least one term", ErrSyntax)
	}

	return &weightedSumFormula{text: text, terms: terms}, nil
}

// DetectType returns the formula type implied by the leading keyword.
func DetectType(text string) Type {
	upper := strings.ToUpper(strings.TrimSpace(text))

	for _, t := range []Type{TypeAverage, TypeWeightedSum, TypeMin, TypeMax, TypeThreshold} {
		if strings.HasPrefix(upper, string(t)) {
			return t
		}
	}

	return TypeCustom
}
