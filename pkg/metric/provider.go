package metric

import (
	"regexp"
	"strings"
)

// Provider scores a generated text against a reference text.
type Provider interface {
	// Name returns the metric name the provider reports under.
	Name() string

	// Unit returns the unit recorded on snapshots.
	Unit() string

	// Compute returns the score for the pair.
	Compute(reference, generated string) (float64, error)
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

// tokenize lower-cases text, splits on whitespace, strips every
// non-alphanumeric character and drops empty tokens.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))

	for _, f := range fields {
		if t := nonAlphanumeric.ReplaceAllString(f, ""); t != "" {
			tokens = append(tokens, t)
		}
	}

	return tokens
}

func tokenSet(text string) map[string]struct{} {
	tokens := tokenize(text)
	set := make(map[string]struct{}, len(tokens))

	for _, t := range tokens {
		set[t] = struct{}{}
	}

	return set
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}

	n := 0

	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}

	return n
}

// precisionProvider reports the share of generated tokens found in the
// reference.
type precisionProvider struct{}

// NewPrecisionProvider creates the token-set precision scorer.
func NewPrecisionProvider() Provider { return precisionProvider{} }

func (precisionProvider) Name() string { return Precision }
func (precisionProvider) Unit() string { return "ratio" }

func (precisionProvider) Compute(reference, generated string) (float64, error) {
	ref, gen := tokenSet(reference), tokenSet(generated)

	if len(gen) == 0 {
		if len(ref) == 0 {
			return 1, nil
		}

		return 0, nil
	}

	return float64(intersectionSize(ref, gen)) / float64(len(gen)), nil
}

// recallProvider reports the share of reference tokens found in the
// generated text.
type recallProvider struct{}

// NewRecallProvider creates the token-set recall scorer.
func NewRecallProvider() Provider { return recallProvider{} }

func (recallProvider) Name() string { return Recall }
func (recallProvider) Unit() string { return "ratio" }

func (recallProvider) Compute(reference, generated string) (float64, error) {
	ref, gen := tokenSet(reference), tokenSet(generated)

	if len(ref) == 0 {
		if len(gen) == 0 {
			return 1, nil
		}

		return 0, nil
	}

	return float64(intersectionSize(ref, gen)) / float64(len(ref)), nil
}

// f1Provider is the harmonic mean of token-set precision and recall.
type f1Provider struct{}

// NewF1Provider creates the token-set F1 scorer.
func NewF1Provider() Provider { return f1Provider{} }

func (f1Provider) Name() string { return F1Score }
func (f1Provider) Unit() string { return "score" }

func (f1Provider) Compute(reference, generated string) (float64, error) {
	ref, gen := tokenSet(reference), tokenSet(generated)

	switch {
	case len(ref) == 0 && len(gen) == 0:
		return 1, nil
	case len(ref) == 0 || len(gen) == 0:
		return 0, nil
	}

	common := float64(intersectionSize(ref, gen))
	p := common / float64(len(gen))
	r := common / float64(len(ref))

	if p+r == 0 {
		return 0, nil
	}

	return 2 * p * r / (p + r), nil
}

// accuracyProvider is the Jaccard index of the two token sets.
type accuracyProvider struct{}

// NewAccuracyProvider creates the Jaccard accuracy scorer.
func NewAccuracyProvider() Provider { return accuracyProvider{} }

func (accuracyProvider) Name() string { return Accuracy }
func (accuracyProvider) Unit() string { return "ratio" }

func (accuracyProvider) Compute(reference, generated string) (float64, error) {
	ref, gen := tokenSet(reference), tokenSet(generated)

	if len(ref) == 0 && len(gen) == 0 {
		return 1, nil
	}

	common := intersectionSize(ref, gen)
	union := len(ref) + len(gen) - common

	return float64(common) / float64(union), nil
}

// lcsProvider is the F-measure of the longest common token subsequence.
// It reports under the BLEU slot; ROUGE comes from external scores.
type lcsProvider struct{}

// NewLCSProvider creates the longest-common-subsequence scorer.
func NewLCSProvider() Provider { return lcsProvider{} }

func (lcsProvider) Name() string { return Bleu }
func (lcsProvider) Unit() string { return "score" }

func (lcsProvider) Compute(reference, generated string) (float64, error) {
	ref, gen := tokenize(reference), tokenize(generated)

	if len(ref) == 0 || len(gen) == 0 {
		return 0, nil
	}

	lcs := float64(longestCommonSubsequence(ref, gen))
	p := lcs / float64(len(gen))
	r := lcs / float64(len(ref))

	if p+r == 0 {
		return 0, nil
	}

	return 2 * p * r / (p + r), nil
}

func longestCommonSubsequence(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
