// Package metric scores generated text against reference text and reduces
// per-trace scores to one value per metric name.
package metric

import (
	"strings"
)

// Canonical metric names. These seed the formula vocabulary.
const (
	Rouge     = "ROUGE"
	Bleu      = "BLEU"
	Accuracy  = "ACCURACY"
	Precision = "PRECISION"
	Recall    = "RECALL"
	F1Score   = "F1_SCORE"
)

// Alias sources folded onto canonical names after averaging.
const (
	aliasRouge1F        = "ROUGE1_F"
	aliasRougeLF        = "ROUGEL_F"
	aliasCosinePredGold = "COSINE_PRED_GOLD"

	// derivedBleuFactor scales ROUGE into a placeholder BLEU when no BLEU
	// value was measured.
	derivedBleuFactor = 0.85
)

// CanonicalNames returns the fixed set of canonical metric names.
func CanonicalNames() []string {
	return []string{Rouge, Bleu, Accuracy, Precision, Recall, F1Score}
}

// NormalizeKey maps an externally supplied score name onto metric-name
// form: upper case, with dashes and spaces replaced by underscores.
func NormalizeKey(name string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToUpper(name))
}
