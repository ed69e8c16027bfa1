package metric

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/tracesource"
)

type stubProvider struct {
	name  string
	value float64
	err   error
	panic bool
}

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Unit() string { return "score" }

func (s stubProvider) Compute(_, _ string) (float64, error) {
	if s.panic {
		panic("boom")
	}

	return s.value, s.err
}

func strPtr(s string) *string { return &s }

func newTestAggregator(providers ...Provider) *Aggregator {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	r := NewEmptyRegistry()
	for _, p := range providers {
		r.Register(p)
	}

	return NewAggregator(log, r)
}

func TestAccumulator_MeansAndAliases(t *testing.T) {
	tests := []struct {
		name   string
		values map[string][]float64
		want   map[string]float64
	}{
		{
			name:   "empty",
			values: nil,
			want:   map[string]float64{},
		},
		{
			name:   "plain mean",
			values: map[string][]float64{Precision: {0.2, 0.4}},
			want:   map[string]float64{Precision: 0.3},
		},
		{
			name:   "rouge1 aliases rouge and derives bleu",
			values: map[string][]float64{"ROUGE1_F": {0.8}, "ROUGEL_F": {0.6}},
			want:   map[string]float64{"ROUGE1_F": 0.8, "ROUGEL_F": 0.6, Rouge: 0.8, Bleu: 0.8 * 0.85},
		},
		{
			name:   "rougeL used when rouge1 missing",
			values: map[string][]float64{"ROUGEL_F": {0.6}},
			want:   map[string]float64{"ROUGEL_F": 0.6, Rouge: 0.6, Bleu: 0.6 * 0.85},
		},
		{
			name:   "measured rouge and bleu are kept",
			values: map[string][]float64{Rouge: {0.5}, "ROUGE1_F": {0.9}, Bleu: {0.1}},
			want:   map[string]float64{Rouge: 0.5, "ROUGE1_F": 0.9, Bleu: 0.1},
		},
		{
			name:   "cosine replaces accuracy",
			values: map[string][]float64{Accuracy: {0.2}, "COSINE_PRED_GOLD": {0.9}},
			want:   map[string]float64{Accuracy: 0.9, "COSINE_PRED_GOLD": 0.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			for name, vs := range tt.values {
				for _, v := range vs {
					acc.Add(name, v)
				}
			}

			got := acc.Means()
			require.Len(t, got, len(tt.want))

			for k, v := range tt.want {
				assert.InDelta(t, v, got[k], 1e-9, k)
			}
		})
	}
}

func TestAggregator_ScoreTraceIsolatesFailures(t *testing.T) {
	agg := newTestAggregator(
		stubProvider{name: "GOOD", value: 0.7},
		stubProvider{name: "BAD", err: errors.New("nope")},
		stubProvider{name: "PANICKY", panic: true},
	)

	scores, failures := agg.ScoreTrace(tracesource.Trace{
		ID:        "t",
		Scores:    map[string]float64{"rouge1-f": 0.4},
		Expected:  strPtr("a"),
		Generated: strPtr("a"),
	})

	require.Len(t, scores, 2)
	assert.Equal(t, Score{Name: "ROUGE1_F", Source: store.SnapshotSourceExternal, Value: 0.4}, scores[0])
	assert.Equal(t, Score{Name: "GOOD", Unit: "score", Source: store.SnapshotSourceProvider, Value: 0.7}, scores[1])

	require.Len(t, failures, 2)
	assert.Equal(t, "BAD", failures[0].Provider)
	assert.Equal(t, "PANICKY", failures[1].Provider)
	assert.Contains(t, failures[1].Error(), "panic: boom")
}

func TestAggregator_Aggregate(t *testing.T) {
	agg := newTestAggregator(NewPrecisionProvider(), NewRecallProvider())

	traces := []tracesource.Trace{
		{ID: "1", Expected: strPtr("a b"), Generated: strPtr("a b")},
		{ID: "2", Expected: strPtr("a b"), Generated: strPtr("a c")},
		// Missing text: only its external score counts.
		{ID: "3", Scores: map[string]float64{"ROUGE1_F": 0.5}},
	}

	got := agg.Aggregate("bot", traces)

	assert.InDelta(t, 0.75, got[Precision], 1e-9)
	assert.InDelta(t, 0.75, got[Recall], 1e-9)
	assert.InDelta(t, 0.5, got[Rouge], 1e-9)
	assert.InDelta(t, 0.425, got[Bleu], 1e-9)

	assert.Empty(t, agg.Aggregate("bot", nil))
}
