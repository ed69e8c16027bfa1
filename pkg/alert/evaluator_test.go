package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		condition store.AlertCondition
		value     float64
		threshold float64
		want      bool
	}{
		{name: "less than fires", condition: store.ConditionLessThan, value: 0.5, threshold: 0.7, want: true},
		{name: "less than strict", condition: store.ConditionLessThan, value: 0.7, threshold: 0.7, want: false},
		{name: "less than above", condition: store.ConditionLessThan, value: 0.8, threshold: 0.7, want: false},
		{name: "greater than fires", condition: store.ConditionGreaterThan, value: 0.9, threshold: 0.7, want: true},
		{name: "greater than strict", condition: store.ConditionGreaterThan, value: 0.7, threshold: 0.7, want: false},
		{name: "equals within epsilon", condition: store.ConditionEquals, value: 0.70005, threshold: 0.7, want: true},
		{name: "equals outside epsilon", condition: store.ConditionEquals, value: 0.7002, threshold: 0.7, want: false},
		{name: "not equals outside epsilon", condition: store.ConditionNotEquals, value: 0.7002, threshold: 0.7, want: true},
		{name: "not equals within epsilon", condition: store.ConditionNotEquals, value: 0.70005, threshold: 0.7, want: false},
		{name: "percentage drop never fires", condition: store.ConditionPercentageDrop, value: 0, threshold: 10, want: false},
		{name: "percentage rise never fires", condition: store.ConditionPercentageRise, value: 100, threshold: 10, want: false},
		{name: "anomaly never fires", condition: store.ConditionAnomalyDetected, value: 100, threshold: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Check(tt.condition, tt.value, tt.threshold))
		})
	}
}

func seedRunWithKPI(t *testing.T, st store.Store, agentID string, value float64) string {
	t.Helper()

	ctx := context.Background()
	run := &store.Run{
		BenchmarkID: "bench-1",
		AgentID:     agentID,
		Status:      store.RunStatusRunning,
		TriggerType: store.TriggerManual,
	}
	require.NoError(t, st.CreateRun(ctx, run))
	require.NoError(t, st.CreateKPIHistory(ctx, &store.KPIHistory{
		RunID:       run.ID,
		BenchmarkID: "bench-1",
		AgentID:     agentID,
		KPIName:     "quality",
		Value:       value,
		Status:      store.KPIStatusUnknown,
		RecordedAt:  time.Now().UTC(),
	}))

	return run.ID
}

func TestEvaluator_CooldownOnRunPath(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	disp := &recordingDispatcher{}
	ev := NewEvaluator(newTestLogger(), st, disp, WithClock(clock.Now))

	a := newAlert(store.ConditionLessThan, 0.7)
	require.NoError(t, st.CreateAlert(ctx, a))

	// Above threshold: nothing fires.
	fired, err := ev.EvaluateForRun(ctx, seedRunWithKPI(t, st, "agent-1", 0.8))
	require.NoError(t, err)
	assert.Empty(t, fired)

	// Below threshold: fires once.
	fired, err = ev.EvaluateForRun(ctx, seedRunWithKPI(t, st, "agent-1", 0.5))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, a.ID, fired[0].Alert.ID)
	assert.InDelta(t, 0.5, fired[0].Value, 1e-9)
	assert.Equal(t, 1, disp.count())

	stored, err := st.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastTriggeredAt)

	// Within cooldown: suppressed even though the value is worse.
	clock.Advance(30 * time.Minute)

	fired, err = ev.EvaluateForRun(ctx, seedRunWithKPI(t, st, "agent-1", 0.1))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, 1, disp.count())

	// After the window: fires again.
	clock.Advance(31 * time.Minute)

	fired, err = ev.EvaluateForRun(ctx, seedRunWithKPI(t, st, "agent-1", 0.1))
	require.NoError(t, err)
	assert.Len(t, fired, 1)
	assert.Equal(t, 2, disp.count())
}

func TestEvaluator_SkipsOtherAgentsAndDisabled(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	disp := &recordingDispatcher{}
	ev := NewEvaluator(newTestLogger(), st, disp)

	scoped := newAlert(store.ConditionLessThan, 0.7)
	scoped.AgentID = "agent-2"
	require.NoError(t, st.CreateAlert(ctx, scoped))

	disabled := newAlert(store.ConditionLessThan, 0.7)
	require.NoError(t, st.CreateAlert(ctx, disabled))
	disabled.Enabled = false
	require.NoError(t, st.UpdateAlert(ctx, disabled))

	fired, err := ev.EvaluateForRun(ctx, seedRunWithKPI(t, st, "agent-1", 0.1))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, 0, disp.count())
}

func TestEvaluator_RunNotFound(t *testing.T) {
	st := setupTestStore(t)
	ev := NewEvaluator(newTestLogger(), st, &recordingDispatcher{})

	_, err := ev.EvaluateForRun(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvaluator_AdHocIgnoresCooldown(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	disp := &recordingDispatcher{}
	ev := NewEvaluator(newTestLogger(), st, disp)

	a := newAlert(store.ConditionLessThan, 0.7)
	require.NoError(t, st.CreateAlert(ctx, a))

	other := newAlert(store.ConditionGreaterThan, 0.9)
	other.KPIName = "latency"
	require.NoError(t, st.CreateAlert(ctx, other))

	for i := 0; i < 2; i++ {
		fired, err := ev.EvaluateKPIValue(ctx, "bench-1", "quality", 0.5)
		require.NoError(t, err)
		require.Len(t, fired, 1)
		assert.Equal(t, a.ID, fired[0].ID)
	}

	assert.Equal(t, 2, disp.count())

	fired, err := ev.EvaluateKPIValue(ctx, "bench-1", "quality", 0.8)
	require.NoError(t, err)
	assert.Empty(t, fired)
}

// disableAfterList disables every listed alert right after the evaluator
// reads them, the way an API disable racing an evaluation would.
type disableAfterList struct {
	store.Store
}

func (s disableAfterList) ListAlerts(ctx context.Context, filter store.AlertFilter) ([]store.AlertConfig, error) {
	alerts, err := s.Store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}

	for _, a := range alerts {
		if err := s.Store.UpdateAlertFields(ctx, a.ID, map[string]any{"enabled": false}); err != nil {
			return nil, err
		}
	}

	return alerts, nil
}

func TestEvaluator_TriggerKeepsConcurrentDisable(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	disp := &recordingDispatcher{}
	ev := NewEvaluator(newTestLogger(), disableAfterList{Store: st}, disp)

	a := newAlert(store.ConditionLessThan, 0.7)
	require.NoError(t, st.CreateAlert(ctx, a))

	fired, err := ev.EvaluateKPIValue(ctx, "bench-1", "quality", 0.5)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, 1, disp.count())

	got, err := st.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	require.NotNil(t, got.LastTriggeredAt)
}
