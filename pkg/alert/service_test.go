package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *store.AlertConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*store.AlertConfig) {}},
		{name: "missing name", mutate: func(a *store.AlertConfig) { a.Name = "" }, wantErr: true},
		{name: "missing kpi", mutate: func(a *store.AlertConfig) { a.KPIName = "" }, wantErr: true},
		{name: "missing threshold", mutate: func(a *store.AlertConfig) { a.Threshold = nil }, wantErr: true},
		{name: "bad condition", mutate: func(a *store.AlertConfig) { a.Condition = "ABOUT" }, wantErr: true},
		{name: "bad severity", mutate: func(a *store.AlertConfig) { a.Severity = "LOUD" }, wantErr: true},
		{name: "bad channel", mutate: func(a *store.AlertConfig) {
			a.Channels = []store.NotificationChannel{"PAGER"}
		}, wantErr: true},
		{name: "bad recipient", mutate: func(a *store.AlertConfig) {
			a.Channels = []store.NotificationChannel{store.ChannelEmail}
			a.Recipients = []string{"not-an-email"}
		}, wantErr: true},
		{name: "email without recipients", mutate: func(a *store.AlertConfig) {
			a.Channels = []store.NotificationChannel{store.ChannelEmail}
		}, wantErr: true},
		{name: "bad webhook url", mutate: func(a *store.AlertConfig) { a.WebhookURL = "::" }, wantErr: true},
		{name: "negative cooldown", mutate: func(a *store.AlertConfig) { a.CooldownMinutes = -1 }, wantErr: true},
		{name: "reserved condition accepted", mutate: func(a *store.AlertConfig) {
			a.Condition = store.ConditionAnomalyDetected
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAlert(store.ConditionLessThan, 0.7)
			tt.mutate(a)

			err := Validate(a)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAlert)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestService_CRUD(t *testing.T) {
	st := setupTestStore(t)
	svc := NewService(newTestLogger(), st)
	ctx := context.Background()

	a := newAlert(store.ConditionLessThan, 0.7)
	require.NoError(t, svc.Create(ctx, a))
	require.NotEmpty(t, a.ID)

	// Preserve trigger history across updates.
	fired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateAlertFields(ctx, a.ID, map[string]any{"last_triggered_at": fired}))

	update := newAlert(store.ConditionGreaterThan, 0.9)
	update.ID = a.ID
	require.NoError(t, svc.Update(ctx, update))

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConditionGreaterThan, got.Condition)
	require.NotNil(t, got.LastTriggeredAt)
	assert.True(t, fired.Equal(*got.LastTriggeredAt))

	disabled, err := svc.Disable(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)

	list, err := svc.List(ctx, store.AlertFilter{BenchmarkID: "bench-1", EnabledOnly: true})
	require.NoError(t, err)
	assert.Empty(t, list)

	enabled, err := svc.Enable(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)

	require.NoError(t, svc.Delete(ctx, a.ID))
	_, err = svc.Get(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = svc.Delete(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Enable(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_UpdateMissing(t *testing.T) {
	svc := NewService(newTestLogger(), setupTestStore(t))

	a := newAlert(store.ConditionLessThan, 0.7)
	a.ID = "missing"

	err := svc.Update(context.Background(), a)
	require.ErrorIs(t, err, store.ErrNotFound)
}
