package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaico-wp2/agentbench/pkg/scheduler"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (scheduler.Service, store.Store, *testClock) {
	t.Helper()

	st := setupTestStore(t)
	clock := &testClock{t: baseTime}

	return scheduler.NewService(newTestLogger(), st, scheduler.WithClock(clock.Now)), st, clock
}

func TestService_CreateDefaults(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	s := newSchedule("0 2 * * *")
	require.NoError(t, svc.Create(ctx, s))

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "UTC", s.Timezone)
	assert.Equal(t, scheduler.DefaultMaxConsecutiveFailures, s.MaxConsecutiveFailures)
	require.NotNil(t, s.NextRunAt)
	assert.True(t, s.NextRunAt.Equal(time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC)))
}

func TestService_CreateDisabledHasNoNextRun(t *testing.T) {
	svc, _, _ := setupService(t)

	s := newSchedule("@hourly")
	s.Enabled = false
	require.NoError(t, svc.Create(context.Background(), s))
	assert.Nil(t, s.NextRunAt)
}

func TestService_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *store.ScheduleConfig)
		wantErr error
	}{
		{
			name:    "bad cron",
			mutate:  func(s *store.ScheduleConfig) { s.CronExpression = "every day" },
			wantErr: scheduler.ErrInvalidCron,
		},
		{
			name:    "bad timezone",
			mutate:  func(s *store.ScheduleConfig) { s.Timezone = "Atlantis/Capital" },
			wantErr: scheduler.ErrInvalidTimezone,
		},
		{
			name:    "missing benchmark",
			mutate:  func(s *store.ScheduleConfig) { s.BenchmarkID = "" },
			wantErr: scheduler.ErrInvalidSchedule,
		},
		{
			name:    "missing name",
			mutate:  func(s *store.ScheduleConfig) { s.Name = "" },
			wantErr: scheduler.ErrInvalidSchedule,
		},
		{
			name:    "negative failure limit",
			mutate:  func(s *store.ScheduleConfig) { s.MaxConsecutiveFailures = -1 },
			wantErr: scheduler.ErrInvalidSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := setupService(t)

			s := newSchedule("0 2 * * *")
			tt.mutate(s)

			err := svc.Create(context.Background(), s)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_MarkDispatchedAdvances(t *testing.T) {
	svc, st, clock := setupService(t)
	ctx := context.Background()

	s := newSchedule("0 * * * *")
	require.NoError(t, svc.Create(ctx, s))
	require.True(t, s.NextRunAt.Equal(baseTime.Add(time.Hour)))

	clock.Advance(time.Hour + time.Minute)

	due, err := svc.FindDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, svc.MarkDispatched(ctx, &due[0], "run-1"))

	got, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastFiredAt)
	assert.True(t, got.LastFiredAt.Equal(baseTime.Add(time.Hour)))
	assert.True(t, got.NextRunAt.Equal(baseTime.Add(2*time.Hour)))
	assert.Equal(t, "run-1", got.LastRunID)

	due, err = svc.FindDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestService_MissedFiresCollapse(t *testing.T) {
	svc, st, clock := setupService(t)
	ctx := context.Background()

	s := newSchedule("0 * * * *")
	require.NoError(t, svc.Create(ctx, s))

	// Down for five hours: one dispatch, then the next future slot.
	clock.Advance(5*time.Hour + 30*time.Minute)

	due, err := svc.FindDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, svc.MarkDispatched(ctx, &due[0], "run-1"))

	got, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(baseTime.Add(6*time.Hour)))
}

func TestService_AutoDisable(t *testing.T) {
	svc, st, clock := setupService(t)
	ctx := context.Background()

	s := newSchedule("@hourly")
	s.MaxConsecutiveFailures = 2
	require.NoError(t, svc.Create(ctx, s))

	clock.Advance(time.Hour + time.Minute)

	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-1"))

	got, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 1, got.ConsecutiveFailures)

	due, err := svc.FindDue(ctx)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-2"))

	got, err = st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, 2, got.RunCount)
	assert.Equal(t, 2, got.FailureCount)
	assert.Equal(t, store.RunStatusFailed, got.LastRunStatus)

	// Stays out of due queries however much time passes.
	clock.Advance(24 * time.Hour)

	due, err = svc.FindDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	enabled, err := svc.Enable(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, enabled.ConsecutiveFailures)
	require.NotNil(t, enabled.NextRunAt)
	assert.True(t, enabled.NextRunAt.After(clock.Now()))

	due, err = svc.FindDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(time.Hour)

	due, err = svc.FindDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, s.ID, due[0].ID)
}

func TestService_FailureBetweenFindDueAndDispatchSticks(t *testing.T) {
	svc, st, clock := setupService(t)
	ctx := context.Background()

	s := newSchedule("0 * * * *")
	s.MaxConsecutiveFailures = 1
	require.NoError(t, svc.Create(ctx, s))

	clock.Advance(time.Hour + time.Minute)

	due, err := svc.FindDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// An earlier run of the schedule fails while due[0] is in hand.
	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-0"))

	err = svc.MarkDispatched(ctx, &due[0], "run-1")
	require.ErrorIs(t, err, scheduler.ErrScheduleDisabled)
	assert.False(t, due[0].Enabled)

	got, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, "run-0", got.LastRunID)

	due, err = svc.FindDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestService_DispatchKeepsCountersWrittenMeanwhile(t *testing.T) {
	svc, st, clock := setupService(t)
	ctx := context.Background()

	s := newSchedule("0 * * * *")
	require.NoError(t, svc.Create(ctx, s))

	clock.Advance(time.Hour + time.Minute)

	due, err := svc.FindDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-0"))
	require.NoError(t, svc.MarkDispatched(ctx, &due[0], "run-1"))

	got, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, "run-1", got.LastRunID)
	assert.Equal(t, store.RunStatusPending, got.LastRunStatus)
	assert.True(t, got.NextRunAt.Equal(baseTime.Add(2*time.Hour)))
}

func TestService_NoAutoDisableWhenOff(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()

	s := newSchedule("@hourly")
	s.MaxConsecutiveFailures = 1
	s.AutoDisableOnFailure = false
	require.NoError(t, svc.Create(ctx, s))

	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-1"))
	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-2"))

	got, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 2, got.ConsecutiveFailures)
}

func TestService_SuccessResetsConsecutiveFailures(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()

	s := newSchedule("@hourly")
	require.NoError(t, svc.Create(ctx, s))

	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-1"))
	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-2"))
	require.NoError(t, svc.RecordRunSuccess(ctx, s.ID, "run-3"))

	got, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Equal(t, 2, got.FailureCount)
	assert.Equal(t, 3, got.RunCount)
	assert.Equal(t, "run-3", got.LastRunID)
	assert.Equal(t, store.RunStatusCompleted, got.LastRunStatus)
}

func TestService_RunFinished(t *testing.T) {
	tests := []struct {
		name         string
		status       store.RunStatus
		wantRuns     int
		wantFailures int
	}{
		{name: "completed", status: store.RunStatusCompleted, wantRuns: 1},
		{name: "failed", status: store.RunStatusFailed, wantRuns: 1, wantFailures: 1},
		{name: "cancelled is ignored", status: store.RunStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, _ := setupService(t)
			ctx := context.Background()

			s := newSchedule("@hourly")
			require.NoError(t, svc.Create(ctx, s))

			svc.RunFinished(ctx, &store.Run{ID: "r1", Status: tt.status, ScheduleConfigID: s.ID})
			svc.RunFinished(ctx, &store.Run{ID: "r2", Status: store.RunStatusFailed})

			got, err := st.GetSchedule(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRuns, got.RunCount)
			assert.Equal(t, tt.wantFailures, got.FailureCount)
		})
	}
}

func TestService_EnableDisable(t *testing.T) {
	svc, _, clock := setupService(t)
	ctx := context.Background()

	s := newSchedule("0 * * * *")
	require.NoError(t, svc.Create(ctx, s))

	disabled, err := svc.Disable(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Nil(t, disabled.NextRunAt)

	clock.Advance(3*time.Hour + 10*time.Minute)

	enabled, err := svc.Enable(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	require.NotNil(t, enabled.NextRunAt)
	assert.True(t, enabled.NextRunAt.Equal(baseTime.Add(4*time.Hour)))
}

func TestService_UpdatePreservesCounters(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	s := newSchedule("0 2 * * *")
	require.NoError(t, svc.Create(ctx, s))
	require.NoError(t, svc.RecordRunFailure(ctx, s.ID, "run-1"))

	updated, err := svc.Update(ctx, &store.ScheduleConfig{
		ID:             s.ID,
		Name:           "hourly now",
		BenchmarkID:    "bench-1",
		AgentID:        "agent-1",
		CronExpression: "@hourly",
		Enabled:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, "hourly now", updated.Name)
	assert.Equal(t, 1, updated.FailureCount)
	assert.Equal(t, "UTC", updated.Timezone)
	assert.True(t, updated.NextRunAt.Equal(baseTime.Add(time.Hour)))
}

func TestService_UpdateMissing(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Update(context.Background(), &store.ScheduleConfig{
		ID:             "missing",
		Name:           "x",
		BenchmarkID:    "b",
		AgentID:        "a",
		CronExpression: "@daily",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}
