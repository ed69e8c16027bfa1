package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	s := store.NewStore(newTestLogger(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

type dispatched struct {
	alertID string
	value   float64
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (d *recordingDispatcher) Dispatch(_ context.Context, a *store.AlertConfig, value float64, _ time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, dispatched{alertID: a.ID, value: value})
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.calls)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

func ptr[T any](v T) *T { return &v }

func newAlert(condition store.AlertCondition, threshold float64) *store.AlertConfig {
	return &store.AlertConfig{
		Name:            "accuracy regression",
		BenchmarkID:     "bench-1",
		KPIName:         "quality",
		Condition:       condition,
		Threshold:       ptr(threshold),
		Severity:        store.SeverityWarning,
		Channels:        []store.NotificationChannel{store.ChannelInApp},
		Enabled:         true,
		CooldownMinutes: 60,
	}
}
