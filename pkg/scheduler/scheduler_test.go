package scheduler_test

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

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

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

func newSchedule(cron string) *store.ScheduleConfig {
	return &store.ScheduleConfig{
		Name:                 "nightly",
		BenchmarkID:          "bench-1",
		AgentID:              "agent-1",
		CronExpression:       cron,
		Enabled:              true,
		AutoDisableOnFailure: true,
	}
}
