package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RunsFinished.WithLabelValues("COMPLETED", "MANUAL"))
	RunsFinished.WithLabelValues("COMPLETED", "MANUAL").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(RunsFinished.WithLabelValues("COMPLETED", "MANUAL")), 1e-9)

	before = testutil.ToFloat64(NotificationFailures.WithLabelValues("SLACK"))
	NotificationFailures.WithLabelValues("SLACK").Add(2)
	assert.InDelta(t, before+2, testutil.ToFloat64(NotificationFailures.WithLabelValues("SLACK")), 1e-9)
}

func TestObserveTrace(t *testing.T) {
	ObserveTrace(time.Now().Add(-10 * time.Millisecond))
	assert.Equal(t, 1, testutil.CollectAndCount(TraceDuration))
}
