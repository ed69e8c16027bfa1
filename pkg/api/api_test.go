package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaico-wp2/agentbench/pkg/alert"
	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/formula"
	"github.com/mosaico-wp2/agentbench/pkg/metric"
	"github.com/mosaico-wp2/agentbench/pkg/orchestrator"
	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/scheduler"
	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/tracesource"
)

// holdingPool accepts tasks without running them so runs stay PENDING.
type holdingPool struct {
	mu     sync.Mutex
	tasks  int
	reject bool
}

func (p *holdingPool) Start(context.Context) error { return nil }
func (p *holdingPool) Stop() error                 { return nil }

func (p *holdingPool) Submit(orchestrator.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reject {
		return orchestrator.ErrQueueFull
	}

	p.tasks++

	return nil
}

func (p *holdingPool) submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.tasks
}

type emptySource struct{}

func (emptySource) FetchTraces(
	context.Context, *catalog.Agent, string, string,
) ([]tracesource.Trace, error) {
	return nil, nil
}

type testEnv struct {
	srv   *httptest.Server
	store store.Store
	runs  runmanager.Manager
	pool  *holdingPool
}

func newTestEnv(t *testing.T, cfg *config.ServerConfig) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	cat, err := catalog.New(
		[]catalog.Agent{{ID: "agent-1", Name: "Agent"}, {ID: "agent-2", Name: "Other"}},
		[]catalog.Benchmark{
			{ID: "bench-1", Name: "QA", DatasetRef: "qa-dataset", RunName: "nightly"},
			{ID: "bench-2", Name: "Summaries", DatasetRef: "sum-dataset", RunName: "nightly"},
		},
	)
	require.NoError(t, err)

	engine := formula.NewEngine(log)
	runs := runmanager.New(log, st)
	evaluator := alert.NewEvaluator(log, st, alert.NewDispatcher(log, nil))
	pool := &holdingPool{}

	orch := orchestrator.New(
		log,
		&config.OrchestratorConfig{TraceConcurrency: 1, MaxRetries: 1},
		st,
		runs,
		cat,
		emptySource{},
		metric.NewAggregator(log, metric.NewRegistry()),
		engine,
		evaluator,
		pool,
	)

	if cfg == nil {
		cfg = &config.ServerConfig{Listen: "127.0.0.1:0"}
	}

	s := NewServer(log, cfg, Deps{
		Store:        st,
		Runs:         runs,
		Orchestrator: orch,
		Catalog:      cat,
		Engine:       engine,
		Schedules:    scheduler.NewService(log, st),
		Alerts:       alert.NewService(log, st),
		Evaluator:    evaluator,
	})
	t.Cleanup(func() { _ = s.Stop() })

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: st, runs: runs, pool: pool}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func decodeBody[T any](t *testing.T, data []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))

	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTriggerRun(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{
			name:       "accepted",
			body:       map[string]string{"benchmark_id": "bench-1", "agent_id": "agent-1"},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "unknown benchmark",
			body:       map[string]string{"benchmark_id": "nope", "agent_id": "agent-1"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown agent",
			body:       map[string]string{"benchmark_id": "bench-1", "agent_id": "nope"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing agent",
			body:       map[string]string{"benchmark_id": "bench-1"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       map[string]string{"benchmark_id": "bench-1", "agent_id": "agent-1", "color": "red"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestTriggerRun_CreatesPendingRun(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/runs", map[string]string{
		"benchmark_id":     "bench-1",
		"agent_id":         "agent-1",
		"trace_batch_name": "adhoc",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	out := decodeBody[triggerResponse](t, body)
	require.NotEmpty(t, out.RunID)
	assert.Equal(t, 1, env.pool.submitted())

	resp, body = env.do(t, http.MethodGet, "/api/v1/runs/"+out.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	run := decodeBody[store.Run](t, body)
	assert.Equal(t, store.RunStatusPending, run.Status)
	assert.Equal(t, store.TriggerManual, run.TriggerType)
	assert.Equal(t, "api", run.TriggeredBy)
	assert.Equal(t, "adhoc", run.TraceBatchName)
}

func TestTriggerRun_QueueFull(t *testing.T) {
	env := newTestEnv(t, nil)
	env.pool.reject = true

	resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", map[string]string{
		"benchmark_id": "bench-1",
		"agent_id":     "agent-1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	runs, err := env.runs.List(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
}

func TestRunLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, _ := env.do(t, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	run, err := env.runs.Create(ctx, runmanager.CreateRequest{
		BenchmarkID: "bench-1",
		AgentID:     "agent-1",
		TriggerType: store.TriggerManual,
	})
	require.NoError(t, err)

	// Only RUNNING runs may be cancelled.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err = env.runs.Start(ctx, run.ID)
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.RunStatusCancelled, decodeBody[store.Run](t, body).Status)

	resp, body = env.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	retryID := decodeBody[triggerResponse](t, body).RunID
	retry, err := env.runs.Get(ctx, retryID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, retry.RetryOfRunID)
	assert.Equal(t, store.TriggerRetry, retry.TriggerType)

	// MaxRetries is 1 in this environment.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/runs/"+retryID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/runs?benchmark_id=bench-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.Run](t, body), 2)

	resp, body = env.do(t, http.MethodGet, "/api/v1/benchmarks/bench-1/agents/agent-1/history?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.Run](t, body), 1)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLatestSummary(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, _ := env.do(t, http.MethodGet, "/api/v1/benchmarks/bench-1/agents/agent-1/summary", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	run, err := env.runs.Create(ctx, runmanager.CreateRequest{
		BenchmarkID: "bench-1",
		AgentID:     "agent-1",
		TriggerType: store.TriggerManual,
	})
	require.NoError(t, err)

	require.NoError(t, env.store.CreateSnapshots(ctx, []store.MetricSnapshot{
		{RunID: run.ID, TraceID: "t1", MetricName: "PRECISION", Source: "provider", Value: 0.4},
		{RunID: run.ID, TraceID: "t2", MetricName: "PRECISION", Source: "provider", Value: 0.8},
	}))
	require.NoError(t, env.store.CreateKPIHistory(ctx, &store.KPIHistory{
		RunID: run.ID, BenchmarkID: "bench-1", AgentID: "agent-1", KPIName: "quality", Value: 0.6,
		Status: store.KPIStatusHealthy,
	}))

	resp, body := env.do(t, http.MethodGet, "/api/v1/benchmarks/bench-1/agents/agent-1/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary struct {
		Run     store.Run          `json:"run"`
		KPIs    []store.KPIHistory `json:"kpis"`
		Metrics map[string]float64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, run.ID, summary.Run.ID)
	assert.Len(t, summary.KPIs, 1)
	assert.InDelta(t, 0.6, summary.Metrics["PRECISION"], 1e-9)

	resp, body = env.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/snapshots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.MetricSnapshot](t, body), 2)

	resp, body = env.do(t, http.MethodGet, "/api/v1/kpis/history?benchmark_id=bench-1&kpi_name=quality", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.KPIHistory](t, body), 1)
}

func TestScheduleEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"name":            "nightly",
		"benchmark_id":    "bench-1",
		"agent_id":        "agent-1",
		"cron_expression": "0 2 * * *",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	created := decodeBody[store.ScheduleConfig](t, body)
	assert.True(t, created.Enabled)
	assert.True(t, created.AutoDisableOnFailure)
	assert.Equal(t, "UTC", created.Timezone)
	assert.NotNil(t, created.NextRunAt)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"name":            "broken",
		"benchmark_id":    "bench-1",
		"agent_id":        "agent-1",
		"cron_expression": "whenever",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/schedules/"+created.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decodeBody[store.ScheduleConfig](t, body).NextRunAt)

	resp, body = env.do(t, http.MethodPost, "/api/v1/schedules/"+created.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, decodeBody[store.ScheduleConfig](t, body).NextRunAt)

	resp, body = env.do(t, http.MethodPut, "/api/v1/schedules/"+created.ID, map[string]any{
		"name":            "hourly",
		"benchmark_id":    "bench-1",
		"agent_id":        "agent-1",
		"cron_expression": "@hourly",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "@hourly", decodeBody[store.ScheduleConfig](t, body).CronExpression)

	resp, body = env.do(t, http.MethodGet, "/api/v1/schedules?benchmark_id=bench-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.ScheduleConfig](t, body), 1)

	resp, body = env.do(t, http.MethodGet, "/api/v1/schedules/due", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]store.ScheduleConfig](t, body))

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAlertEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{
		"name":         "quality drop",
		"benchmark_id": "bench-1",
		"kpi_name":     "quality",
		"condition":    "LESS_THAN",
		"threshold":    0.5,
		"severity":     "WARNING",
		"channels":     []string{"IN_APP"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	created := decodeBody[store.AlertConfig](t, body)
	assert.True(t, created.Enabled)
	assert.Equal(t, alert.DefaultCooldownMinutes, created.CooldownMinutes)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{
		"name":         "bad",
		"benchmark_id": "bench-1",
		"kpi_name":     "quality",
		"condition":    "SOMETIMES",
		"threshold":    0.5,
		"severity":     "WARNING",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/alerts/evaluate", map[string]any{
		"benchmark_id": "bench-1",
		"kpi_name":     "quality",
		"value":        0.3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[evaluateResponse](t, body).Triggered, 1)

	resp, body = env.do(t, http.MethodPost, "/api/v1/alerts/evaluate", map[string]any{
		"benchmark_id": "bench-1",
		"kpi_name":     "quality",
		"value":        0.9,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[evaluateResponse](t, body).Triggered)

	resp, body = env.do(t, http.MethodPost, "/api/v1/alerts/"+created.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[store.AlertConfig](t, body).Enabled)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/alerts/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/alerts/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFormulaEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name      string
		body      map[string]any
		wantValid bool
		wantRefs  []string
	}{
		{
			name:      "valid average",
			body:      map[string]any{"formula": "AVERAGE(ROUGE, BLEU)"},
			wantValid: true,
			wantRefs:  []string{"BLEU", "ROUGE"},
		},
		{
			name: "syntax error",
			body: map[string]any{"formula": "ROUGE + BLEU"},
		},
		{
			name:     "not available",
			body:     map[string]any{"formula": "AVERAGE(ROUGE, BLEU)", "available_metrics": []string{"ROUGE"}},
			wantRefs: []string{"BLEU"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/v1/formulas/validate", tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			out := decodeBody[validateFormulaResponse](t, body)
			assert.Equal(t, tt.wantValid, out.Valid)

			if tt.wantValid {
				assert.Empty(t, out.Errors)
			} else {
				assert.NotEmpty(t, out.Errors)
			}

			if tt.wantRefs != nil {
				assert.Equal(t, tt.wantRefs, out.ReferencedMetrics)
			}
		})
	}

	resp, body := env.do(t, http.MethodPost, "/api/v1/formulas/metrics", map[string]any{
		"metrics": []string{"helpfulness"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decodeBody[map[string][]string](t, body)["metrics"], "HELPFULNESS")

	resp, body = env.do(t, http.MethodGet, "/api/v1/formulas/syntax", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decodeBody[map[string]string](t, body)["syntax"], "WEIGHTED_SUM")
}

func TestEventTriggers(t *testing.T) {
	env := newTestEnv(t, nil)

	for i, sc := range [][2]string{
		{"bench-1", "agent-1"},
		{"bench-2", "agent-1"},
		{"bench-1", "agent-2"},
		{"bench-1", "agent-1"},
	} {
		resp, body := env.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
			"name":            fmt.Sprintf("s%d", i),
			"benchmark_id":    sc[0],
			"agent_id":        sc[1],
			"cron_expression": "@daily",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}

	resp, body := env.do(t, http.MethodPost, "/api/v1/events/agent-updated/agent-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Duplicate (benchmark, agent) pairs collapse to one run.
	out := decodeBody[eventResponse](t, body)
	assert.Len(t, out.RunIDs, 2)
	assert.Equal(t, 0, out.Failed)

	resp, body = env.do(t, http.MethodPost, "/api/v1/events/dataset-updated/qa-dataset", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, decodeBody[eventResponse](t, body).RunIDs, 2)

	runs, err := env.runs.List(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 4)

	for _, r := range runs {
		assert.Equal(t, store.TriggerEvent, r.TriggerType)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/events/dataset-updated/unknown", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Empty(t, decodeBody[eventResponse](t, body).RunIDs)
}

func TestWebhookTrigger(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/webhooks/benchmarks/bench-1/agents/agent-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	run, err := env.runs.Get(context.Background(), decodeBody[triggerResponse](t, body).RunID)
	require.NoError(t, err)
	assert.Equal(t, store.TriggerWebhook, run.TriggerType)
	assert.Equal(t, "webhook", run.TriggeredBy)
}

func TestRateLimit_TriggerTier(t *testing.T) {
	env := newTestEnv(t, &config.ServerConfig{
		RateLimit: config.RateLimitConfig{
			Enabled: true,
			Public:  config.RateLimitTier{RequestsPerMinute: 600},
			Trigger: config.RateLimitTier{RequestsPerMinute: 1},
		},
	})

	path := "/api/v1/webhooks/benchmarks/bench-1/agents/agent-1"

	resp, _ := env.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// The public tier is separate.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{name: "remote addr", remote: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "forwarded chain", xff: "203.0.113.5, 10.0.0.1", remote: "10.0.0.1:1234", want: "203.0.113.5"},
		{name: "single forwarded", xff: "203.0.113.9", remote: "10.0.0.1:1234", want: "203.0.113.9"},
		{name: "no port", remote: "10.0.0.2", want: "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote

			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: fmt.Errorf("getting run: %w", store.ErrNotFound), want: http.StatusNotFound},
		{name: "illegal transition", err: runmanager.ErrIllegalTransition, want: http.StatusConflict},
		{name: "max retries", err: orchestrator.ErrMaxRetriesExceeded, want: http.StatusConflict},
		{name: "queue full", err: fmt.Errorf("submitting: %w", orchestrator.ErrQueueFull), want: http.StatusServiceUnavailable},
		{name: "configuration", err: orchestrator.ErrConfiguration, want: http.StatusBadRequest},
		{name: "cron", err: scheduler.ErrInvalidCron, want: http.StatusBadRequest},
		{name: "formula", err: formula.ErrSyntax, want: http.StatusBadRequest},
		{name: "other", err: io.ErrUnexpectedEOF, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
