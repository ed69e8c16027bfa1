package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mosaico-wp2/agentbench/pkg/metric"
	"github.com/mosaico-wp2/agentbench/pkg/report"
	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

const defaultHistoryLimit = 10

type triggerRequest struct {
	BenchmarkID    string `json:"benchmark_id" validate:"required"`
	AgentID        string `json:"agent_id" validate:"required"`
	TraceBatchName string `json:"trace_batch_name,omitempty"`
	TriggeredBy    string `json:"triggered_by,omitempty"`
}

type triggerResponse struct {
	RunID  string          `json:"run_id"`
	Status store.RunStatus `json:"status"`
}

// handleTriggerRun creates a manual run and queues it.
func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}

	s.trigger(w, r, runmanager.CreateRequest{
		BenchmarkID:    req.BenchmarkID,
		AgentID:        req.AgentID,
		TriggerType:    store.TriggerManual,
		TriggeredBy:    req.TriggeredBy,
		TraceBatchName: req.TraceBatchName,
	})
}

// trigger checks the catalog, then creates and queues a run.
func (s *server) trigger(w http.ResponseWriter, r *http.Request, req runmanager.CreateRequest) {
	if err := s.checkDefinitions(r, req.BenchmarkID, req.AgentID); err != nil {
		s.writeError(w, r, err)

		return
	}

	run, err := s.deps.Orchestrator.Trigger(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{RunID: run.ID, Status: run.Status})
}

func (s *server) checkDefinitions(r *http.Request, benchmarkID, agentID string) error {
	if _, err := s.deps.Catalog.FindBenchmark(r.Context(), benchmarkID); err != nil {
		return fmt.Errorf("benchmark %s: %w", benchmarkID, err)
	}

	if _, err := s.deps.Catalog.FindAgent(r.Context(), agentID); err != nil {
		return fmt.Errorf("agent %s: %w", agentID, err)
	}

	return nil
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryLimit(r, 0)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	filter := store.RunFilter{
		BenchmarkID: q.Get("benchmark_id"),
		AgentID:     q.Get("agent_id"),
		Status:      store.RunStatus(q.Get("status")),
		Limit:       limit,
	}

	runs, err := s.deps.Runs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Orchestrator.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleRetryRun creates a retry run and queues it.
func (s *server) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	retry, err := s.deps.Orchestrator.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.deps.Orchestrator.ExecuteAsync(r.Context(), retry.ID); err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{RunID: retry.ID, Status: retry.Status})
}

func (s *server) handleRunKPIs(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	kpis, err := s.deps.Store.ListKPIHistory(r.Context(), store.KPIHistoryFilter{RunID: run.ID})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, kpis)
}

func (s *server) handleRunSnapshots(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	snapshots, err := s.deps.Store.ListSnapshots(r.Context(), run.ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, snapshots)
}

func (s *server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	runs, err := s.deps.Runs.History(r.Context(),
		chi.URLParam(r, "benchmarkID"), chi.URLParam(r, "agentID"), limit)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleLatestSummary returns the newest run for a benchmark and agent
// together with its KPI rows and aggregated metrics.
func (s *server) handleLatestSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runs, err := s.deps.Runs.History(ctx,
		chi.URLParam(r, "benchmarkID"), chi.URLParam(r, "agentID"), 1)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if len(runs) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{"no runs recorded"})

		return
	}

	run := &runs[0]

	kpis, err := s.deps.Store.ListKPIHistory(ctx, store.KPIHistoryFilter{RunID: run.ID})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	snapshots, err := s.deps.Store.ListSnapshots(ctx, run.ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	acc := metric.NewAccumulator()
	for _, snap := range snapshots {
		acc.Add(snap.MetricName, snap.Value)
	}

	writeJSON(w, http.StatusOK, report.NewSummary(run, kpis, acc.Means(), time.Now()))
}

// handleLiveMetrics aggregates the current traces without persisting.
func (s *server) handleLiveMetrics(w http.ResponseWriter, r *http.Request) {
	benchmarkID := r.URL.Query().Get("benchmark_id")
	if benchmarkID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"benchmark_id is required"})

		return
	}

	metrics, err := s.deps.Orchestrator.LiveMetrics(r.Context(), benchmarkID, chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (s *server) handleKPIHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryLimit(r, 0)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	entries, err := s.deps.Store.ListKPIHistory(r.Context(), store.KPIHistoryFilter{
		BenchmarkID: q.Get("benchmark_id"),
		AgentID:     q.Get("agent_id"),
		KPIName:     q.Get("kpi_name"),
		Limit:       limit,
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, entries)
}
