package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

type webhookRequest struct {
	TraceBatchName string `json:"trace_batch_name,omitempty"`
}

type eventResponse struct {
	RunIDs []string `json:"run_ids"`
	Failed int      `json:"failed"`
}

// handleWebhookTrigger lets external systems start a run.
func (s *server) handleWebhookTrigger(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.trigger(w, r, runmanager.CreateRequest{
		BenchmarkID:    chi.URLParam(r, "benchmarkID"),
		AgentID:        chi.URLParam(r, "agentID"),
		TriggerType:    store.TriggerWebhook,
		TriggeredBy:    "webhook",
		TraceBatchName: req.TraceBatchName,
	})
}

type pair struct {
	benchmarkID string
	agentID     string
}

// handleAgentUpdated starts one run per benchmark scheduled against the
// agent.
func (s *server) handleAgentUpdated(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	schedules, err := s.deps.Schedules.List(r.Context(), store.ScheduleFilter{AgentID: agentID})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	pairs := make([]pair, 0, len(schedules))
	for _, sc := range schedules {
		pairs = append(pairs, pair{benchmarkID: sc.BenchmarkID, agentID: sc.AgentID})
	}

	s.triggerEvent(w, r, "agent-updated", pairs)
}

// handleDatasetUpdated starts runs for every benchmark over the dataset,
// against each agent scheduled for that benchmark.
func (s *server) handleDatasetUpdated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	datasetRef := chi.URLParam(r, "datasetRef")

	benchmarks, err := s.deps.Catalog.ListBenchmarks(ctx)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var pairs []pair

	for _, b := range benchmarks {
		if b.DatasetRef != datasetRef {
			continue
		}

		schedules, err := s.deps.Schedules.List(ctx, store.ScheduleFilter{BenchmarkID: b.ID})
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		for _, sc := range schedules {
			pairs = append(pairs, pair{benchmarkID: b.ID, agentID: sc.AgentID})
		}
	}

	s.triggerEvent(w, r, "dataset-updated", pairs)
}

func (s *server) triggerEvent(w http.ResponseWriter, r *http.Request, event string, pairs []pair) {
	resp := eventResponse{RunIDs: []string{}}
	seen := make(map[pair]struct{}, len(pairs))

	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}

		seen[p] = struct{}{}

		runID, err := s.triggerOne(r.Context(), event, p)
		if err != nil {
			resp.Failed++

			s.log.WithError(err).WithFields(logrus.Fields{
				"event":        event,
				"benchmark_id": p.benchmarkID,
				"agent_id":     p.agentID,
			}).Warn("Failed to trigger event run")

			continue
		}

		resp.RunIDs = append(resp.RunIDs, runID)
	}

	s.log.WithFields(logrus.Fields{
		"event":  event,
		"runs":   len(resp.RunIDs),
		"failed": resp.Failed,
	}).Info("Handled trigger event")

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) triggerOne(ctx context.Context, event string, p pair) (string, error) {
	run, err := s.deps.Orchestrator.Trigger(ctx, runmanager.CreateRequest{
		BenchmarkID: p.benchmarkID,
		AgentID:     p.agentID,
		TriggerType: store.TriggerEvent,
		TriggeredBy: "event:" + event,
	})
	if err != nil {
		return "", err
	}

	return run.ID, nil
}
