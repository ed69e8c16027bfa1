package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

type scheduleRequest struct {
	Name                   string `json:"name" validate:"required,max=255"`
	Description            string `json:"description,omitempty"`
	BenchmarkID            string `json:"benchmark_id" validate:"required"`
	AgentID                string `json:"agent_id" validate:"required"`
	CronExpression         string `json:"cron_expression" validate:"required"`
	Timezone               string `json:"timezone,omitempty"`
	TraceBatchName         string `json:"trace_batch_name,omitempty"`
	Enabled                *bool  `json:"enabled,omitempty"`
	MaxConsecutiveFailures int    `json:"max_consecutive_failures,omitempty" validate:"gte=0"`
	AutoDisableOnFailure   *bool  `json:"auto_disable_on_failure,omitempty"`
	CreatedBy              string `json:"created_by,omitempty"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}

	return *b
}

func (req *scheduleRequest) toSchedule(id string) *store.ScheduleConfig {
	return &store.ScheduleConfig{
		ID:                     id,
		Name:                   req.Name,
		Description:            req.Description,
		BenchmarkID:            req.BenchmarkID,
		AgentID:                req.AgentID,
		CronExpression:         req.CronExpression,
		Timezone:               req.Timezone,
		TraceBatchName:         req.TraceBatchName,
		Enabled:                boolOr(req.Enabled, true),
		MaxConsecutiveFailures: req.MaxConsecutiveFailures,
		AutoDisableOnFailure:   boolOr(req.AutoDisableOnFailure, true),
		CreatedBy:              req.CreatedBy,
	}
}

func (s *server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.checkDefinitions(r, req.BenchmarkID, req.AgentID); err != nil {
		s.writeError(w, r, err)

		return
	}

	sched := req.toSchedule("")
	if err := s.deps.Schedules.Create(r.Context(), sched); err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

func (s *server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	schedules, err := s.deps.Schedules.List(r.Context(), store.ScheduleFilter{
		BenchmarkID: q.Get("benchmark_id"),
		AgentID:     q.Get("agent_id"),
		EnabledOnly: q.Get("enabled") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, schedules)
}

func (s *server) handleDueSchedules(w http.ResponseWriter, r *http.Request) {
	due, err := s.deps.Schedules.FindDue(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, due)
}

func (s *server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (s *server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.checkDefinitions(r, req.BenchmarkID, req.AgentID); err != nil {
		s.writeError(w, r, err)

		return
	}

	sched, err := s.deps.Schedules.Update(r.Context(), req.toSchedule(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (s *server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Schedules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Enable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (s *server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, sched)
}
