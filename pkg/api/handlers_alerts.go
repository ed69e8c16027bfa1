package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mosaico-wp2/agentbench/pkg/alert"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

type alertRequest struct {
	Name            string                      `json:"name"`
	Description     string                      `json:"description,omitempty"`
	BenchmarkID     string                      `json:"benchmark_id"`
	AgentID         string                      `json:"agent_id,omitempty"`
	KPIName         string                      `json:"kpi_name"`
	Condition       store.AlertCondition        `json:"condition"`
	Threshold       *float64                    `json:"threshold"`
	Severity        store.Severity              `json:"severity"`
	Channels        []store.NotificationChannel `json:"channels"`
	Recipients      []string                    `json:"recipients,omitempty"`
	WebhookURL      string                      `json:"webhook_url,omitempty"`
	Enabled         *bool                       `json:"enabled,omitempty"`
	CooldownMinutes *int                        `json:"cooldown_minutes,omitempty"`
}

func (req *alertRequest) toAlert(id string) *store.AlertConfig {
	cooldown := alert.DefaultCooldownMinutes
	if req.CooldownMinutes != nil {
		cooldown = *req.CooldownMinutes
	}

	return &store.AlertConfig{
		ID:              id,
		Name:            req.Name,
		Description:     req.Description,
		BenchmarkID:     req.BenchmarkID,
		AgentID:         req.AgentID,
		KPIName:         req.KPIName,
		Condition:       req.Condition,
		Threshold:       req.Threshold,
		Severity:        req.Severity,
		Channels:        req.Channels,
		Recipients:      req.Recipients,
		WebhookURL:      req.WebhookURL,
		Enabled:         boolOr(req.Enabled, true),
		CooldownMinutes: cooldown,
	}
}

type evaluateRequest struct {
	BenchmarkID string   `json:"benchmark_id" validate:"required"`
	KPIName     string   `json:"kpi_name" validate:"required"`
	Value       *float64 `json:"value" validate:"required"`
}

type evaluateResponse struct {
	Triggered []store.AlertConfig `json:"triggered"`
}

func (s *server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	a := req.toAlert("")
	if err := s.deps.Alerts.Create(r.Context(), a); err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, a)
}

func (s *server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	alerts, err := s.deps.Alerts.List(r.Context(), store.AlertFilter{
		BenchmarkID: q.Get("benchmark_id"),
		KPIName:     q.Get("kpi_name"),
		EnabledOnly: q.Get("enabled") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, alerts)
}

func (s *server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	a := req.toAlert(chi.URLParam(r, "id"))
	if err := s.deps.Alerts.Update(r.Context(), a); err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Alerts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleEnableAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Alerts.Enable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleDisableAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Alerts.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, a)
}

// handleEvaluateAlerts checks an ad-hoc KPI value against the benchmark's
// alerts. Cooldowns are not applied.
func (s *server) handleEvaluateAlerts(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	triggered, err := s.deps.Evaluator.EvaluateKPIValue(r.Context(), req.BenchmarkID, req.KPIName, *req.Value)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if triggered == nil {
		triggered = []store.AlertConfig{}
	}

	writeJSON(w, http.StatusOK, evaluateResponse{Triggered: triggered})
}
