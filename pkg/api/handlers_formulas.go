package api

import (
	"errors"
	"net/http"

	"github.com/mosaico-wp2/agentbench/pkg/formula"
)

type validateFormulaRequest struct {
	Formula          string   `json:"formula"`
	AvailableMetrics []string `json:"available_metrics,omitempty"`
}

type validateFormulaResponse struct {
	Valid             bool     `json:"valid"`
	Type              string   `json:"type,omitempty"`
	ReferencedMetrics []string `json:"referenced_metrics"`
	Errors            []string `json:"errors"`
}

type registerMetricsRequest struct {
	Metrics []string `json:"metrics" validate:"required,min=1,dive,required"`
}

// handleValidateFormula reports whether a formula compiles. An invalid
// formula is a successful response with valid=false.
func (s *server) handleValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req validateFormulaRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	var (
		f   formula.Formula
		err error
	)

	if req.AvailableMetrics != nil {
		f, err = s.deps.Engine.ValidateAgainst(req.Formula, req.AvailableMetrics)
	} else {
		f, err = s.deps.Engine.Compile(req.Formula)
	}

	resp := validateFormulaResponse{
		ReferencedMetrics: []string{},
		Errors:            []string{},
	}

	if err != nil {
		var merr *formula.MetricError
		if errors.As(err, &merr) {
			resp.ReferencedMetrics = merr.Metrics
		}

		resp.Errors = append(resp.Errors, err.Error())
		writeJSON(w, http.StatusOK, resp)

		return
	}

	resp.Valid = true
	resp.Type = string(f.Type())
	resp.ReferencedMetrics = f.Metrics()

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleKnownMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"metrics": s.deps.Engine.KnownMetrics(),
	})
}

func (s *server) handleRegisterMetrics(w http.ResponseWriter, r *http.Request) {
	var req registerMetricsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.deps.Engine.RegisterMetrics(req.Metrics...)

	s.log.WithField("metrics", req.Metrics).Info("Registered formula metrics")

	writeJSON(w, http.StatusOK, map[string][]string{
		"metrics": s.deps.Engine.KnownMetrics(),
	})
}

func (s *server) handleFormulaSyntax(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"syntax": formula.SyntaxHelp(),
	})
}
