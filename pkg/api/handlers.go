package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/mosaico-wp2/agentbench/pkg/alert"
	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/formula"
	"github.com/mosaico-wp2/agentbench/pkg/orchestrator"
	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/scheduler"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

const maxRequestBody = 1 << 20

var validate = validator.New()

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var verr validator.ValidationErrors

	switch {
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, runmanager.ErrIllegalTransition),
		errors.Is(err, orchestrator.ErrMaxRetriesExceeded):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrConfiguration),
		errors.Is(err, formula.ErrSyntax),
		errors.Is(err, formula.ErrEmpty),
		errors.Is(err, formula.ErrUnknownMetric),
		errors.Is(err, formula.ErrMetricNotAvailable),
		errors.Is(err, scheduler.ErrInvalidCron),
		errors.Is(err, scheduler.ErrInvalidTimezone),
		errors.Is(err, scheduler.ErrInvalidSchedule),
		errors.Is(err, alert.ErrInvalidAlert),
		errors.Is(err, errBadRequest),
		errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the mapped status, logging server faults.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status == http.StatusInternalServerError {
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")

		writeJSON(w, status, errorResponse{"internal error"})

		return
	}

	writeJSON(w, status, errorResponse{err.Error()})
}

// decodeJSON reads a JSON body into v and validates its struct tags.
func decodeJSON(r *http.Request, v any) error {
	return decode(r, v, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	return decode(r, v, true)
}

func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil && !(optional && errors.Is(err, io.EOF)) {
		return fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}

	if err := validate.Struct(v); err != nil {
		return err
	}

	return nil
}

var errBadRequest = errors.New("bad request")

// queryLimit parses ?limit=, falling back to def.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
	}

	return n, nil
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
