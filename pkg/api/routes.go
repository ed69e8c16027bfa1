package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Endpoints that create runs share the stricter tier.
		r.Group(func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(s.cfg.RateLimit.Trigger))
			}

			r.Post("/runs", s.handleTriggerRun)
			r.Post("/runs/{id}/retry", s.handleRetryRun)
			r.Post("/webhooks/benchmarks/{benchmarkID}/agents/{agentID}", s.handleWebhookTrigger)
			r.Post("/events/agent-updated/{agentID}", s.handleAgentUpdated)
			r.Post("/events/dataset-updated/{datasetRef}", s.handleDatasetUpdated)
		})

		r.Group(func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(s.cfg.RateLimit.Public))
			}

			// Runs.
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Post("/runs/{id}/cancel", s.handleCancelRun)
			r.Get("/runs/{id}/kpis", s.handleRunKPIs)
			r.Get("/runs/{id}/snapshots", s.handleRunSnapshots)

			r.Get("/benchmarks/{benchmarkID}/agents/{agentID}/history", s.handleRunHistory)
			r.Get("/benchmarks/{benchmarkID}/agents/{agentID}/summary", s.handleLatestSummary)
			r.Get("/agents/{agentID}/metrics", s.handleLiveMetrics)

			// Schedules.
			r.Route("/schedules", func(r chi.Router) {
				r.Post("/", s.handleCreateSchedule)
				r.Get("/", s.handleListSchedules)
				r.Get("/due", s.handleDueSchedules)
				r.Get("/{id}", s.handleGetSchedule)
				r.Put("/{id}", s.handleUpdateSchedule)
				r.Delete("/{id}", s.handleDeleteSchedule)
				r.Post("/{id}/enable", s.handleEnableSchedule)
				r.Post("/{id}/disable", s.handleDisableSchedule)
			})

			// Alerts.
			r.Route("/alerts", func(r chi.Router) {
				r.Post("/", s.handleCreateAlert)
				r.Get("/", s.handleListAlerts)
				r.Post("/evaluate", s.handleEvaluateAlerts)
				r.Get("/{id}", s.handleGetAlert)
				r.Put("/{id}", s.handleUpdateAlert)
				r.Delete("/{id}", s.handleDeleteAlert)
				r.Post("/{id}/enable", s.handleEnableAlert)
				r.Post("/{id}/disable", s.handleDisableAlert)
			})

			// Formulas.
			r.Route("/formulas", func(r chi.Router) {
				r.Post("/validate", s.handleValidateFormula)
				r.Get("/metrics", s.handleKnownMetrics)
				r.Post("/metrics", s.handleRegisterMetrics)
				r.Get("/syntax", s.handleFormulaSyntax)
			})

			r.Get("/kpis/history", s.handleKPIHistory)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
