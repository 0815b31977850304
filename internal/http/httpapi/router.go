package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/omnishot/batchd/internal/http/handlers"
	"github.com/omnishot/batchd/internal/infra"
	"github.com/omnishot/batchd/internal/middleware"
)

// NewRouter wires the job scheduler API.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/metrics", app.Metrics)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin)).Post("/", app.SubmitJob)
		r.Get("/", app.ListJobs)
		r.Get("/{job_id}", app.JobStatus)
		r.Post("/{job_id}/cancel", app.CancelJob)
		r.Get("/{job_id}/download", app.DownloadJob)
	})

	return r
}
