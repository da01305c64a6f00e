package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jdubz/imagineer/internal/http/handlers"
	"github.com/Jdubz/imagineer/internal/middleware"
)

// NewRouter assembles the HTTP surface.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))

	r.Get("/health", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", app.CreateJob)
		r.Get("/", app.ListJobs)
		r.Get("/{job_id}", app.GetJob)
		r.Delete("/{job_id}", app.CancelJob)
	})

	r.Route("/batch-templates/{template_id}", func(r chi.Router) {
		r.Post("/generate", app.GenerateBatch)
		r.Get("/runs/{run_id}", app.RunProgress)
	})

	r.Get("/collections/{collection_id}", app.GetCollection)

	return r
}
