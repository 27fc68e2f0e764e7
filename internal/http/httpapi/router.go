package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dropgen/internal/http/handlers"
)

// NewRouter builds the API route table.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/videos", func(r chi.Router) {
		r.Post("/", app.VideosGenerate)
		r.Get("/", app.VideosList)
		r.Get("/{job_id}", app.VideoStatus)
	})

	r.Get("/v1/quota", app.QuotaStatus)

	return r
}
