package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "gateway/docs"
	"gateway/internal/http/handlers"
	"gateway/internal/infra"
	"gateway/internal/middleware"
)

// Options tunes the middleware stack.
type Options struct {
	CORSAllowedOrigins []string
	RateLimitPerMin    int
	// TrustProxyHeaders lets X-Forwarded-For / X-Real-IP replace the peer
	// address. Enable only behind a reverse proxy that overwrites them.
	TrustProxyHeaders bool
	Logger            *infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)

		r.Route("/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMin)).Post("/", app.SubmitJob)
			r.Get("/", app.ListJobs)
			r.Get("/stats", app.JobStats)
			r.Get("/{id}", app.GetJob)
			r.Delete("/{id}", app.CancelJob)
			r.Get("/{id}/events", app.JobEvents)
			r.Get("/{id}/outputs.zip", app.JobOutputsZip)
		})
		r.Get("/events", app.AllEvents)
		r.Get("/outputs/*", app.GetOutput)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", app.ListWorkflows)
			r.Post("/", app.SaveWorkflow)
			r.Get("/{name}", app.GetWorkflow)
			r.Delete("/{name}", app.DeleteWorkflow)
		})
		r.Get("/backends/comfyui/status", app.BackendStatus)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
