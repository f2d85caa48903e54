package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/dialq/internal/api/middleware"
	"github.com/kiranshivaraju/dialq/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth           *mw.Auth
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler    http.HandlerFunc
	WebhookHandler   http.HandlerFunc
	EnqueueHandler   http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	CancelJobHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Public routes. The webhook authenticates by signature, not session.
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Post("/queue/webhook", orNotImplemented(deps.WebhookHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/queue", orNotImplemented(deps.EnqueueHandler))
		r.Get("/queue", orNotImplemented(deps.ListJobsHandler))
		r.Get("/queue/{job_id}", orNotImplemented(deps.GetJobHandler))
		r.Post("/queue/{job_id}/cancel", orNotImplemented(deps.CancelJobHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
