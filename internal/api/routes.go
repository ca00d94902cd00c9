package api

import (
	"net/http"
	"time"

	"llm-gateway/config"
	"llm-gateway/internal/apperr"
	"llm-gateway/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeoutSlack is added on top of the provider timeout so the
// provider error, not the router, answers a slow upstream.
const requestTimeoutSlack = 15 * time.Second

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, authenticator *auth.Authenticator, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.ProviderTimeout() + requestTimeoutSlack))
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(MetricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apperr.NotFound("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apperr.BadRequest("method not allowed"))
	})

	// Health checks are unauthenticated
	r.Get("/health", h.HandleHealth)
	r.Get("/health/detailed", h.HandleHealthDetailed)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	// Data plane
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(authenticator, h.writeError))

		r.Post("/audio/transcribe", h.HandleTranscribe)
		r.Post("/chat/completions", h.HandleChatCompletions)
	})

	return r
}

// CORSMiddleware returns CORS middleware with the specified allowed origins
func CORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
