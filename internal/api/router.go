package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/postgen/postgen/internal/api/handlers"
	"github.com/postgen/postgen/internal/api/middleware"
	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/ratelimit"
)

// NewRouter creates the HTTP router with all API routes. A nil limiter
// disables rate limiting.
func NewRouter(cfg *config.Config, h *handlers.Handlers, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.ProviderKey)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	limited := middleware.RateLimit(limiter)

	// Generation
	r.With(limited).Post("/generate", h.Generate)

	r.Route("/api", func(r chi.Router) {
		r.With(limited).Post("/generate-posts", h.Generate)
		r.With(limited).Post("/validate-key", h.ValidateKey)
		r.Get("/usage", h.Usage)
	})

	return r
}
