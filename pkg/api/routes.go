package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	// Forward-auth endpoints called by Traefik.
	r.Get("/verify", s.handleVerify)
	r.Get("/placeholder", s.handlePlaceholder)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.corsMiddleware())

		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireConfigToken)
			r.Get("/traefik/config", s.handleTraefikConfig)
		})

		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/shared-link", s.handleConsumeSharedLink)
			r.Post("/logout", s.handleLogout)

			if s.cfg.SSO.Enabled {
				r.Get("/sso/login", s.handleSSOLogin)
				r.Get("/sso/callback", s.handleSSOCallback)
			}
		})

		// Without a token there is no way to authenticate, so the admin
		// API stays unmounted.
		if s.cfg.Auth.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Get("/sessions", s.handleListSessions)
				r.Delete("/sessions/{token}", s.handleDeleteSession)

				r.Delete("/services/{id}/sessions", s.handleDeleteServiceSessions)
				r.Get("/services/{id}/shared-links", s.handleListSharedLinks)
				r.Post("/services/{id}/shared-links", s.handleCreateSharedLink)
			})
		}
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
