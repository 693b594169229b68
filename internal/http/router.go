package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/application"
)

type RouterConfig struct {
	Auth   *AuthHandler
	Users  *UserHandler
	Slots  *SlotHandler
	Health *HealthHandler

	Access AccessValidator
	Logger zerolog.Logger

	// Metrics, when set, observes request latency. MetricsHandler is mounted
	// on /metrics.
	Metrics        RequestObserver
	MetricsHandler http.Handler

	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(Recoverer(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(RequestMetrics(cfg.Metrics))
	}
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Content-Length", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	requireAccess := RequireAccess(cfg.Access, cfg.Logger)
	role := func(roles ...application.Role) func(http.Handler) http.Handler {
		return RequireRole(cfg.Logger, roles...)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if cfg.Auth != nil {
				r.Post("/login", cfg.Auth.Login)
				r.Post("/refresh", cfg.Auth.Refresh)
				r.Group(func(r chi.Router) {
					r.Use(requireAccess)
					r.Post("/logout", cfg.Auth.Logout)
					r.Get("/sessions", cfg.Auth.ListSessions)
					r.Delete("/sessions/{sessionId}", cfg.Auth.RevokeSession)
				})
			}
			if cfg.Users != nil {
				r.Post("/register", cfg.Users.Register)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAccess)

			if cfg.Users != nil {
				r.Get("/users/me", cfg.Users.Me)
				r.Get("/doctors", cfg.Users.ListDoctors)
				r.With(role(application.RoleAdmin)).Get("/admin/doctors/pending", cfg.Users.ListPendingDoctors)
				r.With(role(application.RoleAdmin)).Post("/admin/doctors/approve", cfg.Users.ApproveDoctor)
			}

			if cfg.Slots != nil {
				r.Get("/doctors/{doctorId}/slots", cfg.Slots.List)
				r.With(role(application.RoleDoctor)).Post("/doctor/availability/generate", cfg.Slots.Generate)
				r.With(role(application.RolePatient)).Post("/slots/{slotId}/reserve", cfg.Slots.Reserve)
				r.With(role(application.RolePatient)).Post("/slots/{slotId}/release", cfg.Slots.Release)
			}
		})
	})

	return r
}
