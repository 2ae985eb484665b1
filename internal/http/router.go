package http

import (
	"database/sql"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskmanager/auth-service/internal/auth"
	"github.com/taskmanager/auth-service/internal/http/handlers"
	"github.com/taskmanager/auth-service/internal/limiter"
	"github.com/taskmanager/auth-service/internal/metrics"
	"github.com/taskmanager/auth-service/internal/middleware"
	"github.com/taskmanager/auth-service/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	authHandler *handlers.AuthHandler,
	jwtService *auth.JWTService,
	userRepo repo.UserRepo,
	ipLimiter *limiter.Limiter,
	database *sql.DB,
	m *metrics.Metrics,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	// Request-scoped deadline so DB and counter-store calls cannot outlive
	// the request.
	r.Use(chimw.Timeout(10 * time.Second))
	r.Use(middleware.RequestLogger(logger, m))

	healthHandler := handlers.NewHealthHandler(database)
	r.Get("/health", healthHandler.ServeHTTP)
	r.Method("GET", "/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	r.Route("/auth", func(r chi.Router) {
		// Per-IP gate in front of everything that consumes credentials.
		r.Use(middleware.RateLimitMiddleware(ipLimiter, logger))

		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/verify-mfa", authHandler.HandleVerifyMFA)
		r.Post("/refresh", authHandler.HandleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService, userRepo))
			r.Post("/logout", authHandler.HandleLogout)
			r.Post("/mfa/setup", authHandler.HandleSetupMFA)
			r.Post("/mfa/confirm", authHandler.HandleConfirmMFA)
			r.Post("/mfa/disable", authHandler.HandleDisableMFA)
		})
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))
		r.Get("/me", authHandler.HandleMe)
	})

	return r
}
