package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aregchatalyan/motor/internal/ratelimit"
	"github.com/aregchatalyan/motor/internal/service"
	"github.com/aregchatalyan/motor/pkg/health"
	"github.com/aregchatalyan/motor/pkg/middleware"
)

// RouterConfig bundles the collaborators the router needs.
type RouterConfig struct {
	AuthService   *service.AuthService
	HealthHandler *health.Handler
	SigninLimiter *ratelimit.Limiter
	Environment   string
	CORS          CORSConfig
	Logger        *slog.Logger
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("auth"))

	// Health check endpoints
	r.Get("/health/live", cfg.HealthHandler.LivenessHandler())
	r.Get("/health/ready", cfg.HealthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(cfg.AuthService, cfg.Environment, cfg.Logger)
	userHandler := NewUserHandler(cfg.AuthService, cfg.Logger)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Public endpoints
		r.Post("/signup", authHandler.SignUp)
		r.Get("/verify/{secret}", authHandler.Verify)
		r.With(RateLimitByIP(cfg.SigninLimiter)).Post("/signin", authHandler.SignIn)

		// Session-guarded endpoints
		r.Group(func(r chi.Router) {
			r.Use(SessionGuard(cfg.AuthService))

			r.Post("/refresh", authHandler.Refresh)
			r.Post("/signout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
			r.Delete("/remove", authHandler.Remove)
		})
	})

	// User profile endpoints (session required)
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(SessionGuard(cfg.AuthService))

		r.Get("/me", userHandler.GetProfile)
		r.Put("/me", userHandler.UpdateProfile)
	})

	return r
}
