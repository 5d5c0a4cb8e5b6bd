package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/user/internal/auth"
	"github.com/utafrali/storefront/services/user/internal/domain"
	"github.com/utafrali/storefront/services/user/internal/service"
)

// serviceName labels metrics and spans emitted by the router.
const serviceName = "user"

// RouterConfig carries what NewRouter needs.
type RouterConfig struct {
	Service *service.UserService
	Tokens  *auth.JWTManager
	Health  *health.Handler
	Logger  *slog.Logger
	Cookie  CookieConfig
	CORS    middleware.CORSConfig

	// AuthRateLimit throttles login, register and refresh per client IP.
	// A zero RPS disables it.
	AuthRateLimit middleware.RateLimitConfig

	// PprofCIDRs enables /debug/pprof for peers in these ranges.
	PprofCIDRs []string
}

// NewRouter creates a chi router with all user service routes registered.
// Background work started for the router stops when ctx is canceled.
func NewRouter(ctx context.Context, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	logger := cfg.Logger

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	// Token validator that bridges to our internal JWTManager.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := cfg.Tokens.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID: claims.UserID,
			Email:  claims.Email,
			Role:   claims.Role,
		}, nil
	}

	throttle := func(next http.Handler) http.Handler { return next }
	if cfg.AuthRateLimit.RPS > 0 {
		throttle = middleware.RateLimit(ctx, cfg.AuthRateLimit, logger)
	}

	authHandler := NewAuthHandler(cfg.Service, cfg.Cookie, logger)
	userHandler := NewUserHandler(cfg.Service, cfg.Cookie, logger)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)
		r.Use(middleware.RequestLogger(logger))

		r.Group(func(r chi.Router) {
			r.Use(throttle)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})

		r.Post("/logout", authHandler.Logout)
		r.Get("/verify", authHandler.Verify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))
			r.Use(middleware.RequestLogger(logger))
			r.Post("/change-password", authHandler.ChangePassword)
		})
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))
		r.Use(middleware.RequestLogger(logger))

		r.Get("/me", userHandler.GetProfile)
		r.Delete("/me", userHandler.DeleteAccount)

		r.With(middleware.RequireRole(domain.RoleAdmin, domain.RoleStaff)).
			Delete("/{id}/sessions", userHandler.RevokeSessions)
	})

	return r
}
