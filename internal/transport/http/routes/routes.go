package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/infra/config"
	"github.com/arklim/department-iam/internal/transport/http/handlers"
	"github.com/arklim/department-iam/internal/transport/http/middleware"
)

// ServiceSet groups the usecases the HTTP layer depends on.
type ServiceSet struct {
	Sessions       handlers.SessionService
	Tokens         middleware.TokenParser
	Registration   handlers.RegistrationService
	Authenticators handlers.AuthenticatorService
	Access         handlers.AccessResolver
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))

	var healthOptions []handlers.HealthOption
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")

	if deps.Services.Sessions != nil {
		handlers.NewAuthHandler(deps.Services.Sessions).
			RegisterRoutes(api.Group("/auth"), handlers.AuthRouteGuards{
				Login:     credentialLimit(deps, "auth_login_ip"),
				TwoFactor: credentialLimit(deps, "auth_two_factor_ip"),
			})
	}

	if deps.Services.Tokens == nil {
		return r
	}
	requireAuth := middleware.RequireAuth(deps.Services.Tokens)

	if deps.Services.Registration != nil && deps.Services.Authenticators != nil {
		handlers.NewAccountHandler(deps.Services.Registration, deps.Services.Authenticators).
			RegisterRoutes(api.Group("/account"), requireAuth)
	}

	if deps.Services.Access != nil {
		handlers.NewAccessHandler(deps.Services.Access).
			RegisterRoutes(api.Group("/access", requireAuth))
	}

	return r
}

// credentialLimit builds a per-client limiter for an endpoint that checks secrets.
// Each name keeps its own window.
func credentialLimit(deps Dependencies, name string) []gin.HandlerFunc {
	if deps.RateLimiter == nil {
		return nil
	}

	limit := deps.Config.RateLimit.LoginMaxAttempts
	if limit <= 0 {
		return nil
	}
	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	})}
}
