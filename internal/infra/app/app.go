package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/infra/config"
	"github.com/arklim/department-iam/internal/infra/database"
	kafkainfra "github.com/arklim/department-iam/internal/infra/kafka"
	"github.com/arklim/department-iam/internal/infra/logger"
	redisinfra "github.com/arklim/department-iam/internal/infra/redis"
	"github.com/arklim/department-iam/internal/infra/security"
	"github.com/arklim/department-iam/internal/infra/telemetry"
	"github.com/arklim/department-iam/internal/repository/memory"
	postgresrepo "github.com/arklim/department-iam/internal/repository/postgres"
	redisrepo "github.com/arklim/department-iam/internal/repository/redis"
	"github.com/arklim/department-iam/internal/transport/http/middleware"
	"github.com/arklim/department-iam/internal/transport/http/routes"
	"github.com/arklim/department-iam/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

// guardStores are the ephemeral stores behind step-up challenges, codes and the resend guards.
type guardStores struct {
	freshness port.FreshnessStore
	attempts  port.RateLimitStore
	stepUps   port.StepUpStore
	codes     port.CodeStore
}

// New builds every dependency from cfg. Resources opened before a failure are released.
func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			app.close(context.Background())
		}
	}()

	if cfg.Telemetry.TracingEnabled {
		app.tracer, err = telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
			TelemetrySettings: cfg.Telemetry,
			Environment:       cfg.App.Env,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	app.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	repos := postgresrepo.NewRepositories(app.pool)

	app.redis, err = redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	stores := app.guardStores()
	mailer, events := app.messaging()

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	issuer, err := security.NewAccessTokenIssuer(security.JWTConfig{
		SigningKey: cfg.JWT.SigningKey,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("init access token issuer: %w", err)
	}
	totp := security.NewTOTPManager(cfg.TOTP.Issuer)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	freshness := usecase.NewFreshnessGuard(stores.freshness, metrics, log)
	throttle := usecase.NewThrottleGuard(stores.attempts, usecase.ThrottleConfig{
		Cooldown: cfg.Throttle.Cooldown,
		DailyCap: cfg.Throttle.DailyCap,
		Window:   cfg.Throttle.Window,
	}, metrics, log)
	notifier := usecase.NewNotifier(mailer, log)

	accessService := usecase.NewAccessService(repos.Access, usecase.AccessConfig{
		SuperAdminRole:   cfg.RBAC.SuperAdminRole,
		UnionDepartments: cfg.RBAC.UnionDepartments,
	}, log)

	authService, err := usecase.NewAuthService(usecase.AuthDeps{
		Users:         repos.Users,
		RefreshTokens: repos.RefreshTokens,
		Roles:         accessService,
		Hasher:        hasher,
		TOTP:          totp,
		Issuer:        issuer,
		StepUps:       stores.stepUps,
		Codes:         stores.codes,
		Freshness:     freshness,
		Throttle:      throttle,
		Notifier:      notifier,
		Events:        events,
		Metrics:       metrics,
		Logger:        log,
	}, usecase.AuthConfig{
		StepUpTTL:       cfg.StepUp.SessionTTL,
		CodeTTL:         cfg.StepUp.CodeTTL,
		MaxFailures:     cfg.Lockout.MaxFailures,
		LockoutDuration: cfg.Lockout.Duration,
		MaxCodeAttempts: cfg.StepUp.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	registrationService := usecase.NewRegistrationService(
		repos.Users, hasher, security.NewPasswordPolicy(), stores.codes,
		freshness, throttle, notifier, events, cfg.StepUp.ConfirmationTTL, log,
	)
	authenticatorService := usecase.NewAuthenticatorService(repos.Users, totp, notifier, events, log)

	loginAttempts := redisrepo.NewRateLimitRepository(app.redis.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: app.redis.Key("rate-limit"),
		TTL:       2 * maxDuration(cfg.RateLimit.WindowDuration, time.Minute),
	})

	app.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(loginAttempts, log),
		HTTPMetrics: httpMetrics,
		Database:    app.pool,
		Cache:       app.redis,
		Services: routes.ServiceSet{
			Sessions:       authService,
			Tokens:         authService,
			Registration:   registrationService,
			Authenticators: authenticatorService,
			Access:         accessService,
		},
	})

	return app, nil
}

func (a *Application) guardStores() guardStores {
	if strings.EqualFold(a.cfg.Guards.Backend, "memory") {
		a.logger.Warn("using in-process guard stores; state is lost on restart and not shared between replicas")
		return guardStores{
			freshness: memory.NewFreshnessStore(a.cfg.Guards.FreshnessTTL),
			attempts:  memory.NewRateLimitStore(),
			stepUps:   memory.NewStepUpStore(),
			codes:     memory.NewCodeStore(),
		}
	}

	client := a.redis.Client()
	return guardStores{
		freshness: redisrepo.NewFreshnessRepository(client, a.redis.Key("freshness"), a.cfg.Guards.FreshnessTTL),
		attempts: redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{
			KeyPrefix: a.redis.Key("throttle"),
			TTL:       a.cfg.Throttle.Window + time.Hour,
		}),
		stepUps: redisrepo.NewStepUpRepository(client, a.redis.Key("step-up")),
		codes:   redisrepo.NewCodeRepository(client, a.redis.Key("code")),
	}
}

// messaging picks Kafka publishers when brokers are configured and log-only fallbacks otherwise.
func (a *Application) messaging() (port.Mailer, port.EventPublisher) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, mail and security events are logged only")
		return kafkainfra.NewLoggingMailer(a.logger), kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, falling back to logging publishers", zap.Error(err))
		return kafkainfra.NewLoggingMailer(a.logger), kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka producer initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))

	return kafkainfra.NewMailPublisher(producer, a.cfg.Kafka, a.cfg.App, a.logger),
		kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting department IAM API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("guards_backend", a.cfg.Guards.Backend),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := a.cfg.App.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a.logger.Info("shutting down http server", zap.Duration("timeout", timeout))
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// close releases every resource that was opened, in reverse order of construction.
func (a *Application) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("shutdown tracer provider", zap.Error(err))
	}
}

func maxDuration(values ...time.Duration) time.Duration {
	var max time.Duration
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}
