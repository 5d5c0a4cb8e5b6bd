package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
	"github.com/utafrali/storefront/services/user/internal/auth"
	"github.com/utafrali/storefront/services/user/internal/config"
	"github.com/utafrali/storefront/services/user/internal/event"
	handler "github.com/utafrali/storefront/services/user/internal/handler/http"
	"github.com/utafrali/storefront/services/user/internal/repository"
	"github.com/utafrali/storefront/services/user/internal/repository/memory"
	"github.com/utafrali/storefront/services/user/internal/repository/postgres"
	"github.com/utafrali/storefront/services/user/internal/repository/redis"
	"github.com/utafrali/storefront/services/user/internal/service"
	"github.com/utafrali/storefront/services/user/migrations"
)

// App wires together all dependencies and runs the user service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// stopBackground ends router goroutines such as the rate limiter sweep.
	stopBackground context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.release()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	healthHandler := health.NewHandler()

	users, credentials, err := a.openStorage(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{}
	if cfg.ProfileCacheEnabled {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("profile cache enabled",
			slog.String("addr", cfg.Redis.Addr()),
			slog.Duration("ttl", cfg.ProfileCacheTTL),
		)
		client := a.redis
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		opts = append(opts, service.WithProfileCache(redis.NewProfileCache(client, cfg.ProfileCacheTTL)))
	}

	var publisher event.Publisher = event.LogPublisher{Logger: logger}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(cfg.Kafka, logger)
		producer := a.producer
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
		publisher = producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.Kafka.Brokers))
	}

	sameSite, err := cfg.SameSite()
	if err != nil {
		return nil, err
	}

	// Build the dependency graph.
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	refreshStore := auth.NewRefreshStore(credentials, auth.WithHashCost(cfg.RefreshHashCost))
	eventProducer := event.NewProducer(publisher, logger)
	userService := service.NewUserService(users, refreshStore, jwtManager, eventProducer, logger, opts...)

	routerCtx, stop := context.WithCancel(context.Background())
	a.stopBackground = stop

	router := handler.NewRouter(routerCtx, handler.RouterConfig{
		Service: userService,
		Tokens:  jwtManager,
		Health:  healthHandler,
		Logger:  logger,
		Cookie: handler.CookieConfig{
			SameSite: sameSite,
			Secure:   cfg.SecureCookies(),
			MaxAge:   cfg.JWTRefreshExpiry,
		},
		CORS: middleware.StorefrontCORSConfig(cfg.CORSAllowedOrigins, cfg.Environment),
		AuthRateLimit: middleware.RateLimitConfig{
			RPS:   cfg.AuthRateLimitRPS,
			Burst: cfg.AuthRateLimitBurst,
		},
		PprofCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// openStorage returns the user and refresh credential repositories for the
// configured driver. The postgres driver also registers pool metrics, runs
// migrations and adds a critical readiness check.
func (a *App) openStorage(ctx context.Context, h *health.Handler) (repository.UserRepository, repository.RefreshCredentialRepository, error) {
	cfg := a.cfg

	if cfg.StorageDriver == config.StorageMemory {
		a.logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.New()
		return store.Users(), store.RefreshCredentials(), nil
	}

	pool, err := database.NewPostgresPool(ctx, &cfg.Postgres, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.Postgres.Host),
		slog.Int("port", cfg.Postgres.Port),
		slog.String("database", cfg.Postgres.DBName),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, "user"); err != nil {
		return nil, nil, fmt.Errorf("register pool metrics: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	database.SetSlowQueryLogging(cfg.SlowQueryThreshold, a.logger)

	h.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return postgres.NewUserRepository(pool), postgres.NewRefreshCredentialRepository(pool), nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("storage", a.cfg.StorageDriver),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	// 3. Close the remaining clients.
	if err := a.release(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// release closes whatever NewApp managed to open. It is safe to call on a
// partially built App.
func (a *App) release() error {
	var errs []error

	if a.stopBackground != nil {
		a.stopBackground()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.tracerShutdown(ctx)
		a.tracerShutdown = nil
	}

	return errors.Join(errs...)
}
