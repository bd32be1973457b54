package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Kharon-pay-mini/user-management-server/internal/auth"
	"github.com/Kharon-pay-mini/user-management-server/internal/bank"
	"github.com/Kharon-pay-mini/user-management-server/internal/config"
	"github.com/Kharon-pay-mini/user-management-server/internal/email"
	"github.com/Kharon-pay-mini/user-management-server/internal/event"
	"github.com/Kharon-pay-mini/user-management-server/internal/geo"
	handler "github.com/Kharon-pay-mini/user-management-server/internal/handler/http"
	"github.com/Kharon-pay-mini/user-management-server/internal/otp"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository/postgres"
	"github.com/Kharon-pay-mini/user-management-server/internal/security"
	"github.com/Kharon-pay-mini/user-management-server/internal/service"
	"github.com/Kharon-pay-mini/user-management-server/migrations"
	"github.com/Kharon-pay-mini/user-management-server/pkg/database"
	"github.com/Kharon-pay-mini/user-management-server/pkg/health"
	"github.com/Kharon-pay-mini/user-management-server/pkg/httpclient"
	pkgkafka "github.com/Kharon-pay-mini/user-management-server/pkg/kafka"
	"github.com/Kharon-pay-mini/user-management-server/pkg/middleware"
	"github.com/Kharon-pay-mini/user-management-server/pkg/tracing"
)

const serviceName = "user-management"

// App wires together all dependencies and runs the user management service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	recorder       *security.Recorder
	limiter        *handler.RateLimiter
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.DefaultPostgresConfig(cfg.DatabaseURL)
	pgCfg.MaxConns = cfg.DBMaxConns

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL", slog.Int("max_conns", int(pgCfg.MaxConns)))
	database.RegisterPoolMetrics(pool, serviceName)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis backs the geo cache only; without it every lookup goes to ipinfo.
	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if rdb == nil {
		logger.Info("redis disabled, geo lookups are uncached")
	}

	// Kafka is optional. The interface stays nil when no brokers are set so
	// the event producer turns into a no-op.
	var (
		producer  *pkgkafka.Producer
		publisher event.Publisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	eventProducer := event.NewProducer(publisher, logger)

	// Outbound HTTP: one breaker per provider so an ipinfo outage never
	// trips bank verification.
	httpClient := httpclient.New(httpclient.DefaultConfig())
	ipinfoClient := httpclient.NewCircuitBreakerClient(httpClient, httpclient.DefaultCircuitBreakerConfig("ipinfo"), logger)
	flutterwaveClient := httpclient.NewCircuitBreakerClient(httpClient, httpclient.DefaultCircuitBreakerConfig("flutterwave"), logger)

	mailer, err := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init email: %w", err)
	}

	// Build the dependency graph.
	userRepo := postgres.NewUserRepository(pool)
	otpRepo := postgres.NewOTPRepository(pool)
	logRepo := postgres.NewSecurityLogRepository(pool)
	walletRepo := postgres.NewWalletRepository(pool)
	bankRepo := postgres.NewBankAccountRepository(pool)

	enricher := geo.NewEnricher(ipinfoClient, rdb, geo.Config{
		BaseURL:  cfg.IPInfoBaseURL,
		Token:    cfg.IPInfoToken,
		CacheTTL: cfg.GeoCacheTTL,
		Timeout:  cfg.GeoTimeout,
	}, logger)

	recorder := security.NewRecorder(security.Config{
		Workers:   cfg.SecurityWorkers,
		QueueSize: cfg.SecurityQueueSize,
	}, logRepo, enricher, eventProducer, logger)

	banks := bank.NewClient(flutterwaveClient, bank.Config{
		BaseURL:   cfg.FlutterwaveBaseURL,
		SecretKey: cfg.FlutterwaveSecretKey,
	})

	codes := otp.NewIssuer(otpRepo, mailer, logger)
	sessions := auth.NewSessionIssuer(cfg.JWTSecret)

	authService := service.NewAuthService(userRepo, codes, sessions, recorder, eventProducer, logger)
	profileService := service.NewProfileService(userRepo, logRepo, walletRepo, bankRepo, banks, logger)
	adminService := service.NewAdminService(userRepo, logRepo, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if rdb != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	middleware.SetTrustedProxies(proxies)

	limiter := handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	// HTTP router.
	router := handler.NewRouter(handler.Dependencies{
		Auth:     handler.NewAuthHandler(authService, logger),
		User:     handler.NewUserHandler(profileService, logger),
		Admin:    handler.NewAdminHandler(adminService, logger),
		Verifier: sessions,
		Limiter:  limiter,
		Health:   healthHandler,
		CORS:     middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins),
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          rdb,
		producer:       producer,
		recorder:       recorder,
		limiter:        limiter,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	defer stopLimiter()
	go a.limiter.Run(limiterCtx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Security recorder (persist queued events from drained requests)
// 3. Tracer (flush pending spans)
// 4. Kafka producer
// 5. Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Let the workers finish what is queued; they still need the pool.
	recorderCtx, recorderCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recorderCancel()
	if err := a.recorder.Close(recorderCtx); err != nil {
		a.logger.Error("security recorder close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Kafka producer.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5. Close Redis and the PostgreSQL pool.
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
