package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/breach"
	"github.com/arklim/superauth/internal/infra/config"
	"github.com/arklim/superauth/internal/infra/database"
	kafkainfra "github.com/arklim/superauth/internal/infra/kafka"
	"github.com/arklim/superauth/internal/infra/logger"
	redisinfra "github.com/arklim/superauth/internal/infra/redis"
	"github.com/arklim/superauth/internal/infra/scheduler"
	"github.com/arklim/superauth/internal/infra/security"
	"github.com/arklim/superauth/internal/infra/telemetry"
	memoryrepo "github.com/arklim/superauth/internal/repository/memory"
	postgresrepo "github.com/arklim/superauth/internal/repository/postgres"
	redisrepo "github.com/arklim/superauth/internal/repository/redis"
	"github.com/arklim/superauth/internal/transport/http/middleware"
	"github.com/arklim/superauth/internal/transport/http/routes"
	"github.com/arklim/superauth/internal/usecase"
)

// sharedCache backs both the RBAC caches and the breach range cache.
type sharedCache interface {
	port.Cache
	port.BreachRangeCache
}

type Application struct {
	cfg          *config.AppConfig
	handler      http.Handler
	logger       *zap.Logger
	tracer       *telemetry.TracerProvider
	pool         *pgxpool.Pool
	redis        *redisinfra.Client
	producer     *kafkainfra.Producer
	invalidation *kafkainfra.InvalidationConsumer
	invalidator  *usecase.CacheInvalidator
	jobs         []usecase.MaintenanceJob
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.tracer = tracer

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	domainMetrics, err := telemetry.NewDomainMetrics(registry, cfg.Telemetry.MetricsPrefix)
	if err != nil {
		return fmt.Errorf("init domain metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{
		Registerer: registry,
		Namespace:  cfg.Telemetry.MetricsPrefix,
	})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool
	repos := postgresrepo.NewRepositories(pool)

	var (
		cache      sharedCache
		rateLimits port.RateLimitStore
	)
	switch cfg.Cache.Backend {
	case "memory":
		cache = memoryrepo.NewCache(cfg.Cache.MemorySize, max(cfg.RBAC.HierarchyTTL, cfg.RBAC.UserTTL, cfg.Breach.CacheTTL))
		log.Warn("redis disabled: using in-process cache, rate limits are not enforced")
	default:
		redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = redisClient
		cache = redisrepo.NewCache(redisClient.Client(), cfg.Redis.CachePrefix)

		window := cfg.RateLimit.WindowDuration
		if window <= 0 {
			window = time.Minute
		}
		rateLimits = redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: cfg.Redis.RateLimitPrefix,
			TTL:       2 * max(window, cfg.RateLimit.OTPIssueWindow),
		})
	}

	var (
		publisher port.EventPublisher
		notifier  port.Notifier
	)
	if cfg.Kafka.Enabled {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		a.producer = producer
		kafkaPublisher := kafkainfra.NewEventPublisher(producer, cfg.App, log)
		publisher = kafkaPublisher
		notifier = kafkainfra.NewNotifier(kafkaPublisher)
	} else {
		log.Info("kafka disabled, using stub publisher")
		publisher = kafkainfra.NewStubPublisher(log)
		notifier = kafkainfra.NewLogNotifier(log)
	}

	guard := cfg.RBAC.Guard
	hierarchy := usecase.NewRoleHierarchy(repos.Roles, repos.Permissions, cache, cfg.RBAC.HierarchyTTL, log)
	authz := usecase.NewAuthorizer(hierarchy, repos.Assignments, repos.Permissions, cache, usecase.AuthorizerOptions{
		Guard:   guard,
		TTL:     cfg.RBAC.UserTTL,
		Metrics: domainMetrics,
		Logger:  log,
	})
	invalidator := usecase.NewCacheInvalidator(hierarchy, authz, publisher, cfg.RBAC.InvalidateOrigin, log)
	a.invalidator = invalidator

	roleService := usecase.NewRoleService(repos.Roles, repos.Assignments, repos.Permissions, hierarchy, authz, invalidator, publisher, usecase.RoleServiceConfig{
		Guard:    guard,
		MinLevel: cfg.RBAC.MinLevel,
		MaxLevel: cfg.RBAC.MaxLevel,
	}, log).WithMetrics(domainMetrics)
	permissionService := usecase.NewPermissionService(repos.Permissions, invalidator, guard, log)

	if cfg.App.SeedDefaults {
		if err := usecase.NewSeeder(repos.Roles, repos.Permissions, invalidator, guard, log).Seed(ctx); err != nil {
			return fmt.Errorf("seed rbac defaults: %w", err)
		}
		log.Info("rbac defaults seeded")
	}

	var breachChecker port.BreachChecker
	if cfg.Breach.Enabled {
		breachChecker = breach.NewClient(breach.Config{
			BaseURL:           cfg.Breach.APIURL,
			UserAgent:         cfg.Breach.UserAgent,
			Timeout:           cfg.Breach.Timeout,
			CacheTTL:          cfg.Breach.CacheTTL,
			RequestsPerSecond: cfg.Breach.RequestsPerSecond,
			Burst:             cfg.Breach.Burst,
			Policy:            domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.Breach.DegradationPolicy)),
		},
			breach.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
			breach.WithCache(cache),
			breach.WithLogger(log),
			breach.WithMetrics(domainMetrics),
		)
	}

	var fingerprinter port.Fingerprinter
	if fp, err := security.NewHMACFingerprinter(cfg.Breach.FingerprintKey); err == nil {
		fingerprinter = fp
	} else {
		log.Warn("breach fingerprint key not set, breach records are not persisted")
	}

	passwordService := usecase.NewPasswordService(
		security.NewPasswordStrengthAnalyzer(nil),
		breachChecker,
		repos.BreachRecords,
		fingerprinter,
		rateLimits,
		usecase.PasswordServiceConfig{
			CheckLimit:      cfg.RateLimit.PasswordCheckAttempts,
			CheckWindow:     cfg.RateLimit.WindowDuration,
			RecordRetention: cfg.Breach.RecordRetention,
		},
		log,
	).WithMetrics(domainMetrics)

	hasher, err := security.NewArgon2Hasher(security.DefaultArgon2Config())
	if err != nil {
		return fmt.Errorf("init otp hasher: %w", err)
	}
	otpService := usecase.NewOTPService(repos.OTP, hasher, notifier, rateLimits, usecase.OTPConfig{
		Length:      cfg.OTP.Length,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		IssueLimit:  cfg.RateLimit.OTPIssueAttempts,
		IssueWindow: cfg.RateLimit.OTPIssueWindow,
		ExposeCode:  cfg.App.Env == "development",
	}, log).WithMetrics(domainMetrics)

	loginService := usecase.NewLoginRiskService(repos.LoginHistory, publisher, notifier, usecase.LoginRiskConfig{
		HistoryWindow:      cfg.Risk.HistoryWindow,
		RapidWindow:        cfg.Risk.RapidWindow,
		RapidThreshold:     cfg.Risk.RapidThreshold,
		UnusualThreshold:   cfg.Risk.UnusualThreshold,
		HighRiskIPFailures: cfg.Risk.HighRiskIPFailures,
		HistoryRetention:   cfg.Risk.HistoryRetention,
	}, log).WithMetrics(domainMetrics)

	a.jobs = usecase.MaintenanceJobs(roleService, otpService, passwordService, loginService)

	verifier, err := newVerifier(cfg.JWT)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	if cfg.Kafka.Enabled {
		a.invalidation = kafkainfra.NewInvalidationConsumer(invalidator, cfg.RBAC.HierarchyTTL, log)
	}

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(rateLimits, log),
		Metrics:     httpMetrics,
		Gatherer:    registry,
		Verifier:    verifier,
		Database:    pool,
		Services: routes.ServiceSet{
			Roles:       roleService,
			Catalog:     hierarchy,
			Permissions: permissionService,
			Authorizer:  authz,
			Passwords:   passwordService,
			Logins:      loginService,
			OTP:         otpService,
		},
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}

	a.handler = otelhttp.NewHandler(routes.Register(deps), "superauth.http",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz" && r.URL.Path != "/metrics"
		}),
	)
	return nil
}

func newVerifier(cfg config.JWTSettings) (*security.ActorTokenVerifier, error) {
	tokenCfg := security.ActorTokenConfig{
		Secret:   cfg.Secret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Leeway:   cfg.Leeway,
	}
	if cfg.KeyDirectory != "" {
		keys, err := security.LoadKeyDirectory(cfg.KeyDirectory)
		if err != nil {
			return nil, err
		}
		tokenCfg.Keys = keys
	}
	return security.NewActorTokenVerifier(tokenCfg)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.invalidation != nil {
		groupID := kafkainfra.InvalidationGroupID(a.cfg.Kafka.ConsumerGroup, a.invalidator.Origin())
		go func() {
			if err := kafkainfra.RunInvalidationConsumer(ctx, a.cfg.Kafka, groupID, a.invalidation, a.logger); err != nil {
				a.logger.Error("rbac invalidation consumer stopped", zap.Error(err))
			}
		}()
	}

	if a.cfg.Scheduler.Enabled {
		sched, err := scheduler.New(ctx, a.cfg.Scheduler, a.jobs, a.logger)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			defer stop()
			sched.Stop(stopCtx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting SuperAuth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close() {
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
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
}
