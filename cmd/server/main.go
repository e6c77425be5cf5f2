package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"taskboard-auth/backend/internal/audit"
	auditrepo "taskboard-auth/backend/internal/audit/repository"
	"taskboard-auth/backend/internal/config"
	"taskboard-auth/backend/internal/db"
	"taskboard-auth/backend/internal/devotp"
	devotphandler "taskboard-auth/backend/internal/devotp/handler"
	"taskboard-auth/backend/internal/guard"
	healthhandler "taskboard-auth/backend/internal/health/handler"
	identityhandler "taskboard-auth/backend/internal/identity/handler"
	identityservice "taskboard-auth/backend/internal/identity/service"
	"taskboard-auth/backend/internal/logging"
	"taskboard-auth/backend/internal/metrics"
	"taskboard-auth/backend/internal/mfa"
	mfahandler "taskboard-auth/backend/internal/mfa/handler"
	mfarepo "taskboard-auth/backend/internal/mfa/repository"
	mfaservice "taskboard-auth/backend/internal/mfa/service"
	"taskboard-auth/backend/internal/notify"
	"taskboard-auth/backend/internal/policy/engine"
	policyhandler "taskboard-auth/backend/internal/policy/handler"
	"taskboard-auth/backend/internal/ratelimit"
	"taskboard-auth/backend/internal/security"
	"taskboard-auth/backend/internal/server"
	"taskboard-auth/backend/internal/server/httpx"
	sessionhandler "taskboard-auth/backend/internal/session/handler"
	sessionrepo "taskboard-auth/backend/internal/session/repository"
	"taskboard-auth/backend/internal/session/revocation"
	sessionservice "taskboard-auth/backend/internal/session/service"
	"taskboard-auth/backend/internal/telemetry"
	otelsetup "taskboard-auth/backend/internal/telemetry/otel"
	"taskboard-auth/backend/internal/telemetry/producer"
	userrepo "taskboard-auth/backend/internal/user/repository"
)

const serviceName = "taskboard-auth"

type stores struct {
	db       *sql.DB
	users    userrepo.Repository
	sessions sessionrepo.Repository
	secrets  mfarepo.Repository
	audit    auditrepo.Repository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, serviceName, cfg.Env)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTelEndpoint, serviceName, cfg.OTelInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	cache := revocation.NewRedisCache(rdb, cfg.SessionTTL())

	var auditLogger audit.AuditLogger
	if st.audit != nil {
		auditLogger = audit.NewLogger(st.audit, logger)
	}

	var kafkaProducer *producer.KafkaProducer
	var events telemetry.EventEmitter = otelsetup.NewEventEmitter(providers.LoggerProvider)
	if kafkaProducer = producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SessionEventsTopic); kafkaProducer != nil {
		events = telemetry.Fanout(kafkaProducer, events)
		logger.Info("session events enabled", "topic", cfg.SessionEventsTopic)
	}

	tokens := security.NewTokenProvider(
		[]byte(cfg.JWTAccessSecret), []byte(cfg.JWTRefreshSecret),
		cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.RefreshTTL(),
	)
	hasher := security.NewHasher(cfg.BcryptCost)
	storeTimeout := cfg.StoreTimeoutDuration()

	mgrOpts := []sessionservice.Option{
		sessionservice.WithEvents(events),
		sessionservice.WithStoreTimeout(storeTimeout),
		sessionservice.WithLogger(logger),
	}
	authOpts := []identityservice.Option{
		identityservice.WithEvents(events),
		identityservice.WithStoreTimeout(storeTimeout),
		identityservice.WithLogger(logger),
	}
	if auditLogger != nil {
		mgrOpts = append(mgrOpts, sessionservice.WithAudit(auditLogger))
		authOpts = append(authOpts, identityservice.WithAudit(auditLogger))
	}
	var devStore devotp.Store
	if cfg.OTPReturnToClient {
		devStore = devotp.NewMemoryStore()
		authOpts = append(authOpts, identityservice.WithDevOTPStore(devStore))
		logger.Warn("OTP_RETURN_TO_CLIENT is enabled; reset codes are readable at /v1/dev/reset-otp")
	}

	var notifier identityservice.Notifier = identityservice.NewLogNotifier(logger)
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookKey)
	}

	mgr := sessionservice.NewManager(st.sessions, st.users, cache, mgrOpts...)
	auth := identityservice.NewAuthService(st.users, mgr, hasher, tokens, notifier, authOpts...)
	twoFactor := mfaservice.NewTwoFactorService(st.users, st.secrets, mgr, mfa.NewTOTP(cfg.TOTPIssuer), auditLogger, events, storeTimeout)

	eval, err := engine.NewOPAEvaluator(ctx, engine.DefaultStepUpPolicy, logger)
	if err != nil {
		return err
	}

	var limiter ratelimit.Limiter = ratelimit.NewRedisLimiter(rdb, cfg.AuthRateLimit, cfg.AuthRateWindowDuration(), "")
	if cfg.RedisAddr == "" {
		limiter = ratelimit.NewMemory(cfg.AuthRateLimit, cfg.AuthRateWindowDuration())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	checks := map[string]healthhandler.CheckFunc{
		"redis":  func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"policy": eval.HealthCheck,
	}
	if st.db != nil {
		checks["postgres"] = st.db.PingContext
	}

	cookies := httpx.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure, cfg.SameSite())
	g := guard.New(tokens, cache, cfg.GuardCacheTimeoutDuration(), logger)
	deps := server.HTTPDeps{
		Logger:    logger,
		Guard:     g,
		Users:     identityhandler.NewHandler(auth, cookies, cfg.RefreshTTL()),
		Sessions:  sessionhandler.NewHandler(mgr, cookies),
		TwoFactor: mfahandler.NewHandler(twoFactor),
		Health:    healthhandler.NewHandler(checks),
		StepUp: func(action string) func(http.Handler) http.Handler {
			return policyhandler.RequireTwoFactor(eval, st.users, mgr, action)
		},
		RateLimiter:   limiter,
		Metrics:       metrics.Handler(registry),
		FederationKey: cfg.FederationKey,
	}
	if devStore != nil {
		deps.DevOTP = devotphandler.NewHandler(devStore)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcHealth := health.NewServer()
	grpcSrv := server.NewGRPCServer(server.GRPCDeps{
		Guard:  g,
		Events: events,
		Health: grpcHealth,
		Logger: logger,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errc:
		logger.Error("server failed", "error", err)
	}

	grpcHealth.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	grpcSrv.GracefulStop()

	// Let in-flight async emits finish before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Warn("kafka producer close", "error", err)
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", "error", err)
	}
	logger.Info("servers stopped")
	return nil
}

// openStores connects to Postgres. Without DATABASE_URL outside production it falls back to
// in-memory repositories and audit entries are not persisted.
func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			return nil, errors.New("DATABASE_URL must be set in production")
		}
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		return &stores{
			users:    userrepo.NewMemoryRepository(),
			sessions: sessionrepo.NewMemoryRepository(),
			secrets:  mfarepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		return nil, err
	}
	return &stores{
		db:       conn,
		users:    userrepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
		secrets:  mfarepo.NewPostgresRepository(conn),
		audit:    auditrepo.NewPostgresRepository(conn),
	}, nil
}
