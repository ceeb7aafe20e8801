package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/background"
	"github.com/BradenHooton/keystone/internal/cache"
	"github.com/BradenHooton/keystone/internal/config"
	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/handlers"
	"github.com/BradenHooton/keystone/internal/memstore"
	middlewareCustom "github.com/BradenHooton/keystone/internal/middleware"
	"github.com/BradenHooton/keystone/internal/repositories"
	"github.com/BradenHooton/keystone/internal/routes"
	"github.com/BradenHooton/keystone/internal/services"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// storage bundles the persistence pieces chosen by STORE_DRIVER
type storage struct {
	store       repositories.Store
	permissions repositories.Permissions
	audit       services.AuditSink
	health      func(ctx context.Context) error
	close       func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("store_driver", cfg.Database.Driver))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.close()

	policyCache, closeCache := openPolicyCache(rootCtx, cfg, logger)
	defer closeCache()

	notifier, err := openNotifier(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize notifier", slog.Any("error", err))
		os.Exit(1)
	}

	clock := services.SystemClock{}

	totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	hasher := pkgauth.NewBcryptHasher(pkgauth.DefaultBcryptCost)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	interceptor := services.NewAuditInterceptor(st.audit, pkglogger.NewAuditLogger(logger), logger, clock)
	resolver := services.NewPermissionResolver(st.permissions, policyCache, cfg.Redis.PolicyCacheTTL, logger)
	issuer := services.NewTokenIssuer(tokenManager, resolver, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry, clock)

	verifier := services.NewCredentialVerifier(hasher, services.LockoutPolicy{
		Threshold: cfg.Auth.LockoutThreshold,
		Window:    cfg.Auth.LockoutWindow,
		Duration:  cfg.Auth.LockoutDuration,
	}, clock, logger)

	challenges := services.NewMFAChallengeEngine(totpManager, totpManager, services.MFAChallengeConfig{
		ChallengeTTL:         cfg.MFA.ChallengeExpiry,
		WindowSteps:          cfg.MFA.TOTPWindowSteps,
		RecoveryCodeLowWater: cfg.MFA.RecoveryCodeLowWater,
		MaxFailedAttempts:    cfg.MFA.MaxFailedAttempts,
		AttemptWindow:        cfg.MFA.AttemptWindow,
	}, clock, logger)

	authService := services.NewAuthService(services.AuthServiceDeps{
		Store:    st.store,
		Verifier: verifier,
		MFA:      challenges,
		Issuer:   issuer,
		Rotation: services.NewRefreshRotationEngine(issuer, clock, logger),
		Audit:    interceptor,
		Notifier: notifier,
		Timing:   timingDelay,
		Clock:    clock,
		Logger:   logger,
	})

	mfaService := services.NewMFAService(
		st.store,
		totpManager,
		totpManager,
		totpManager,
		verifier,
		interceptor,
		services.MFAServiceConfig{
			RecoveryCodeCount: cfg.MFA.RecoveryCodeCount,
			WindowSteps:       cfg.MFA.TOTPWindowSteps,
		},
		clock,
		logger,
	)

	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(authService, ipConfig, logger)
	mfaHandler := handlers.NewMFAHandler(mfaService, ipConfig, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, tokenManager, healthHandler(st.health), routes.Config{
		IPConfig:         ipConfig,
		PublicRateLimit:  cfg.Server.AuthRateLimit,
		AccountRateLimit: cfg.Server.AuthRateLimit,
	})

	sweeper := background.NewLockoutSweeper(st.store.Users(), logger, cfg.Auth.LockoutSweepInterval)
	go sweeper.Start(rootCtx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutdown signal received")

	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if cfg.Database.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; all state is lost on restart")
		mem := memstore.New()
		return &storage{
			store:       mem,
			permissions: mem.Permissions(),
			audit:       memstore.NewAuditLog(),
			health:      func(context.Context) error { return nil },
			close:       func() {},
		}, nil
	}

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	pg := repositories.NewPostgresStore(db)
	return &storage{
		store:       pg,
		permissions: pg.Permissions(),
		audit:       repositories.NewAuditLogRepository(db),
		health:      db.HealthCheck,
		close:       db.Close,
	}, nil
}

// openPolicyCache prefers Redis so replicas share role lookups. A Redis
// that cannot be reached at boot falls back to a per-process cache.
func openPolicyCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.PolicyCache, func()) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryPolicyCache(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process policy cache",
			slog.String("addr", cfg.Redis.Addr),
			slog.Any("error", err))
		_ = client.Close()
		return cache.NewMemoryPolicyCache(), func() {}
	}

	logger.Info("redis policy cache connected", slog.String("addr", cfg.Redis.Addr))
	return cache.NewRedisPolicyCache(client, cache.DefaultKeyPrefix), func() { _ = client.Close() }
}

func openNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.SecurityNotifier, error) {
	if !cfg.Email.Enabled {
		return services.NewLogNotifier(logger), nil
	}
	return services.NewSESNotifier(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		store := "up"
		if err := check(ctx); err != nil {
			status, code, store = "unhealthy", http.StatusServiceUnavailable, "down"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "store": store})
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
