package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Apply migrations before the pool starts serving
	if cfg.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(ctx, cfg.Database.DSN(), logger)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(db.Collectors()...)
	m := metrics.New(registry)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	accountLockRepo := repositories.NewAccountLockRepository(db)
	securityAlertRepo := repositories.NewSecurityAlertRepository(db)
	twoFactorRepo := repositories.NewTwoFactorRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Alert notification over AWS SES, only when recipients are configured
	var notifier services.AlertNotifier = services.NoopNotifier{}
	if len(cfg.Alerts.Recipients) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesNotifier, err := services.NewSESNotifier(ctx, cfg.Alerts.AWSRegion, cfg.Alerts.FromAddress, cfg.Alerts.Recipients, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize alert notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	// Initialize services
	alertService := services.NewAlertService(securityAlertRepo, notifier, logger, auditLogger, m)
	ledger := services.NewLoginLedger(loginAttemptRepo, logger)

	lockoutService := services.NewLockoutService(services.LockoutPolicy{
		MaxAttempts:  cfg.Security.MaxFailedAttempts,
		Window:       cfg.Security.LockoutWindow,
		LockDuration: cfg.Security.LockDuration,
	}, ledger, accountLockRepo, userRepo, alertService, logger, auditLogger, m)

	detector := services.NewSuspiciousActivityDetector(services.SuspiciousActivityPolicy{
		Window:      cfg.Security.SuspiciousWindow,
		IPThreshold: cfg.Security.SuspiciousIPThreshold,
	}, ledger, alertService, logger)

	totpManager, err := auth.NewTOTPManager(cfg.TwoFactor.EncryptionKey, cfg.TwoFactor.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	twoFactorService := services.NewTwoFactorService(services.TwoFactorConfig{
		RecoveryCodeCount: cfg.TwoFactor.RecoveryCodeCount,
		RecoveryCodeCost:  cfg.TwoFactor.RecoveryCodeCost,
	}, twoFactorRepo, totpManager, logger, auditLogger, m)

	sessionManager := auth.NewSessionManager(auth.SessionConfig{
		Secret:         cfg.Auth.SessionSecret,
		MaxAge:         cfg.Auth.MaxSessionAge,
		VerifyInterval: cfg.Auth.VerifyInterval,
	}, userRepo, logger, m)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	verifier := services.NewCredentialVerifier(services.VerifierConfig{
		PasswordCheckTimeout: cfg.Auth.PasswordCheckTimeout,
		TwoFactorTimeout:     cfg.Auth.TwoFactorTimeout,
	}, userRepo, ledger, lockoutService, twoFactorService, detector, sessionManager, timingDelay, logger, auditLogger, m)

	// Rate limiter: Redis shares windows across instances, memory is per process
	var (
		limiterStore ratelimit.Store
		memoryStore  *ratelimit.MemoryStore
		redisCheck   handlers.HealthCheck
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		redisStore := ratelimit.NewRedisStore(redisClient, "bastion:ratelimit")
		limiterStore = redisStore
		redisCheck = redisStore.Ping
		logger.Info("rate limiter using redis")
	} else {
		memoryStore = ratelimit.NewMemoryStore()
		limiterStore = memoryStore
		logger.Info("rate limiter using process memory")
	}

	limiter := ratelimit.NewLimiter(limiterStore, map[string]ratelimit.Policy{
		ratelimit.ScopeGlobal:   {Limit: cfg.Security.GlobalRateLimit, Window: cfg.Security.GlobalRateWindow},
		ratelimit.ScopeLogin:    {Limit: cfg.Security.LoginRateLimit, Window: cfg.Security.LoginRateWindow},
		ratelimit.ScopeAdminAPI: {Limit: cfg.Security.AdminRateLimit, Window: cfg.Security.AdminRateWindow},
	}, logger, m)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	cookies := auth.CookieConfig{
		Name:     cfg.Auth.CookieName,
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: "strict",
	}

	router := routes.NewRouter(routes.Config{
		Env:              cfg.Server.Env,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		OpsRatePerMinute: cfg.Security.OpsRatePerMinute,
		IPConfig:         ipConfig,
		Cookies:          cookies,
	}, routes.Handlers{
		Auth:      handlers.NewAuthHandler(verifier, sessionManager, cookies, ipConfig, logger),
		TwoFactor: handlers.NewTwoFactorHandler(twoFactorService, userRepo, logger),
		Admin:     handlers.NewAdminHandler(alertService, ledger, lockoutService, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"database": db.HealthCheck,
			"redis":    redisCheck,
		}, logger),
	}, sessionManager, limiter, m, logger)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	var sweeper background.LimiterSweeper
	if memoryStore != nil {
		sweeper = memoryStore
	}
	cleanupManager := background.NewCleanupManager(sweeper, loginAttemptRepo, cfg.Auth.AttemptRetention, cfg.Auth.SweepInterval, logger, m)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
		Status:       models.UserStatusActive,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully", slog.String("email", pkglogger.SanitizedEmail(adminEmail)))
	return nil
}
