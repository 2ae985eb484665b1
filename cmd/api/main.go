package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/taskmanager/auth-service/internal/auth"
	"github.com/taskmanager/auth-service/internal/config"
	"github.com/taskmanager/auth-service/internal/db"
	httphandler "github.com/taskmanager/auth-service/internal/http"
	"github.com/taskmanager/auth-service/internal/http/handlers"
	"github.com/taskmanager/auth-service/internal/limiter"
	"github.com/taskmanager/auth-service/internal/logging"
	"github.com/taskmanager/auth-service/internal/metrics"
	"github.com/taskmanager/auth-service/internal/repo"

	_ "github.com/lib/pq"
)

func main() {
	// Env vars override .env; the file is a dev convenience only.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	logger.Info("connecting to database", zap.String("dsn", db.RedactDSN(cfg.DatabaseURL)))
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Counter store: Redis in production so lockout and rate-limit counts
	// are correct across instances; in-process fallback only in dev mode.
	var counterStore limiter.Store
	if cfg.RedisURL != "" {
		redisClient, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		counterStore = limiter.NewRedisStore(redisClient)
	} else {
		logger.Warn("REDIS_URL not set, using in-process counters (dev mode only)")
		counterStore = limiter.NewMemoryStore()
	}

	ipLimiter := limiter.New(counterStore, "rl:ip:", cfg.LoginRateLimit, cfg.LoginRateWindow)
	lockout := limiter.New(counterStore, "lock:acct:", cfg.MaxLoginFailures, cfg.LockoutWindow)
	mfaLockout := limiter.New(counterStore, "lock:mfa:", cfg.MaxMFAFailures, cfg.MFAWindow)

	userRepo := repo.NewUserRepo(database)
	mfaRepo := repo.NewMFARepo(database)
	deviceRepo := repo.NewDeviceRepo(database)
	attemptRepo := repo.NewAttemptRepo(database)

	jwtService := auth.NewJWTService(
		cfg.AccessTokenSecret,
		cfg.RefreshTokenSecret,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)
	authService := auth.NewService(userRepo, mfaRepo, deviceRepo, attemptRepo, jwtService, lockout, mfaLockout, logger, auth.Options{
		DeviceSalt:     cfg.DeviceSalt,
		DeviceTrustTTL: cfg.DeviceTrustTTL,
		MFASessionTTL:  cfg.MFAWindow,
		MaxMFAFailures: cfg.MaxMFAFailures,
	})

	m := metrics.New()
	authHandler := handlers.NewAuthHandler(authService, logger, m)
	router := httphandler.NewRouter(authHandler, jwtService, userRepo, ipLimiter, database, m, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
