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

	"github.com/fabrixhq/fieldops/internal/auth"
	"github.com/fabrixhq/fieldops/internal/config"
	"github.com/fabrixhq/fieldops/internal/database"
	"github.com/fabrixhq/fieldops/internal/handlers"
	middlewareCustom "github.com/fabrixhq/fieldops/internal/middleware"
	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/repositories"
	"github.com/fabrixhq/fieldops/internal/routes"
	"github.com/fabrixhq/fieldops/internal/services"
	"github.com/fabrixhq/fieldops/internal/storage"
	"github.com/fabrixhq/fieldops/migrations"
	pkgauth "github.com/fabrixhq/fieldops/pkg/auth"
	pkglogger "github.com/fabrixhq/fieldops/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
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

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(migrations.Embed); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	workOrderRepo := repositories.NewWorkOrderRepository(db)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Timing delay pads failed logins
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 100,
	})

	// Evidence file storage
	attachmentStore, err := storage.NewAttachmentStore(cfg.Upload.Root, logger)
	if err != nil {
		logger.Error("failed to initialize attachment store", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	authService := services.NewAuthService(userRepo, tokenManager, timingDelay, services.AuthPolicy{
		SuperUserUsername:     cfg.Auth.SuperUserUsername,
		ReleaseDeviceOnLogout: cfg.Auth.ReleaseDeviceOnLogout,
	}, logger, auditLogger)
	workOrderService := services.NewWorkOrderService(workOrderRepo, attachmentStore, logger, auditLogger)
	achievementService := services.NewAchievementService(workOrderRepo, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	workOrderHandler := handlers.NewWorkOrderHandler(workOrderService, cfg.Upload.MaxUploadBytes)
	achievementHandler := handlers.NewAchievementHandler(achievementService)

	// Guard resolves users fresh per request
	guard := auth.NewGuard(tokenManager, userRepo)

	// Bootstrap the super user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureSuperUser(ctx, userRepo, cfg.Auth.SuperUserUsername, logger); err != nil {
		logger.Error("failed to ensure super user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, guard, authHandler, workOrderHandler, achievementHandler)

	// Health check with database
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"service":"fieldops","status":"running"}`))
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureSuperUser creates the reserved super-user account if SUPER_USER_PASSWORD is set
func ensureSuperUser(ctx context.Context, userRepo *repositories.UserRepository, username string, logger *slog.Logger) error {
	password := os.Getenv("SUPER_USER_PASSWORD")
	if username == "" || password == "" {
		logger.Info("no SUPER_USER_PASSWORD set, skipping super user creation")
		return nil
	}

	_, err := userRepo.GetByUsername(ctx, username)
	if err == nil {
		logger.Info("super user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if super user exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash super user password: %w", err)
	}

	_, err = userRepo.Create(ctx, &models.User{
		Username:     username,
		PasswordHash: hashedPassword,
		Role:         models.RoleSuperAdmin,
		UserType:     "admin",
		FullName:     "Super Admin",
		IsActive:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to create super user: %w", err)
	}

	logger.Info("super user created successfully")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
