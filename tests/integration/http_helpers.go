package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fabrixhq/fieldops/internal/auth"
	"github.com/fabrixhq/fieldops/internal/config"
	"github.com/fabrixhq/fieldops/internal/database"
	"github.com/fabrixhq/fieldops/internal/handlers"
	"github.com/fabrixhq/fieldops/internal/repositories"
	"github.com/fabrixhq/fieldops/internal/routes"
	"github.com/fabrixhq/fieldops/internal/services"
	"github.com/fabrixhq/fieldops/internal/storage"
	pkglogger "github.com/fabrixhq/fieldops/pkg/logger"
)

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server    *httptest.Server
	DB        *database.DB
	Config    *config.Config
	UploadDir string
}

// NewTestServer initializes a complete HTTP server with a real database and a
// temp upload directory.
func NewTestServer(db *database.DB, uploadDir string) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			AccessTokenSecret:     "test-access-secret-32-characters-long!!",
			RefreshTokenSecret:    "test-refresh-secret-32-characters-long!",
			AccessTokenExpiry:     15 * time.Minute,
			RefreshTokenExpiry:    720 * time.Hour,
			SuperUserUsername:     "sysadmin",
			ReleaseDeviceOnLogout: true,
		},
		Upload: config.UploadConfig{
			Root:           uploadDir,
			MaxUploadBytes: 35 << 20,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
		},
	}

	userRepo := repositories.NewUserRepository(db)
	workOrderRepo := repositories.NewWorkOrderRepository(db)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	attachmentStore, err := storage.NewAttachmentStore(cfg.Upload.Root, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment store: %w", err)
	}

	authService := services.NewAuthService(userRepo, tokenManager, timingDelay, services.AuthPolicy{
		SuperUserUsername:     cfg.Auth.SuperUserUsername,
		ReleaseDeviceOnLogout: cfg.Auth.ReleaseDeviceOnLogout,
	}, logger, auditLogger)
	workOrderService := services.NewWorkOrderService(workOrderRepo, attachmentStore, logger, auditLogger)
	achievementService := services.NewAchievementService(workOrderRepo, logger)

	authHandler := handlers.NewAuthHandler(authService)
	workOrderHandler := handlers.NewWorkOrderHandler(workOrderService, cfg.Upload.MaxUploadBytes)
	achievementHandler := handlers.NewAchievementHandler(achievementService)

	guard := auth.NewGuard(tokenManager, userRepo)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(router, guard, authHandler, workOrderHandler, achievementHandler)

	return &TestServer{
		Server:    httptest.NewServer(router),
		DB:        db,
		Config:    cfg,
		UploadDir: uploadDir,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// PostJSON issues a POST with a JSON body and optional bearer token
func (ts *TestServer) PostJSON(path, token string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(http.MethodPost, ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return ts.Server.Client().Do(req)
}

// Get issues a GET with an optional bearer token
func (ts *TestServer) Get(path, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, ts.Server.URL+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return ts.Server.Client().Do(req)
}

// PostMultipart issues a multipart POST with form values and named files
func (ts *TestServer) PostMultipart(path, token string, values map[string]string, files map[string][]string) (*http.Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, value := range values {
		if err := w.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	for field, names := range files {
		for _, name := range names {
			part, err := w.CreateFormFile(field, name)
			if err != nil {
				return nil, err
			}
			if _, err := io.WriteString(part, "integration file content"); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return ts.Server.Client().Do(req)
}

// DecodeJSON decodes and closes a response body
func DecodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
