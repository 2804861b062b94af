package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Upload   UploadConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	// SuperUserUsername is the reserved account name that bypasses device
	// binding, matched case-insensitively.
	SuperUserUsername string

	// ReleaseDeviceOnLogout controls whether logout clears the active-device
	// binding when the supplied device id matches.
	ReleaseDeviceOnLogout bool
}

type UploadConfig struct {
	// Root is the directory under which work-order evidence is stored,
	// keyed by work-order id and update id.
	Root string

	// MaxUploadBytes caps a single multipart submit request.
	MaxUploadBytes int64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	accessSecret := getEnv("ACCESS_TOKEN_SECRET", "")
	if accessSecret == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET is required")
	}
	refreshSecret := getEnv("REFRESH_TOKEN_SECRET", "")
	if refreshSecret == "" {
		return nil, fmt.Errorf("REFRESH_TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")

	uploadRoot, err := filepath.Abs(getEnv("UPLOAD_ROOT", "./uploads"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_ROOT: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "fieldops"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8100"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Auth: AuthConfig{
			AccessTokenSecret:     accessSecret,
			RefreshTokenSecret:    refreshSecret,
			AccessTokenExpiry:     getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:    getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			SuperUserUsername:     strings.TrimSpace(getEnv("SUPER_USER_USERNAME", "")),
			ReleaseDeviceOnLogout: getEnvAsBool("RELEASE_DEVICE_ON_LOGOUT", true),
		},
		Upload: UploadConfig{
			Root:           uploadRoot,
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_MB", 35)) * 1024 * 1024,
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTokenSecret("ACCESS_TOKEN_SECRET", accessSecret, env); err != nil {
		return nil, err
	}
	if err := validateTokenSecret("REFRESH_TOKEN_SECRET", refreshSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateTokenSecret enforces minimum strength for JWT signing secrets
func validateTokenSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants used by the mobile shell and web tools
	return []string{
		"http://localhost:3000",
		"http://localhost:8081",
		"http://localhost:19006",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8081",
		"http://127.0.0.1:19006",
	}
}
