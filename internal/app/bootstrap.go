package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"lessons-serverless/internal/auth"
	"lessons-serverless/internal/db"
	"lessons-serverless/internal/maintenance"
	"lessons-serverless/internal/observability"
	"lessons-serverless/internal/progress"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the whole service and returns the composed handler. A missing
// JWT_SECRET or DATABASE_URL fails the build: the service refuses to start
// rather than sign tokens with an empty key.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger("app")

	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var credentials auth.CredentialStore
	switch backend := envOrDefault("CREDENTIALS_BACKEND", "memory"); backend {
	case "postgres":
		credentials = auth.NewPostgresStore(database)
	case "memory":
		credentials = auth.NewMemoryStore()
	default:
		_ = database.Close()
		return nil, fmt.Errorf("unknown credentials backend: %s", backend)
	}

	tokens := auth.NewTokenService(jwtSecret, envMinutesOrDefault("TOKEN_TTL_MINUTES", 60))
	progressRepo := progress.NewRepository(database)
	cleanupHandler := maintenance.NewCleanupHandler(
		progressRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("PROGRESS_RETENTION_DAYS", 365),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)
	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := newRouter(routerConfig{
		database:     database,
		credentials:  credentials,
		tokens:       tokens,
		loginLimiter: loginLimiter,
		progressLog:  progressRepo,
		cleanup:      cleanupHandler,
	})

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

type routerConfig struct {
	database     *sql.DB
	credentials  auth.CredentialStore
	tokens       *auth.TokenService
	loginLimiter *auth.LoginRateLimiter
	progressLog  progress.Log
	cleanup      *maintenance.CleanupHandler
}

// newRouter is the one canonical route table.
func newRouter(cfg routerConfig) http.Handler {
	authHandler := auth.NewHandler(cfg.credentials, cfg.tokens)
	progressHandler := progress.NewHandler(cfg.progressLog)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", livenessHandler)
	mux.HandleFunc("GET /health", healthHandler(cfg.database))
	mux.HandleFunc("POST /api/register", authHandler.Register)
	mux.Handle("POST /api/login", cfg.loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("GET /api/profile", auth.Middleware(cfg.tokens, http.HandlerFunc(authHandler.Profile)))
	mux.Handle("GET /api/progress", auth.Middleware(cfg.tokens, http.HandlerFunc(progressHandler.List)))
	mux.Handle("POST /api/progress", auth.Middleware(cfg.tokens, http.HandlerFunc(progressHandler.Record)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cfg.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cfg.cleanup.Handle)

	return mux
}

func livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("lesson progress service is up"))
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
