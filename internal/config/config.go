package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr               string
	DatabaseURL        string
	DBMaxConns         int32
	LogLevel           slog.Level
	SessionCookieName  string
	SessionTTL         time.Duration
	SecureCookies      bool
	CSRFEnforce        bool
	CORSAllowedOrigins []string
	Env                string
	APIMaxBodyBytes    int64
	ReadHeaderTimeout  time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RateLimitMaxIPs    int

	ImportMaxFileBytes    int64
	ImportMaxRows         int
	ImportBatchSize       int
	ImportTaskTTL         time.Duration
	ImportPollMinInterval time.Duration
	ImportJobTimeout      time.Duration
	ImportUploadDir       string
	ImportCreateCustomers bool
	ReconcileWorkers      int
	ListCacheTTL          time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:              getEnv("API_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBMaxConns:        int32(getEnvInt("DB_MAX_CONNS", 4)),
		LogLevel:          getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "crm_sess"),
		SessionTTL:        time.Duration(getEnvInt("SESSION_TTL_HOURS", 12)) * time.Hour,
		SecureCookies:     getEnvBool("COOKIE_SECURE", false),
		CSRFEnforce:       getEnvBool("CSRF_ENFORCE", true),
		CORSAllowedOrigins: getEnvCSV("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}),
		Env:               getEnv("APP_ENV", "dev"),
		APIMaxBodyBytes:   int64(getEnvInt("API_MAX_BODY_MB", 2)) * 1024 * 1024,
		ReadHeaderTimeout: time.Duration(getEnvInt("API_READ_HEADER_TIMEOUT_SEC", 5)) * time.Second,
		ReadTimeout:       time.Duration(getEnvInt("API_READ_TIMEOUT_SEC", 30)) * time.Second,
		WriteTimeout:      time.Duration(getEnvInt("API_WRITE_TIMEOUT_SEC", 30)) * time.Second,
		IdleTimeout:       time.Duration(getEnvInt("API_IDLE_TIMEOUT_SEC", 60)) * time.Second,
		RateLimitMaxIPs:   getEnvInt("RATE_LIMIT_MAX_IPS", 10000),

		ImportMaxFileBytes:    int64(getEnvInt("IMPORT_MAX_FILE_MB", 10)) * 1024 * 1024,
		ImportMaxRows:         getEnvInt("IMPORT_MAX_ROWS", 50000),
		ImportBatchSize:       getEnvInt("IMPORT_BATCH_SIZE", 100),
		ImportTaskTTL:         time.Duration(getEnvInt("IMPORT_TASK_TTL_MIN", 60)) * time.Minute,
		ImportPollMinInterval: time.Duration(getEnvInt("IMPORT_POLL_MIN_INTERVAL_MS", 1000)) * time.Millisecond,
		ImportJobTimeout:      time.Duration(getEnvInt("IMPORT_JOB_TIMEOUT_MIN", 30)) * time.Minute,
		ImportUploadDir:       getEnv("IMPORT_UPLOAD_DIR", os.TempDir()),
		ImportCreateCustomers: getEnvBool("IMPORT_CREATE_CUSTOMERS", false),
		ReconcileWorkers:      getEnvInt("RECONCILE_WORKERS", 2),
		ListCacheTTL:          time.Duration(getEnvInt("LIST_CACHE_TTL_SEC", 30)) * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ImportBatchSize < 1 {
		return Config{}, fmt.Errorf("IMPORT_BATCH_SIZE must be at least 1, got %d", cfg.ImportBatchSize)
	}
	if cfg.ImportMaxFileBytes <= 0 {
		return Config{}, fmt.Errorf("IMPORT_MAX_FILE_MB must be positive")
	}

	if cfg.Env == "prod" {
		cfg.SecureCookies = true
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return level
}

func getEnvCSV(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
