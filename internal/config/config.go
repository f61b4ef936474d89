package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Providers maps provider scope to its API base URL,
	// parsed from VARSEL_PROVIDERS ("ssb=https://...,scb=https://...").
	Providers map[string]string

	SentinelCount     int
	ProviderBatchSize int
	DailyQuotaLimit   int
	ChangeTolerance   float64

	RunInterval    time.Duration
	RequestTimeout time.Duration

	QuotaBackend  string // "db" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TuningPath string
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewTuningHolder),
)

func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("VARSEL_APP_NAME", "varsel"),
		AppVersion:  getenv("VARSEL_APP_VERSION", "dev"),
		Environment: getenv("VARSEL_ENVIRONMENT", "development"),

		HTTPAddr: getenv("VARSEL_HTTP_ADDR", ":8080"),

		DBType:            getenv("VARSEL_DB_TYPE", "sqlite"),
		DBHost:            getenv("VARSEL_DB_HOST", "localhost"),
		DBPort:            getenv("VARSEL_DB_PORT", "5432"),
		DBName:            getenv("VARSEL_DB_NAME", "varsel"),
		DBUser:            getenv("VARSEL_DB_USER", "varsel"),
		DBPassword:        getenv("VARSEL_DB_PASSWORD", ""),
		DBSSLMode:         getenv("VARSEL_DB_SSLMODE", "disable"),
		DBPath:            getenv("VARSEL_DB_PATH", "varsel.db"),
		DBMaxIdleConn:     getenvInt("VARSEL_DB_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("VARSEL_DB_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("VARSEL_DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("VARSEL_DB_CONN_MAX_IDLE_TIME", 600),

		Providers: parseProviders(os.Getenv("VARSEL_PROVIDERS")),

		SentinelCount:     getenvInt("VARSEL_SENTINEL_COUNT", 50),
		ProviderBatchSize: getenvInt("VARSEL_PROVIDER_BATCH_SIZE", 50),
		DailyQuotaLimit:   getenvInt("VARSEL_DAILY_QUOTA_LIMIT", 500),
		ChangeTolerance:   getenvFloat("VARSEL_CHANGE_TOLERANCE", 0),

		RunInterval:    getenvDuration("VARSEL_RUN_INTERVAL", time.Hour),
		RequestTimeout: getenvDuration("VARSEL_REQUEST_TIMEOUT", 30*time.Second),

		QuotaBackend:  getenv("VARSEL_QUOTA_BACKEND", "db"),
		RedisAddr:     getenv("VARSEL_REDIS_ADDR", ""),
		RedisPassword: getenv("VARSEL_REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("VARSEL_REDIS_DB", 0),

		TuningPath: getenv("VARSEL_TUNING_PATH", ""),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseProviders(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		scope, base, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(scope) == "" || strings.TrimSpace(base) == "" {
			log.Printf("ignoring malformed provider entry %q", part)
			continue
		}
		out[strings.TrimSpace(scope)] = strings.TrimSpace(base)
	}
	return out
}
