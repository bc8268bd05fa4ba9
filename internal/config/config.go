package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the environment-backed Config.
var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// AuthUserHeader names the header the fronting gateway uses to pass the
	// authenticated principal.
	AuthUserHeader string
	// AdminUserIDs are seeded into the admin role on startup.
	AdminUserIDs []string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type QuotaConfig struct {
	// Store selects the counter backend: "gorm" or "redis".
	Store string
	// CatalogPath is the directory holding features.yml.
	CatalogPath string
	// EventRetentionDays purges audit events older than this; 0 keeps them forever.
	EventRetentionDays int
	StoreTimeoutMillis int
}

type RateLimitConfig struct {
	Enabled  bool
	UseRate  float64
	UseBurst int
}

type SchedulerConfig struct {
	Enabled            bool
	IntervalSeconds    int
	LockTTLSeconds     int
	RetentionBatchSize int
	// PushgatewayURL receives job metrics after a one-shot run; empty disables pushing.
	PushgatewayURL     string
}

const (
	QuotaStoreGorm  = "gorm"
	QuotaStoreRedis = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "featuregate"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AuthUserHeader:    getenv("AUTH_USER_HEADER", "X-User-ID"),
		AdminUserIDs:      parseList(getenv("AUTH_ADMIN_USER_IDS", "")),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "featuregate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Quota: QuotaConfig{
			Store:              normalizeQuotaStore(getenv("QUOTA_STORE", QuotaStoreGorm)),
			CatalogPath:        strings.TrimSpace(getenv("QUOTA_CATALOG_PATH", ".")),
			EventRetentionDays: getenvInt("QUOTA_EVENT_RETENTION_DAYS", 0),
			StoreTimeoutMillis: getenvInt("QUOTA_STORE_TIMEOUT_MS", 2000),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getenvBool("RATE_LIMIT_ENABLED", false),
			UseRate:  getenvFloat("RATE_LIMIT_USE_RATE", 5),
			UseBurst: getenvInt("RATE_LIMIT_USE_BURST", 20),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds:    getenvInt("SCHEDULER_INTERVAL_SECONDS", 3600),
			LockTTLSeconds:     getenvInt("SCHEDULER_LOCK_TTL_SECONDS", 300),
			RetentionBatchSize: getenvInt("SCHEDULER_RETENTION_BATCH_SIZE", 5000),
			PushgatewayURL:     strings.TrimSpace(getenv("SCHEDULER_PUSHGATEWAY_URL", "")),
		},
	}

	return cfg
}

func (c Config) UsesRedisStore() bool {
	return c.Quota.Store == QuotaStoreRedis
}

// RedisRequired reports whether any component needs a Redis connection.
func (c Config) RedisRequired() bool {
	return c.Redis.Enabled || c.UsesRedisStore() || c.RateLimit.Enabled
}

func normalizeQuotaStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case QuotaStoreRedis:
		return QuotaStoreRedis
	default:
		return QuotaStoreGorm
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
