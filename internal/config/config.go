package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the kiosk agent.
type Config struct {
	App      AppConfig
	API      APIConfig
	Session  SessionConfig
	CSRF     CSRFConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Logger   LoggerConfig
}

// AppConfig controls the local agent surface.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// APIConfig locates the remote API endpoints.
type APIConfig struct {
	PointURL            string
	StreamURL           string
	CSRFURL             string
	UploadURL           string
	RequestTimeout      time.Duration
	SlowCallThreshold   time.Duration
	StreamMaxBackoff    time.Duration
	NotificationHistory int
}

// SessionConfig defines idle-session behavior.
type SessionConfig struct {
	IdleTimeout   time.Duration
	WarnBefore    time.Duration
	LoginPath     string
	CheckInterval time.Duration
}

// CSRFConfig defines anti-forgery refresh behavior.
type CSRFConfig struct {
	RefreshMargin   time.Duration
	CheckInterval   time.Duration
	DefaultLifetime time.Duration
}

// StorageConfig selects where session-scoped state lives.
type StorageConfig struct {
	Driver     string
	SessionID  string
	SessionTTL time.Duration
	SealKey    string
	Legacy     bool
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// PostgresConfig holds the legacy storage connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Encoding string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	apiBase := getEnv("API_BASE_URL", "http://127.0.0.1:4000")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "sorting-kiosk-agent"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "127.0.0.1"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		API: APIConfig{
			PointURL:            getEnv("API_POINT_URL", apiBase+"/graphql"),
			StreamURL:           getEnv("API_STREAM_URL", "ws://127.0.0.1:4000/graphql"),
			CSRFURL:             getEnv("API_CSRF_URL", apiBase+"/csrf-token"),
			UploadURL:           getEnv("API_UPLOAD_URL", apiBase+"/upload"),
			RequestTimeout:      getEnvAsDuration("API_REQUEST_TIMEOUT", 30*time.Second),
			SlowCallThreshold:   getEnvAsDuration("API_SLOW_CALL_THRESHOLD", 3*time.Second),
			StreamMaxBackoff:    getEnvAsDuration("API_STREAM_MAX_BACKOFF", 30*time.Second),
			NotificationHistory: getEnvAsInt("NOTIFICATION_HISTORY", 50),
		},
		Session: SessionConfig{
			IdleTimeout:   getEnvAsDuration("SESSION_IDLE_TIMEOUT", 15*time.Minute),
			WarnBefore:    getEnvAsDuration("SESSION_WARN_BEFORE", 2*time.Minute),
			LoginPath:     getEnv("SESSION_LOGIN_PATH", "/login"),
			CheckInterval: getEnvAsDuration("SESSION_CHECK_INTERVAL", time.Minute),
		},
		CSRF: CSRFConfig{
			RefreshMargin:   getEnvAsDuration("CSRF_REFRESH_MARGIN", 5*time.Minute),
			CheckInterval:   getEnvAsDuration("CSRF_CHECK_INTERVAL", time.Minute),
			DefaultLifetime: getEnvAsDuration("CSRF_DEFAULT_LIFETIME", time.Hour),
		},
		Storage: StorageConfig{
			Driver:     getEnv("STORAGE_DRIVER", "memory"),
			SessionID:  os.Getenv("STORAGE_SESSION_ID"),
			SessionTTL: getEnvAsDuration("STORAGE_SESSION_TTL", 12*time.Hour),
			SealKey:    os.Getenv("STORAGE_SEAL_KEY"),
			Legacy:     getEnvAsBool("STORAGE_LEGACY_MIGRATION", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			Prefix:   getEnv("REDIS_PREFIX", "kiosk"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 4)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 1)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
	}

	if cfg.Session.WarnBefore >= cfg.Session.IdleTimeout {
		return nil, fmt.Errorf("SESSION_WARN_BEFORE (%s) must be shorter than SESSION_IDLE_TIMEOUT (%s)",
			cfg.Session.WarnBefore, cfg.Session.IdleTimeout)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
