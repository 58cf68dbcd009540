package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	PubSub   PubSubConfig
	Stream   StreamConfig
	Logger   LoggerConfig
	Auth     AuthConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values shared by the cache and pub/sub clients.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PubSubConfig tunes the publish port and the subscription bridge.
type PubSubConfig struct {
	ListenerBuffer      int
	PublishTimeout      time.Duration
	SubscribeWait       time.Duration
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	BackoffFactor       float64
	HealthCheckInterval time.Duration
}

// StreamConfig tunes websocket streams.
type StreamConfig struct {
	AuthTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Encoding    string
	Development bool
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	BcryptCost             int
	DefaultTokenMinutes    int
	TicketSecret           string
	TicketTTL              time.Duration
	SessionCacheTTL        time.Duration
	LastAccessWriteTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	backoffFactor, err := strconv.ParseFloat(getEnv("PUBSUB_BACKOFF_FACTOR", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PUBSUB_BACKOFF_FACTOR: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "channel-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           redisDB,
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		PubSub: PubSubConfig{
			ListenerBuffer:      getEnvAsInt("PUBSUB_LISTENER_BUFFER", 128),
			PublishTimeout:      getEnvAsDuration("PUBSUB_PUBLISH_TIMEOUT", 2*time.Second),
			SubscribeWait:       getEnvAsDuration("PUBSUB_SUBSCRIBE_WAIT", 5*time.Second),
			BackoffBase:         getEnvAsDuration("PUBSUB_BACKOFF_BASE", 100*time.Millisecond),
			BackoffMax:          getEnvAsDuration("PUBSUB_BACKOFF_MAX", 30*time.Second),
			BackoffFactor:       backoffFactor,
			HealthCheckInterval: getEnvAsDuration("PUBSUB_HEALTH_CHECK_INTERVAL", 15*time.Second),
		},
		Stream: StreamConfig{
			AuthTimeout:  getEnvAsDuration("STREAM_AUTH_TIMEOUT", 10*time.Second),
			PingInterval: getEnvAsDuration("STREAM_PING_INTERVAL", 30*time.Second),
			WriteTimeout: getEnvAsDuration("STREAM_WRITE_TIMEOUT", 10*time.Second),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Encoding:    getEnv("LOG_ENCODING", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Auth: AuthConfig{
			BcryptCost:             getEnvAsInt("AUTH_BCRYPT_COST", 12),
			DefaultTokenMinutes:    getEnvAsInt("AUTH_DEFAULT_TOKEN_MINUTES", 60),
			TicketSecret:           getEnv("AUTH_TICKET_SECRET", "dev-secret"),
			TicketTTL:              getEnvAsDuration("AUTH_TICKET_TTL", time.Minute),
			SessionCacheTTL:        getEnvAsDuration("AUTH_SESSION_CACHE_TTL", 5*time.Minute),
			LastAccessWriteTimeout: getEnvAsDuration("AUTH_LAST_ACCESS_WRITE_TIMEOUT", 5*time.Second),
		},
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

// getEnvAsDuration accepts Go duration strings ("250ms", "30s").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
