package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the middleware.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Enrichment EnrichmentConfig
	Identity   IdentityConfig
	AbuseAPI   AbuseAPIConfig
	Pipeline   PipelineConfig
	Queues     QueueConfig
}

// AppConfig controls the ops HTTP surface.
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

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines the shared secret used to verify service tokens on /v1 routes.
type AuthConfig struct {
	ServiceTokenSecret string
}

// EnrichmentConfig points at the record-enrichment service and its SSO issuer.
type EnrichmentConfig struct {
	BaseURL        string
	SSOURL         string
	ClientCertPath string
	ClientKeyPath  string
}

// IdentityConfig points at the shopper/customer identity service.
type IdentityConfig struct {
	BaseURL        string
	ClientCertPath string
	ClientKeyPath  string
}

// AbuseAPIConfig holds the upstream abuse API used to close tickets.
type AbuseAPIConfig struct {
	TicketsURL  string
	SSOURL      string
	SSOUser     string
	SSOPassword string
}

// PipelineConfig holds enrichment retry and task policy.
type PipelineConfig struct {
	TaskTimeLimit            time.Duration
	EnrichmentMaxRetries     int
	EnrichmentRetryDelay     time.Duration
	EnrichmentAttemptTimeout time.Duration
	DNSTimeout               time.Duration
	EnrichOnSubdomain        map[string]struct{}
	RegisteredOnlyProducts   map[string]struct{}
	WorkerConcurrency        int
	MaxRedeliveries          int
	RedeliveryDelay          time.Duration
}

// QueueConfig names the intake queue and the downstream destinations.
type QueueConfig struct {
	Intake         string
	GoDaddyBrand   string
	EMEABrand      string
	ExternalReport string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "dcu-middleware"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
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
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			ServiceTokenSecret: getEnv("SERVICE_TOKEN_SECRET", "dev-secret"),
		},
		Enrichment: EnrichmentConfig{
			BaseURL:        getEnv("SERVICE_URL", "http://localhost:5000"),
			SSOURL:         getEnv("SSO_URL", "https://sso.dev-gdcorp.tools"),
			ClientCertPath: os.Getenv("CMAP_CLIENT_CERT"),
			ClientKeyPath:  os.Getenv("CMAP_CLIENT_KEY"),
		},
		Identity: IdentityConfig{
			BaseURL:        getEnv("SHOPPER_API_URL", "http://localhost:5001"),
			ClientCertPath: os.Getenv("SHOPPER_API_CERT_PATH"),
			ClientKeyPath:  os.Getenv("SHOPPER_API_KEY_PATH"),
		},
		AbuseAPI: AbuseAPIConfig{
			TicketsURL:  getEnv("ABUSE_API_URL", "https://abuse.api.int.dev-godaddy.com/v1/abuse/tickets"),
			SSOURL:      getEnv("SSO_URL", "https://sso.dev-gdcorp.tools"),
			SSOUser:     getEnv("SSO_USER", "user"),
			SSOPassword: getEnv("SSO_PASSWORD", "password"),
		},
		Pipeline: PipelineConfig{
			TaskTimeLimit:            getEnvAsDuration("TASK_TIME_LIMIT", 180*time.Second),
			EnrichmentMaxRetries:     getEnvAsInt("ENRICHMENT_MAX_RETRIES", 2),
			EnrichmentRetryDelay:     getEnvAsDuration("ENRICHMENT_RETRY_DELAY", time.Second),
			EnrichmentAttemptTimeout: getEnvAsDuration("ENRICHMENT_ATTEMPT_TIMEOUT", 30*time.Second),
			DNSTimeout:               getEnvAsDuration("DNS_TIMEOUT", 2*time.Second),
			EnrichOnSubdomain:        getEnvAsSet("ENRICH_ON_SUBDOMAIN", "godaddysites.com,go.studio,secureserversites.net"),
			RegisteredOnlyProducts:   getEnvAsSet("REGISTERED_ONLY_PRODUCTS", "Shortener,Parked,EOL,GEM"),
			WorkerConcurrency:        getEnvAsInt("WORKER_CONCURRENCY", 4),
			MaxRedeliveries:          getEnvAsInt("TASK_MAX_REDELIVERIES", 5),
			RedeliveryDelay:          getEnvAsDuration("TASK_REDELIVERY_DELAY", 30*time.Second),
		},
		Queues: QueueConfig{
			Intake:         getEnv("API_QUEUE", "devdcumiddleware"),
			GoDaddyBrand:   getEnv("GD_BRAND_QUEUE", "devgdbrandservice"),
			EMEABrand:      getEnv("EMEA_BRAND_QUEUE", "devemeabrandservice"),
			ExternalReport: getEnv("EXTERNAL_REPORT_QUEUE", "devrouting"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. The per-attempt enrichment timeout is
// clamped so a single attempt can never outlive the task deadline.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Queues.Intake) == "" {
		return errors.New("API_QUEUE must not be empty")
	}
	if c.Pipeline.EnrichmentMaxRetries < 0 {
		return fmt.Errorf("ENRICHMENT_MAX_RETRIES must be >= 0, got %d", c.Pipeline.EnrichmentMaxRetries)
	}
	if c.Pipeline.WorkerConcurrency <= 0 {
		c.Pipeline.WorkerConcurrency = 1
	}
	limit := c.Pipeline.TaskTimeLimit
	if limit > 0 && (c.Pipeline.EnrichmentAttemptTimeout <= 0 || c.Pipeline.EnrichmentAttemptTimeout >= limit) {
		c.Pipeline.EnrichmentAttemptTimeout = limit / 2
	}
	return nil
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
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsSet splits a comma separated value into a set, dropping blanks.
func getEnvAsSet(key, fallback string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, item := range strings.Split(getEnv(key, fallback), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		set[item] = struct{}{}
	}
	return set
}
