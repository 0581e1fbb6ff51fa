package domain

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete rxguard configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository    RepositoryConfig    `json:"repository"`
	Cache         CacheConfig         `json:"cache"`
	EventBus      EventBusConfig      `json:"eventBus"`
	Knowledge     KnowledgeConfig     `json:"knowledge"`
	Collaborators CollaboratorsConfig `json:"collaborators"`
	RateLimit     RateLimitConfig     `json:"rateLimit"`
	Worker        WorkerConfig        `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
	MaxUploadMB  int    `json:"maxUploadMb"`
}

// KnowledgeConfig selects where the knowledge tables come from.
type KnowledgeConfig struct {
	// Dir holds the table files. Empty means the embedded defaults.
	Dir string `json:"dir,omitempty"`

	// ReloadInterval re-reads Dir periodically. Zero disables reloading.
	ReloadInterval time.Duration `json:"reloadInterval"`
}

// CollaboratorsConfig points at the external services rxguard calls.
type CollaboratorsConfig struct {
	NERURL        string        `json:"nerUrl,omitempty"`
	OCRURL        string        `json:"ocrUrl,omitempty"`
	RxNormURL     string        `json:"rxnormUrl"`
	RxNormEnabled bool          `json:"rxnormEnabled"`
	Timeout       time.Duration `json:"timeout"`
	RetryCount    int           `json:"retryCount"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int64   `json:"burst"`
}

// WorkerConfig controls the asynchronous analysis worker.
type WorkerConfig struct {
	Enabled     bool `json:"enabled"`
	WorkerCount int  `json:"workerCount"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultRxNormURL is the public RxNav REST endpoint.
const DefaultRxNormURL = "https://rxnav.nlm.nih.gov/REST"

// DefaultConfig returns a self-contained configuration: SQLite, in-memory
// cache, channel bus and the embedded knowledge tables.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxUploadMB:  10,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./rxguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Collaborators: CollaboratorsConfig{
			RxNormURL:  DefaultRxNormURL,
			Timeout:    10 * time.Second,
			RetryCount: 2,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 100,
		},
		Worker: WorkerConfig{
			WorkerCount: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "rxguard",
		},
	}
}

// LoadConfig reads an optional .env file and overlays RXGUARD_* environment
// variables on DefaultConfig.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.Server.Host = getEnvWithDefault("RXGUARD_HOST", cfg.Server.Host)
	cfg.Server.Port = getIntEnvWithDefault("RXGUARD_PORT", cfg.Server.Port)

	cfg.Repository.Driver = getEnvWithDefault("RXGUARD_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnvWithDefault("RXGUARD_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnvWithDefault("RXGUARD_POSTGRES_HOST", "localhost")
	cfg.Repository.PostgresPort = getIntEnvWithDefault("RXGUARD_POSTGRES_PORT", 5432)
	cfg.Repository.PostgresUser = getEnvWithDefault("RXGUARD_POSTGRES_USER", "")
	cfg.Repository.PostgresPassword = getEnvWithDefault("RXGUARD_POSTGRES_PASSWORD", "")
	cfg.Repository.PostgresDB = getEnvWithDefault("RXGUARD_POSTGRES_DB", "rxguard")
	cfg.Repository.PostgresSSLMode = getEnvWithDefault("RXGUARD_POSTGRES_SSLMODE", "")

	cfg.Cache.Type = getEnvWithDefault("RXGUARD_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnvWithDefault("RXGUARD_REDIS_ADDR", "localhost:6379")
	cfg.Cache.RedisPassword = getEnvWithDefault("RXGUARD_REDIS_PASSWORD", "")
	cfg.Cache.EnableTwoPhase = getBoolEnvWithDefault("RXGUARD_CACHE_TWO_PHASE", cfg.Cache.EnableTwoPhase)

	cfg.EventBus.Type = getEnvWithDefault("RXGUARD_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnvWithDefault("RXGUARD_NATS_URL", "nats://localhost:4222")
	cfg.EventBus.NATSToken = getEnvWithDefault("RXGUARD_NATS_TOKEN", "")
	cfg.EventBus.NATSMaxReconnects = 10
	cfg.EventBus.NATSReconnectWait = 5
	cfg.EventBus.NATSQueue = getEnvWithDefault("RXGUARD_NATS_QUEUE", "rxguard-workers")

	cfg.Knowledge.Dir = getEnvWithDefault("RXGUARD_KNOWLEDGE_DIR", "")
	if v := os.Getenv("RXGUARD_KNOWLEDGE_RELOAD"); v != "" && v != "0" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("RXGUARD_KNOWLEDGE_RELOAD: %w", err)
		}
		cfg.Knowledge.ReloadInterval = d
	}

	cfg.Collaborators.NERURL = getEnvWithDefault("RXGUARD_NER_URL", "")
	cfg.Collaborators.OCRURL = getEnvWithDefault("RXGUARD_OCR_URL", "")
	cfg.Collaborators.RxNormURL = getEnvWithDefault("RXGUARD_RXNORM_URL", cfg.Collaborators.RxNormURL)
	cfg.Collaborators.RxNormEnabled = getBoolEnvWithDefault("RXGUARD_RXNORM_ENABLED", false)

	if v := os.Getenv("RXGUARD_RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("RXGUARD_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = rps
	}
	cfg.RateLimit.Burst = int64(getIntEnvWithDefault("RXGUARD_RATE_LIMIT_BURST", int(cfg.RateLimit.Burst)))

	cfg.Worker.Enabled = getBoolEnvWithDefault("RXGUARD_ASYNC_WORKER", false)

	cfg.Logging.Level = strings.ToLower(getEnvWithDefault("RXGUARD_LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(getEnvWithDefault("RXGUARD_LOG_FORMAT", cfg.Logging.Format))
	cfg.Tracing.Enabled = getBoolEnvWithDefault("RXGUARD_TRACING", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Server.Port))
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %q", c.Repository.Driver))
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type: %q", c.Cache.Type))
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type: %q", c.EventBus.Type))
	}
	if c.RateLimit.RPS <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %v", c.RateLimit.RPS))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("rate limit burst must be positive, got %d", c.RateLimit.Burst))
	}
	if c.Knowledge.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("knowledge reload interval must not be negative"))
	}
	if c.Knowledge.ReloadInterval > 0 && c.Knowledge.Dir == "" {
		errs = append(errs, fmt.Errorf("knowledge reload requires RXGUARD_KNOWLEDGE_DIR"))
	}
	if c.Worker.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("worker count must be positive, got %d", c.Worker.WorkerCount))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level: %q", c.Logging.Level))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvWithDefault gets an environment variable as int with a default value
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
