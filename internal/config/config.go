package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/benvon/smart-tagger/internal/validation"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendSidecar  = "sidecar"
	BackendPostgres = "postgres"
)

// ConfigFileEnv names the optional YAML file read before the environment
const ConfigFileEnv = "TAGGER_CONFIG"

// Config holds application configuration
type Config struct {
	StorageBackend   string        `yaml:"storage_backend" validate:"oneof=sidecar postgres"`
	ProjectPath      string        `yaml:"project_path"`
	DatabaseURL      string        `yaml:"database_url" validate:"required_if=StorageBackend postgres"`
	ServerPort       string        `yaml:"server_port" validate:"required,numeric"`
	FrontendURL      string        `yaml:"frontend_url" validate:"omitempty,url"`
	EnableHSTS       bool          `yaml:"enable_hsts"`
	RedisURL         string        `yaml:"redis_url"`
	RabbitMQURL      string        `yaml:"rabbitmq_url"`
	RabbitMQPrefetch int           `yaml:"rabbitmq_prefetch" validate:"min=1"`
	SyncPoolSize     int           `yaml:"sync_pool_size" validate:"min=1,max=64"`
	SyncSettleDelay  time.Duration `yaml:"sync_settle_delay" validate:"gte=0s"`
	SyncUnitTimeout  time.Duration `yaml:"sync_unit_timeout" validate:"gt=0s"`
	StorageRateLimit string        `yaml:"storage_rate_limit" validate:"omitempty,rate_format"`
	CacheTTL         time.Duration `yaml:"cache_ttl" validate:"gte=0s"`
	DLQInterval      time.Duration `yaml:"dlq_gc_interval" validate:"gt=0s"`
	DLQRetention     time.Duration `yaml:"dlq_retention" validate:"gt=0s"`
	WorkerDebugMode  bool          `yaml:"worker_debug_mode"`
	ServerDebugMode  bool          `yaml:"server_debug_mode"`
	OTELEnabled      bool          `yaml:"otel_enabled"`
	OTELEndpoint     string        `yaml:"otel_endpoint"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		StorageBackend:   BackendSidecar,
		ServerPort:       "8080",
		FrontendURL:      "http://localhost:3000",
		RabbitMQPrefetch: 1,
		SyncPoolSize:     6,
		SyncSettleDelay:  750 * time.Millisecond,
		SyncUnitTimeout:  30 * time.Second,
		StorageRateLimit: "50-S",
		CacheTTL:         10 * time.Minute,
		DLQInterval:      time.Hour,
		DLQRetention:     24 * time.Hour,
	}
}

// Load loads configuration from the optional YAML file named by
// TAGGER_CONFIG, then environment variables on top of it
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	if path := getenv(ConfigFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	e := env(getenv)
	cfg.StorageBackend = e.getEnv("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.ProjectPath = e.getEnv("PROJECT_PATH", cfg.ProjectPath)
	cfg.DatabaseURL = e.getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ServerPort = e.getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.FrontendURL = e.getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.EnableHSTS = e.getEnvBool("ENABLE_HSTS", cfg.EnableHSTS)
	cfg.RedisURL = e.getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RabbitMQURL = e.getEnv("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.RabbitMQPrefetch = e.getEnvInt("RABBITMQ_PREFETCH", cfg.RabbitMQPrefetch)
	cfg.SyncPoolSize = e.getEnvInt("SYNC_POOL_SIZE", cfg.SyncPoolSize)
	cfg.SyncSettleDelay = e.getEnvDuration("SYNC_SETTLE_DELAY", cfg.SyncSettleDelay)
	cfg.SyncUnitTimeout = e.getEnvDuration("SYNC_UNIT_TIMEOUT", cfg.SyncUnitTimeout)
	cfg.StorageRateLimit = e.getEnv("STORAGE_RATE_LIMIT", cfg.StorageRateLimit)
	cfg.CacheTTL = e.getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.DLQInterval = e.getEnvDuration("DLQ_GC_INTERVAL", cfg.DLQInterval)
	cfg.DLQRetention = e.getEnvDuration("DLQ_RETENTION", cfg.DLQRetention)
	cfg.WorkerDebugMode = e.getEnvBool("WORKER_DEBUG_MODE", cfg.WorkerDebugMode)
	cfg.ServerDebugMode = e.getEnvBool("SERVER_DEBUG_MODE", cfg.ServerDebugMode)
	cfg.OTELEnabled = e.getEnvBool("OTEL_ENABLED", cfg.OTELEnabled)
	cfg.OTELEndpoint = e.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)

	if err := validation.Validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %s", validation.ErrorMessage(err))
	}

	return cfg, nil
}

// env reads variables through a lookup so tests need not touch the process environment
type env func(string) string

func (e env) getEnv(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e env) getEnvBool(key string, defaultValue bool) bool {
	if value := e(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func (e env) getEnvInt(key string, defaultValue int) int {
	if value := e(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (e env) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := e(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
