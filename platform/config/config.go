// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetOperatorToken() string
	GetRateLimitRPS() float64
	GetRateLimitBurst() int
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// LockConfig provides settings for the per-lead delivery lock.
type LockConfig interface {
	GetRedisURL() string
	GetLockTTL() time.Duration
	GetLockWait() time.Duration
}

// DeliveryConfig provides settings for the outbound delivery gateway.
type DeliveryConfig interface {
	GetDeliveryURL() string
	GetDeliveryAPIKey() string
	GetDeliveryDeviceID() string
	GetDeliveryTimeout() time.Duration
}

// FollowupConfig provides settings for the follow-up engine.
type FollowupConfig interface {
	GetTemplatesPath() string
	GetMarkerSkew() time.Duration
}

// RetentionConfig provides settings for the ledger retention sweep.
type RetentionConfig interface {
	GetRetentionInterval() time.Duration
	GetTaskRetention() time.Duration
	GetJobRetention() time.Duration
}

// Config holds all application configuration loaded from the environment.
type Config struct {
	Env string

	HTTPAddr      string
	CORSAllowAll  bool
	CORSOrigins   []string
	OperatorToken string

	RateLimitRPS   float64
	RateLimitBurst int

	DatabaseURL string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	LockTTL  time.Duration
	LockWait time.Duration

	DeliveryURL      string
	DeliveryAPIKey   string
	DeliveryDeviceID string
	DeliveryTimeout  time.Duration

	TemplatesPath string
	MarkerSkew    time.Duration

	RetentionInterval time.Duration
	TaskRetention     time.Duration
	JobRetention      time.Duration
}

// Load reads configuration from the environment, with .env support for
// local development.
func Load() (*Config, error) {
	// Ignore error: .env is optional in deployed environments.
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		CORSAllowAll:  getBoolEnv("CORS_ALLOW_ALL", false),
		CORSOrigins:   getListEnv("CORS_ORIGINS"),
		OperatorToken: os.Getenv("OPERATOR_TOKEN"),

		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure: getBoolEnv("REDIS_TLS_INSECURE", false),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "followups"),
		AsynqConcurrency: getIntEnv("ASYNQ_CONCURRENCY", 10),

		LockTTL:  getDurationEnv("DELIVERY_LOCK_TTL", 60*time.Second),
		LockWait: getDurationEnv("DELIVERY_LOCK_WAIT", 5*time.Second),

		DeliveryURL:      os.Getenv("DELIVERY_GATEWAY_URL"),
		DeliveryAPIKey:   os.Getenv("DELIVERY_GATEWAY_KEY"),
		DeliveryDeviceID: os.Getenv("DELIVERY_GATEWAY_DEVICE_ID"),
		DeliveryTimeout:  getDurationEnv("DELIVERY_GATEWAY_TIMEOUT", 8*time.Second),

		TemplatesPath: getEnv("FOLLOWUP_TEMPLATES_PATH", "followup_templates.yaml"),
		MarkerSkew:    getDurationEnv("FOLLOWUP_MARKER_SKEW", 0),

		RetentionInterval: getDurationEnv("RETENTION_SWEEP_INTERVAL", time.Hour),
		TaskRetention:     getDurationEnv("TASK_RETENTION", 30*24*time.Hour),
		JobRetention:      getDurationEnv("JOB_RETENTION", 90*24*time.Hour),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// =============================================================================
// Interface implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string      { return c.DatabaseURL }
func (c *Config) GetHTTPAddr() string         { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool       { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string    { return c.CORSOrigins }
func (c *Config) GetOperatorToken() string    { return c.OperatorToken }
func (c *Config) GetRateLimitRPS() float64    { return c.RateLimitRPS }
func (c *Config) GetRateLimitBurst() int      { return c.RateLimitBurst }
func (c *Config) GetRedisURL() string         { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool   { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string   { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int    { return c.AsynqConcurrency }
func (c *Config) GetLockTTL() time.Duration   { return c.LockTTL }
func (c *Config) GetLockWait() time.Duration  { return c.LockWait }
func (c *Config) GetDeliveryURL() string      { return c.DeliveryURL }
func (c *Config) GetDeliveryAPIKey() string   { return c.DeliveryAPIKey }
func (c *Config) GetDeliveryDeviceID() string { return c.DeliveryDeviceID }

func (c *Config) GetDeliveryTimeout() time.Duration   { return c.DeliveryTimeout }
func (c *Config) GetTemplatesPath() string            { return c.TemplatesPath }
func (c *Config) GetMarkerSkew() time.Duration        { return c.MarkerSkew }
func (c *Config) GetRetentionInterval() time.Duration { return c.RetentionInterval }
func (c *Config) GetTaskRetention() time.Duration     { return c.TaskRetention }
func (c *Config) GetJobRetention() time.Duration      { return c.JobRetention }

// =============================================================================
// Env helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
