// Package config loads process configuration the way the teacher
// orchestrator does: a .env file (best-effort) layered under
// environment variables, bundled into one immutable value handed to
// the Orchestrator at construction (spec §9, "Global configuration").
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config bundles every knob listed in spec.md §6, plus ambient
// service settings (HTTP port, Redis address, log level).
type Config struct {
	Port        int
	Environment string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MaxReplans            int
	MaxRetriesPerStep     int
	TopKInitial           int
	TopKIterative         int
	RetrieveTimeout       time.Duration
	SynthesizeTimeout     time.Duration
	BackendTimeout        time.Duration
	VerifyTimeout         time.Duration
	VerifyPoll            time.Duration
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	AuditRetry            int
	MemoryRecallLimit     int
	MemoryTTLDays         int
	MemoryRetryThreshold  int
	MemoryReplanThreshold int
	WorkerPoolSize        int
	ExecuteReal           bool
	SynthesizeLive        bool
	ApprovalCostThreshold float64

	EnvBudgets map[string]float64

	AuditBufferSize int
}

// Load reads configuration from a .env file (if present) and the
// process environment, applying spec.md §6's defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        envInt("ORCHESTRATOR_PORT", 8080),
		Environment: envString("ENVIRONMENT", "development"),
		LogLevel:    envString("LOG_LEVEL", "info"),

		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		MaxReplans:            envInt("MAX_REPLANS", 3),
		MaxRetriesPerStep:     envInt("MAX_RETRIES_PER_STEP", 3),
		TopKInitial:           envInt("TOP_K_INITIAL", 3),
		TopKIterative:         envInt("TOP_K_ITERATIVE", 2),
		RetrieveTimeout:       envDuration("RETRIEVE_TIMEOUT", 10*time.Second),
		SynthesizeTimeout:     envDuration("SYNTHESIZE_TIMEOUT", 30*time.Second),
		BackendTimeout:        envDuration("BACKEND_TIMEOUT", 60*time.Second),
		VerifyTimeout:         envDuration("VERIFY_TIMEOUT", 15*time.Minute),
		VerifyPoll:            envDuration("VERIFY_POLL", 15*time.Second),
		BackoffBase:           envDuration("BACKOFF_BASE", 500*time.Millisecond),
		BackoffMax:            envDuration("BACKOFF_MAX", 30*time.Second),
		AuditRetry:            envInt("AUDIT_RETRY", 5),
		MemoryRecallLimit:     envInt("MEMORY_RECALL_LIMIT", 5),
		MemoryTTLDays:         envInt("MEMORY_TTL_DAYS", 90),
		MemoryRetryThreshold:  envInt("MEMORY_RETRY_THRESHOLD", 2),
		MemoryReplanThreshold: envInt("MEMORY_REPLAN_THRESHOLD", 2),
		WorkerPoolSize:        envInt("WORKER_POOL_SIZE", runtime.NumCPU()),
		ExecuteReal:           envBool("EXECUTE_REAL", false),
		SynthesizeLive:        envBool("SYNTHESIZE_LIVE", false),
		ApprovalCostThreshold: envFloat("APPROVAL_COST_THRESHOLD", 20.0),

		EnvBudgets: map[string]float64{
			"dev":     envFloat("BUDGET_DEV", 2.0),
			"staging": envFloat("BUDGET_STAGING", 15.0),
			"prod":    envFloat("BUDGET_PROD", 50.0),
		},

		AuditBufferSize: envInt("AUDIT_BUFFER_SIZE", 1024),
	}

	return cfg, nil
}

// VerifyMaxRetries translates the VERIFY_TIMEOUT/VERIFY_POLL knobs into
// the attempt budget MonitorAgent enforces for verify_deployment,
// since the step loop's retry counter is attempt-based, not time-based.
func (c *Config) VerifyMaxRetries() int {
	if c.VerifyPoll <= 0 {
		return c.MaxRetriesPerStep
	}
	n := int(c.VerifyTimeout / c.VerifyPoll)
	if n < 1 {
		n = 1
	}
	return n
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
