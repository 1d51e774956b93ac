// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// State backends.
const (
	BackendNATS   = "nats"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Orchestration policies.
const (
	PolicySingle     = "single"
	PolicyRoundRobin = "round_robin"
	PolicyManager    = "manager"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ShutdownTimeout    time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSKVBucket string

	// State store
	StateBackend   string
	RedisURL       string
	StateKeyPrefix string

	// JWT settings
	JWTSecret   string
	AuthEnabled bool

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string
	AgentMaxHistory int

	// Orchestration
	OrchestrationMaxRounds int
	OrchestrationDeadline  time.Duration
	OrchestrationPolicy    string

	// Actor hosting
	ActorIdleTTL       time.Duration
	ActorSweepInterval time.Duration
	ActorMailboxSize   int
	IndexTimeout       time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 180*time.Second),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSKVBucket: getEnv("NATS_KV_BUCKET", "conversation_state"),

		// State store
		StateBackend:   getEnv("STATE_BACKEND", BackendNATS),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		StateKeyPrefix: getEnv("STATE_KEY_PREFIX", "state"),

		// JWT
		JWTSecret:   getEnv("JWT_SECRET", "development-secret-change-in-production"),
		AuthEnabled: getBoolEnv("AUTH_ENABLED", true),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		AgentMaxHistory: getIntEnv("AGENT_MAX_HISTORY", 40),

		// Orchestration
		OrchestrationMaxRounds: getIntEnv("ORCHESTRATION_MAX_ROUNDS", 5),
		OrchestrationDeadline:  getDurationEnv("ORCHESTRATION_DEADLINE", 2*time.Minute),
		OrchestrationPolicy:    getEnv("ORCHESTRATION_POLICY", PolicyManager),

		// Actor hosting
		ActorIdleTTL:       getDurationEnv("ACTOR_IDLE_TTL", 30*time.Minute),
		ActorSweepInterval: getDurationEnv("ACTOR_SWEEP_INTERVAL", time.Minute),
		ActorMailboxSize:   getIntEnv("ACTOR_MAILBOX_SIZE", 16),
		IndexTimeout:       getDurationEnv("INDEX_TIMEOUT", 30*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports invalid settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.StateBackend {
	case BackendNATS, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend))
	}
	if c.StateBackend == BackendRedis && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
	}

	switch c.OrchestrationPolicy {
	case PolicySingle, PolicyRoundRobin, PolicyManager:
	default:
		errs = append(errs, fmt.Errorf("unknown ORCHESTRATION_POLICY %q", c.OrchestrationPolicy))
	}

	for _, limit := range []struct {
		name  string
		value int64
	}{
		{"ORCHESTRATION_MAX_ROUNDS", int64(c.OrchestrationMaxRounds)},
		{"ORCHESTRATION_DEADLINE", int64(c.OrchestrationDeadline)},
		{"ACTOR_IDLE_TTL", int64(c.ActorIdleTTL)},
		{"ACTOR_MAILBOX_SIZE", int64(c.ActorMailboxSize)},
		{"INDEX_TIMEOUT", int64(c.IndexTimeout)},
		{"AGENT_MAX_HISTORY", int64(c.AgentMaxHistory)},
	} {
		if limit.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", limit.name))
		}
	}
	if c.ActorSweepInterval < 0 {
		errs = append(errs, errors.New("ACTOR_SWEEP_INTERVAL must not be negative"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
