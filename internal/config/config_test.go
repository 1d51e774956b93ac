package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, BackendNATS, cfg.StateBackend)
	assert.Equal(t, "conversation_state", cfg.NATSKVBucket)
	assert.Equal(t, 5, cfg.OrchestrationMaxRounds)
	assert.Equal(t, 2*time.Minute, cfg.OrchestrationDeadline)
	assert.Equal(t, PolicyManager, cfg.OrchestrationPolicy)
	assert.Equal(t, 30*time.Minute, cfg.ActorIdleTTL)
	assert.Equal(t, 16, cfg.ActorMailboxSize)
	assert.Equal(t, 40, cfg.AgentMaxHistory)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STATE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("ORCHESTRATION_MAX_ROUNDS", "3")
	t.Setenv("ORCHESTRATION_DEADLINE", "45s")
	t.Setenv("ORCHESTRATION_POLICY", "round_robin")
	t.Setenv("ACTOR_IDLE_TTL", "5m")
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("ACTOR_MAILBOX_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, BackendRedis, cfg.StateBackend)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 3, cfg.OrchestrationMaxRounds)
	assert.Equal(t, 45*time.Second, cfg.OrchestrationDeadline)
	assert.Equal(t, PolicyRoundRobin, cfg.OrchestrationPolicy)
	assert.Equal(t, 5*time.Minute, cfg.ActorIdleTTL)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, 16, cfg.ActorMailboxSize, "unparseable values keep the default")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.StateBackend = "dynamo"
	cfg.OrchestrationPolicy = "swarm"
	cfg.OrchestrationMaxRounds = 0
	cfg.IndexTimeout = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown STATE_BACKEND "dynamo"`)
	assert.Contains(t, err.Error(), `unknown ORCHESTRATION_POLICY "swarm"`)
	assert.Contains(t, err.Error(), "ORCHESTRATION_MAX_ROUNDS must be positive")
	assert.Contains(t, err.Error(), "INDEX_TIMEOUT must be positive")
}

func TestValidate_RedisRequiresURL(t *testing.T) {
	cfg := Load()
	cfg.StateBackend = BackendRedis
	cfg.RedisURL = ""

	assert.Error(t, cfg.Validate())
}
