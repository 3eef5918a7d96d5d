package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("WARDEN_ADDR", "")
	t.Setenv("LLM_TIMEOUT", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.CallBus.TokenTTL)
	assert.Nil(t, cfg.Kafka.Brokers)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_ADDR", ":9090")
	t.Setenv("LLM_TIMEOUT", "15s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")
	t.Setenv("DETECTION_POLICY_WATCH", "false")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.False(t, cfg.Detection.WatchPolicy)
}
