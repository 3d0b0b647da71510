package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.Server.AdminPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 100, cfg.Redis.PoolSize)
	assert.Equal(t, 10, cfg.Redis.MinIdleConns)
	assert.Equal(t, 3, cfg.Redis.MaxRetries)

	assert.Equal(t, "", cfg.Worker.ID)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Worker.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)

	assert.Equal(t, 5*time.Minute, cfg.Queue.LeaseTTL)
	assert.Equal(t, 5*time.Second, cfg.Queue.BlockTimeout)
	assert.Equal(t, 10*time.Second, cfg.Queue.RecoveryInterval)
	assert.Equal(t, int64(1000000), cfg.Queue.MaxQueueSize)
	assert.Equal(t, 1000, cfg.Queue.RateLimitRPS)

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout)

	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)

	assert.Equal(t, 1*time.Hour, cfg.DLQ.PurgeInterval)
	assert.Equal(t, 168, cfg.DLQ.RetentionHours)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.Equal(t, "redis", cfg.Backend)
	assert.ElementsMatch(t, []string{"text_processing", "ai_summarization", "batch_processing", "image_processing"}, cfg.TaskKinds)

	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

redis:
  addr: "custom-redis:6380"
  password: "secret"
  db: 1

worker:
  id: "test-worker"
  concurrency: 5

backend: memory

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "custom-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "test-worker", cfg.Worker.ID)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestBreakerConfig_Fields(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second}
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.RecoveryTimeout)
}

func TestQueueConfig_Fields(t *testing.T) {
	cfg := QueueConfig{
		LeaseTTL:         time.Minute,
		BlockTimeout:     5 * time.Second,
		RecoveryInterval: 10 * time.Second,
		MaxQueueSize:     100000,
		RateLimitRPS:     500,
	}
	assert.Equal(t, time.Minute, cfg.LeaseTTL)
	assert.Equal(t, int64(100000), cfg.MaxQueueSize)
	assert.Equal(t, 500, cfg.RateLimitRPS)
}
