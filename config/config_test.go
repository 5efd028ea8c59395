package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	// A missing explicit file is an error; loading with discovery is not.
	if err == nil {
		t.Skip("config file unexpectedly found")
	}

	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "weighted", cfg.Routing.Strategy)
	assert.InDelta(t, 1.0, cfg.Routing.Weights.Success+cfg.Routing.Weights.Latency+
		cfg.Routing.Weights.Cost+cfg.Routing.Weights.Health, 0.001)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.OpenTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 50, cfg.Idempotency.MaxPolls)
	assert.Equal(t, 3, cfg.OptimisticLock.MaxRetries)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
retry:
  max_retries: 7
  initial_delay: 250ms
circuit_breaker:
  failure_threshold: 3
idempotency:
  lock_timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 2*time.Second, cfg.Idempotency.LockTimeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("POC_SERVER_PORT", "7070")
	t.Setenv("POC_RETRY_MAX_RETRIES", "9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 9, cfg.Retry.MaxRetries)
}

func TestValidate_BadWeights(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Routing.Weights.Success = 0.9
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1")
}

func TestValidate_BadJitter(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Retry.JitterFactor = 1.5
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jitter_factor")
}
