package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBootstrap_Defaults(t *testing.T) {
	bc, err := NewBootstrap("")
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify server defaults
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 30*time.Second, bc.Server.Http.Timeout.AsDuration())

	// Redis and MySQL are optional
	assert.Equal(t, "", bc.Data.Redis.Addr)
	assert.Equal(t, "", bc.Data.Database.Source)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout.AsDuration())

	// Resilience defaults
	assert.Equal(t, "fusegate:rl", bc.Resilience.KeyPrefix)
	assert.True(t, bc.Resilience.FallbackToMemory)
	assert.Equal(t, 10000, bc.Resilience.MaxTrackedKeys)
	assert.Equal(t, 60, bc.Resilience.DefaultLimit.Requests)
	assert.Equal(t, time.Minute, bc.Resilience.DefaultLimit.Window.AsDuration())
	assert.Equal(t, 1, bc.Resilience.DefaultLimit.Weight)
	assert.Empty(t, bc.Resilience.Actions)
	assert.Empty(t, bc.Resilience.Services)

	// Log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :9090
data:
  redis:
    addr: 127.0.0.1:6379
resilience:
  key_prefix: "rl:test"
  fallback_to_memory: false
  default_limit:
    requests: 100
    window: 30s
  actions:
    upload:
      requests: 20
      window: 1m
      weight: 5
    auth:
      requests: 10
      window: 1m
  services:
    azure-speech:
      failure_threshold: 5
      recovery_timeout: 30s
      fallback_enabled: false
log:
  level: debug
  format: console
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9090", bc.Server.Http.Addr)
	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, "rl:test", bc.Resilience.KeyPrefix)
	assert.False(t, bc.Resilience.FallbackToMemory)
	assert.Equal(t, 100, bc.Resilience.DefaultLimit.Requests)
	assert.Equal(t, 30*time.Second, bc.Resilience.DefaultLimit.Window.AsDuration())

	require.Contains(t, bc.Resilience.Actions, "upload")
	assert.Equal(t, 20, bc.Resilience.Actions["upload"].Requests)
	assert.Equal(t, time.Minute, bc.Resilience.Actions["upload"].Window.AsDuration())
	assert.Equal(t, 5, bc.Resilience.Actions["upload"].Weight)
	require.Contains(t, bc.Resilience.Actions, "auth")
	assert.Equal(t, 10, bc.Resilience.Actions["auth"].Requests)

	require.Contains(t, bc.Resilience.Services, "azure-speech")
	svc := bc.Resilience.Services["azure-speech"]
	assert.Equal(t, 5, svc.FailureThreshold)
	assert.Equal(t, 30*time.Second, svc.RecoveryTimeout.AsDuration())
	require.NotNil(t, svc.FallbackEnabled)
	assert.False(t, *svc.FallbackEnabled)

	assert.Equal(t, "debug", bc.Log.Level)
	assert.Equal(t, "console", bc.Log.Format)
}

func TestNewBootstrap_EnvOverride(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("FUSEGATE_LOG_LEVEL", "warn")

	bc, err := NewBootstrap("")
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", bc.Data.Redis.Addr)
	assert.Equal(t, "warn", bc.Log.Level)
}

func TestNewBootstrap_MissingFile(t *testing.T) {
	_, err := NewBootstrap("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate_BadDefaults(t *testing.T) {
	bc := &Bootstrap{
		Resilience: &Resilience{
			KeyPrefix: "",
		},
	}
	err := Validate(bc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_prefix")
}
