package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmbatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "inventory.yaml", cfg.Inventory)
		assert.Equal(t, "interactive", cfg.Confirm)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, 250*time.Millisecond, cfg.Endpoint.StepInterval)
		assert.Equal(t, 500*time.Millisecond, cfg.Watch.ProgressInterval)
		assert.Equal(t, -time.Second, cfg.Wait.Timeout)
		assert.Equal(t, time.Second, cfg.Wait.PollInterval)
		assert.Equal(t, 3, cfg.Invoke.Retry.MaxRetries)
		assert.Equal(t, 200*time.Millisecond, cfg.Invoke.Retry.InitialInterval)
		assert.Equal(t, 10*time.Second, cfg.Invoke.Retry.MaxElapsed)
		assert.Zero(t, cfg.Invoke.RateLimit)
		assert.Equal(t, 1, cfg.Invoke.Burst)
		assert.Equal(t, time.Hour, cfg.Jobs.TTL)
		assert.Equal(t, 5*time.Minute, cfg.Jobs.CleanupInterval)
		assert.Empty(t, cfg.Metrics.Addr)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
inventory: lab.yaml
confirm: force
wait:
  timeout: 30s
invoke:
  rate_limit: 2.5
  retry:
    max_retries: 0
metrics:
  addr: ":9464"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "lab.yaml", cfg.Inventory)
		assert.Equal(t, "force", cfg.Confirm)
		assert.Equal(t, 30*time.Second, cfg.Wait.Timeout)
		assert.Equal(t, time.Second, cfg.Wait.PollInterval)
		assert.Equal(t, 2.5, cfg.Invoke.RateLimit)
		assert.Equal(t, 0, cfg.Invoke.Retry.MaxRetries)
		assert.Equal(t, ":9464", cfg.Metrics.Addr)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "wait:\n  poll_interval: 5s\n")
		t.Setenv("VMBATCH_WAIT__POLL_INTERVAL", "2s")
		t.Setenv("VMBATCH_LOG__LEVEL", "debug")
		t.Setenv("VMBATCH_INVOKE__RETRY__MAX_RETRIES", "5")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Wait.PollInterval)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 5, cfg.Invoke.Retry.MaxRetries)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		for name, content := range map[string]string{
			"confirm policy": "confirm: sometimes\n",
			"log level":      "log:\n  level: loud\n",
			"burst":          "invoke:\n  burst: 0\n",
			"poll interval":  "wait:\n  poll_interval: 0s\n",
			"duration":       "jobs:\n  ttl: soon\n",
		} {
			t.Run(name, func(t *testing.T) {
				_, err := Load(writeConfig(t, content))
				assert.ErrorIs(t, err, core.ErrInvalidArgument)
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, core.ErrObjectNotFound)
	})
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "invoke.retry.max_retries", envKey("VMBATCH_INVOKE__RETRY__MAX_RETRIES"))
	assert.Equal(t, "confirm", envKey("VMBATCH_CONFIRM"))
}
