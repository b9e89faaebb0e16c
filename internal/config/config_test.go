package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, "https://nilchain-api.nillion.network", cfg.Chain.RESTURL)
	assert.Equal(t, 6, cfg.Chain.Decimals)
	assert.Equal(t, 30*time.Second, cfg.Chain.RequestTimeout)
	assert.Equal(t, "data/staking_stats.json", cfg.Output.Path)
	assert.Equal(t, []string{"0 0 * * *", "0 12 * * *"}, cfg.Scheduler.Schedules)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, "chore: update staking stats", cfg.Git.CommitMessage)
	assert.Equal(t, []string{"changed", "failed"}, cfg.Notifications.NotifyOn)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
chain:
  rest_url: http://localhost:1317
  retry_delay: 10ms
output:
  path: public/data/staking_stats.json
notifications:
  webhooks:
    - url: http://hooks.local/stats
      headers:
        Authorization: Bearer abc
`)
	t.Setenv("STAKING_STATS_OUTPUT_PATH", "out/stats.json")
	t.Setenv("GIT_TOKEN", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:1317", cfg.Chain.RESTURL)
	assert.Equal(t, 10*time.Millisecond, cfg.Chain.RetryDelay)
	assert.Equal(t, "out/stats.json", cfg.Output.Path)
	assert.Equal(t, "secret", cfg.Git.Token)
	require.Len(t, cfg.Notifications.Webhooks, 1)
	assert.Equal(t, "http://hooks.local/stats", cfg.Notifications.Webhooks[0].URL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load(writeConfig(t, "app:\n  name: x\n"))
		require.NoError(t, err)
		return cfg
	}

	t.Run("invalid schedule", func(t *testing.T) {
		cfg := base(t)
		cfg.Scheduler.Schedules = []string{"every noon"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid schedule")
	})

	t.Run("disabled scheduler skips schedule checks", func(t *testing.T) {
		cfg := base(t)
		cfg.Scheduler.Enabled = false
		cfg.Scheduler.Schedules = nil
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad timezone", func(t *testing.T) {
		cfg := base(t)
		cfg.Scheduler.Timezone = "Mars/Olympus"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unsupported storage", func(t *testing.T) {
		cfg := base(t)
		cfg.Storage.Type = "mongo"
		assert.Error(t, cfg.Validate())
	})

	t.Run("storage none", func(t *testing.T) {
		cfg := base(t)
		cfg.Storage.Type = "none"
		cfg.Storage.ConnectionString = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown notify event", func(t *testing.T) {
		cfg := base(t)
		cfg.Notifications.NotifyOn = []string{"always"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("push without remote", func(t *testing.T) {
		cfg := base(t)
		cfg.Git.Push = true
		cfg.Git.Remote = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing output path", func(t *testing.T) {
		cfg := base(t)
		cfg.Output.Path = ""
		assert.Error(t, cfg.Validate())
	})
}
