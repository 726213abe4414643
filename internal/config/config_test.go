package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  env: prod\n"))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9980", cfg.App.HTTPAddr)
	assert.Equal(t, "data/niftyshop.db", cfg.App.DBPath)
	assert.Equal(t, "configs/accounts.yaml", cfg.App.AccountsPath)
	assert.Equal(t, "20 15 * * 1-5", cfg.Schedule.Cron)
	assert.Equal(t, "Asia/Kolkata", cfg.Schedule.Timezone)
	assert.False(t, cfg.Schedule.Enabled)
	assert.Equal(t, 100, cfg.RateLimit.MinIntervalMS)
	assert.Equal(t, 3, cfg.RateLimit.MaxAttempts)
	assert.Equal(t, 3, cfg.Verify.MaxAttempts)
	assert.Equal(t, 5, cfg.Verify.IntervalSeconds)
	assert.Equal(t, "data/backtests", cfg.Backtest.ResultsDir)
	assert.Equal(t, 100000.0, cfg.Backtest.StartingCash)
	assert.Equal(t, 20.0, cfg.Backtest.Fee)
}

func TestLoadKeepsExplicitZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
rate_limit:
  min_interval_ms: 0
backtest:
  fee: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RateLimit.MinIntervalMS, "an explicit zero is not defaulted away")
	assert.Equal(t, 0.0, cfg.Backtest.Fee)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "app:\n  log_level: verbose\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")

	_, err = Load(writeConfig(t, `
schedule:
  enabled: true
  cron: "not a cron"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule.cron")

	_, err = Load(writeConfig(t, "rate_limit:\n  max_attempts: -1\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "verify:\n  interval_seconds: -2\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = Load("  ")
	require.Error(t, err)
}

func TestOptionConverters(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
rate_limit:
  min_interval_ms: 250
  max_attempts: 4
  base_delay_ms: 500
  max_delay_ms: 8000
verify:
  max_attempts: 2
  interval_seconds: 3
`))
	require.NoError(t, err)

	rl := cfg.RateLimitOptions()
	assert.Equal(t, 250*time.Millisecond, rl.MinInterval)
	assert.Equal(t, 4, rl.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, rl.BaseDelay)
	assert.Equal(t, 8*time.Second, rl.MaxDelay)

	vo := cfg.VerifierOptions()
	assert.Equal(t, 2, vo.MaxAttempts)
	assert.Equal(t, 3*time.Second, vo.Interval)
}
