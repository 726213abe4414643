package config

import "strings"

// Config is the process-level configuration; per-account strategy
// settings live in the accounts file loaded by the loader package.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Verify    VerifyConfig    `yaml:"verify"`
	Backtest  BacktestConfig  `yaml:"backtest"`
}

type AppConfig struct {
	Env          string `yaml:"env"`
	LogLevel     string `yaml:"log_level"`
	HTTPAddr     string `yaml:"http_addr"`
	DBPath       string `yaml:"db_path"`
	AccountsPath string `yaml:"accounts_path"`
}

// ScheduleConfig drives the daily automatic run.
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

// RateLimitConfig tunes the paced caller shared by all broker calls.
type RateLimitConfig struct {
	MinIntervalMS int `yaml:"min_interval_ms"`
	MaxAttempts   int `yaml:"max_attempts"`
	BaseDelayMS   int `yaml:"base_delay_ms"`
	MaxDelayMS    int `yaml:"max_delay_ms"`
}

// VerifyConfig tunes order-fill confirmation polling.
type VerifyConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

type BacktestConfig struct {
	ResultsDir   string  `yaml:"results_dir"`
	DataDir      string  `yaml:"data_dir"`
	StartingCash float64 `yaml:"starting_cash"`
	Fee          float64 `yaml:"fee"`
}

// keySet tracks which field paths the config file set explicitly, so
// defaults never clobber an intentional zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is one field's defaulting rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
