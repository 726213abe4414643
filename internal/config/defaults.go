package config

import "strings"

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9980"
	defaultAppDBPath       = "data/niftyshop.db"
	defaultAccountsPath    = "configs/accounts.yaml"
	defaultScheduleCron    = "20 15 * * 1-5"
	defaultScheduleTZ      = "Asia/Kolkata"
	defaultMinIntervalMS   = 100
	defaultRetryAttempts   = 3
	defaultBaseDelayMS     = 1000
	defaultMaxDelayMS      = 60000
	defaultVerifyAttempts  = 3
	defaultVerifyInterval  = 5
	defaultBacktestResults = "data/backtests"
	defaultBacktestCash    = 100000.0
	defaultBacktestFee     = 20.0
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
	c.RateLimit.applyDefaults(keys)
	c.Verify.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.db_path", &a.DBPath, defaultAppDBPath),
		stringFieldDefault("app.accounts_path", &a.AccountsPath, defaultAccountsPath),
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("schedule.cron", &s.Cron, defaultScheduleCron),
		stringFieldDefault("schedule.timezone", &s.Timezone, defaultScheduleTZ),
	)
}

func (r *RateLimitConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("rate_limit.min_interval_ms", &r.MinIntervalMS, defaultMinIntervalMS),
		intFieldDefault("rate_limit.max_attempts", &r.MaxAttempts, defaultRetryAttempts),
		intFieldDefault("rate_limit.base_delay_ms", &r.BaseDelayMS, defaultBaseDelayMS),
		intFieldDefault("rate_limit.max_delay_ms", &r.MaxDelayMS, defaultMaxDelayMS),
	)
}

func (v *VerifyConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("verify.max_attempts", &v.MaxAttempts, defaultVerifyAttempts),
		intFieldDefault("verify.interval_seconds", &v.IntervalSeconds, defaultVerifyInterval),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.results_dir", &b.ResultsDir, defaultBacktestResults),
		floatFieldDefault("backtest.starting_cash", &b.StartingCash, defaultBacktestCash),
		floatFieldDefault("backtest.fee", &b.Fee, defaultBacktestFee),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
