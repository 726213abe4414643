package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	if err := c.Verify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be debug|info|warn|error, got %q", a.LogLevel)
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(s.Cron); err != nil {
		return fmt.Errorf("schedule.cron %q: %w", s.Cron, err)
	}
	return nil
}

func (r *RateLimitConfig) validate() error {
	if r.MinIntervalMS < 0 {
		return fmt.Errorf("rate_limit.min_interval_ms must be >= 0")
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("rate_limit.max_attempts must be >= 1")
	}
	return nil
}

func (v *VerifyConfig) validate() error {
	if v.MaxAttempts < 1 {
		return fmt.Errorf("verify.max_attempts must be >= 1")
	}
	if v.IntervalSeconds < 0 {
		return fmt.Errorf("verify.interval_seconds must be >= 0")
	}
	return nil
}
