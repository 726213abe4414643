// Package config loads process configuration from YAML with explicit
// defaulting: a default is only applied when the file did not set the
// key, so an intentional zero survives.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/execution"
)

func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RateLimitOptions converts the config section into caller options.
func (c *Config) RateLimitOptions() ratelimit.Options {
	return ratelimit.Options{
		MinInterval: time.Duration(c.RateLimit.MinIntervalMS) * time.Millisecond,
		MaxAttempts: c.RateLimit.MaxAttempts,
		BaseDelay:   time.Duration(c.RateLimit.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(c.RateLimit.MaxDelayMS) * time.Millisecond,
	}
}

// VerifierOptions converts the config section into fill-verifier
// options.
func (c *Config) VerifierOptions() execution.VerifierOptions {
	return execution.VerifierOptions{
		MaxAttempts: c.Verify.MaxAttempts,
		Interval:    time.Duration(c.Verify.IntervalSeconds) * time.Second,
	}
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			flattenConfigKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
