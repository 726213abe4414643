// Package ratelimit paces and retries calls against the brokerage and
// market-data APIs. Every quote, history, holdings, funds and order call
// the engine makes goes through a Caller.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"niftyshop/internal/broker"
	"niftyshop/internal/logger"
	"niftyshop/internal/metrics"
)

// Options tune pacing and backoff. The defaults mirror the broker's
// published limits; they are configuration, not magic numbers.
type Options struct {
	MinInterval time.Duration // minimum spacing between call starts
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (o *Options) normalize() {
	if o.MinInterval < 0 {
		o.MinInterval = 0
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 60 * time.Second
	}
}

func DefaultOptions() Options {
	return Options{
		MinInterval: 100 * time.Millisecond,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Caller serializes pacing across every external call of one account
// cycle. It is not safe for concurrent use; each cycle owns its own.
type Caller struct {
	limiter *rate.Limiter
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCaller(opts Options) *Caller {
	opts.normalize()
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return &Caller{
		limiter: limiter,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

// SetSleep overrides the backoff sleeper. Tests use this to avoid real
// waiting.
func (c *Caller) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn != nil {
		c.sleep = fn
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.opts.BaseDelay << attempt
	if delay > c.opts.MaxDelay {
		delay = c.opts.MaxDelay
	}
	return delay
}

// Do runs op with pacing and backoff retry. Rate-limited results and
// transient transport errors are retried up to MaxAttempts; fatal errors
// and context cancellation return immediately. The last error is
// returned once the budget is exhausted.
func Do[T any](ctx context.Context, c *Caller, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if broker.IsFatal(err) || ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if attempt == c.opts.MaxAttempts-1 {
			break
		}
		delay := c.backoff(attempt)
		if broker.IsRateLimited(err) {
			metrics.APIRetries.WithLabelValues(name, "rate_limited").Inc()
			logger.Warnf("%s rate limited, backing off %s (attempt %d/%d)", name, delay, attempt+1, c.opts.MaxAttempts)
		} else {
			metrics.APIRetries.WithLabelValues(name, "transient").Inc()
			logger.Warnf("%s failed: %v, retrying in %s (attempt %d/%d)", name, err, delay, attempt+1, c.opts.MaxAttempts)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
