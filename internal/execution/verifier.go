package execution

import (
	"context"
	"errors"
	"time"

	"niftyshop/internal/broker"
	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/logger"
)

// ErrFillUnconfirmed means the order was accepted but its fill could
// not be confirmed within the polling budget. The order may still have
// executed; the trade is marked FAILED_TO_CONFIRM for operator review.
var ErrFillUnconfirmed = errors.New("execution: order fill unconfirmed")

// VerifierOptions bound the status-polling loop.
type VerifierOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultVerifierOptions() VerifierOptions {
	return VerifierOptions{MaxAttempts: 3, Interval: 5 * time.Second}
}

func (o VerifierOptions) normalize() VerifierOptions {
	def := DefaultVerifierOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	return o
}

// Verifier polls order status until the broker reports completion or
// the attempt budget runs out.
type Verifier struct {
	broker broker.Broker
	caller *ratelimit.Caller
	opts   VerifierOptions
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewVerifier(b broker.Broker, caller *ratelimit.Caller, opts VerifierOptions) *Verifier {
	return &Verifier{
		broker: b,
		caller: caller,
		opts:   opts.normalize(),
		sleep:  sleepCtx,
	}
}

// SetSleep replaces the inter-attempt pause, for tests.
func (v *Verifier) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn != nil {
		v.sleep = fn
	}
}

// Verify returns nil once the broker reports the order complete, or
// ErrFillUnconfirmed after the attempt budget is spent. Transport
// errors count against the budget like any unconfirmed poll.
func (v *Verifier) Verify(ctx context.Context, orderID string) error {
	for attempt := 1; attempt <= v.opts.MaxAttempts; attempt++ {
		state, err := ratelimit.Do(ctx, v.caller, "order_status", func(ctx context.Context) (broker.OrderState, error) {
			return v.broker.GetOrderStatus(ctx, orderID)
		})
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("verify %s attempt %d/%d: %v", orderID, attempt, v.opts.MaxAttempts, err)
		case state.Status == broker.OrderStatusComplete:
			return nil
		default:
			logger.Infof("verify %s attempt %d/%d: status %q", orderID, attempt, v.opts.MaxAttempts, state.Status)
		}
		if attempt < v.opts.MaxAttempts {
			if err := v.sleep(ctx, v.opts.Interval); err != nil {
				return err
			}
		}
	}
	return ErrFillUnconfirmed
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
