package broker

import (
	"errors"
	"fmt"
)

// Broker error codes recognized as rate limiting.
var rateLimitCodes = map[int]struct{}{
	429:   {},
	10006: {},
	10007: {},
}

// RateLimitError marks a response the broker rejected for pacing reasons.
// The rate-limited caller backs off and retries these.
type RateLimitError struct {
	Code    int
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("broker rate limited (code=%d): %s", e.Code, e.Message)
}

// NewRateLimitError returns a *RateLimitError when code is a recognized
// rate-limit code, otherwise a plain error carrying the same detail.
func NewRateLimitError(code int, message string) error {
	if _, ok := rateLimitCodes[code]; ok {
		return &RateLimitError{Code: code, Message: message}
	}
	return fmt.Errorf("broker error (code=%d): %s", code, message)
}

// IsRateLimited reports whether err carries a recognized rate-limit code.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// FatalError wraps a condition that must abort the current cycle instead
// of being retried (for example an invalid session token). Everything
// else is treated as transient.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal broker error: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
