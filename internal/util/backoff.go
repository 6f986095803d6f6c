package util

import (
	"context"
	"fmt"
	"time"
)

// BackoffStrategy selects how the cooldown grows with the attempt number.
type BackoffStrategy string

const (
	// BackoffExponential doubles the base delay for every attempt, capped
	// at Max: min(base * 2^(attempt-1), max).
	BackoffExponential BackoffStrategy = "exponential_backoff"
	// BackoffFixed always sleeps the base delay.
	BackoffFixed BackoffStrategy = "fixed_delay"
	// BackoffAdaptive grows linearly with the attempt number, capped at
	// Max: min(base * attempt, max).
	BackoffAdaptive BackoffStrategy = "adaptive"
)

// ParseBackoffStrategy maps a configuration string to a BackoffStrategy.
// Unrecognised values fall back to exponential backoff.
func ParseBackoffStrategy(s string) BackoffStrategy {
	switch BackoffStrategy(s) {
	case BackoffFixed:
		return BackoffFixed
	case BackoffAdaptive:
		return BackoffAdaptive
	default:
		return BackoffExponential
	}
}

// BackoffPolicy computes cooldown delays for retrying operations. One policy
// value is shared by every retrying call site so the strategy is configured
// in a single place.
type BackoffPolicy struct {
	Strategy BackoffStrategy
	Base     time.Duration
	Max      time.Duration
}

// Delay returns the cooldown before the given attempt. Attempts are 1-based;
// attempt values below 1 are treated as 1.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Strategy {
	case BackoffFixed:
		d = p.Base
	case BackoffAdaptive:
		d = p.Base * time.Duration(attempt)
	default: // exponential
		d = p.Base
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.Max > 0 && d >= p.Max {
				break
			}
		}
	}

	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Sleep blocks for the attempt's cooldown or until the context is cancelled,
// and returns the duration actually slept.
func (p BackoffPolicy) Sleep(ctx context.Context, attempt int) (time.Duration, error) {
	d := p.Delay(attempt)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(d):
		return d, nil
	}
}

// String implements fmt.Stringer for logging.
func (p BackoffPolicy) String() string {
	return fmt.Sprintf("%s(base=%s,max=%s)", p.Strategy, p.Base, p.Max)
}
