package service

import (
	"time"

	"casino-ewallet/config"
)

// RetryPolicy bounds automatic casino transfer attempts per transaction.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// NewRetryPolicy builds the policy from reconciler settings.
func NewRetryPolicy(cfg config.ReconcilerConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}
}

// Exhausted reports whether attempts has used up the budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Backoff returns the delay after the given number of failed attempts:
// base, 2*base, 4*base ... capped at BackoffMax.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.BackoffMax || d <= 0 {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// NextAttemptAt is the earliest time the scheduler may retry.
func (p RetryPolicy) NextAttemptAt(attempts int, now time.Time) time.Time {
	return now.Add(p.Backoff(attempts))
}
