package task

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures how the manager retries transient failures. The
// exact ceiling and curve are deliberately configuration, not constants.
type RetryPolicy struct {
	// MaxAttempts is the total number of executions before a task fails
	// terminally. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// AckTimeout bounds the wait for a transmit acknowledgment.
	AckTimeout time.Duration

	// ConnectWait bounds the wait for the connection to become usable
	// before an attempt counts as failed.
	ConnectWait time.Duration
}

// Stock retry spacing.
const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 2 * time.Second
	DefaultMultiplier      = 2.0
	DefaultMaxInterval     = 30 * time.Second
	DefaultAckTimeout      = 20 * time.Second
	DefaultConnectWait     = 60 * time.Second
)

// DefaultRetryPolicy returns the stock policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
		AckTimeout:      DefaultAckTimeout,
		ConnectWait:     DefaultConnectWait,
	}
}

// normalized fills zero fields with defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.AckTimeout <= 0 {
		p.AckTimeout = DefaultAckTimeout
	}
	if p.ConnectWait <= 0 {
		p.ConnectWait = DefaultConnectWait
	}
	return p
}

// newBackOff builds the per-task backoff source.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts instead
	b.Reset()
	return b
}
