package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures execution behavior for one node: timeout and retry.
// Unset fields fall back to the engine-wide defaults.
type NodePolicy struct {
	// Timeout bounds a single execution attempt. Zero uses the engine's
	// default node timeout.
	Timeout time.Duration

	// RetryPolicy controls automatic retry of failed attempts. Nil uses the
	// engine default; an explicit MaxAttempts of 1 disables retries.
	RetryPolicy *RetryPolicy
}

// RetryPolicy defines exponential backoff with jitter for transient node
// failures.
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt. Must be >= 1.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff: min(base*2^n, MaxDelay)+jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means uncapped.
	MaxDelay time.Duration

	// Retryable classifies errors. Nil means nothing is retried.
	// Typically wired to fault.Retryable.
	Retryable func(error) bool
}

// Validate checks policy constraints.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// computeBackoff returns the delay before retry attempt n (zero-based):
// min(base * 2^attempt, maxDelay) + jitter(0, base). Jitter desynchronizes
// concurrent threads retrying against the same upstream.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing, not security
	}

	return delay + jitter
}
