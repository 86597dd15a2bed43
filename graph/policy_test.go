package graph

import (
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicyValidate(t *testing.T) {
	valid := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid policy rejected: %v", err)
	}

	for name, rp := range map[string]RetryPolicy{
		"zero attempts":     {MaxAttempts: 0, BaseDelay: time.Millisecond},
		"max below base":    {MaxAttempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
		"negative attempts": {MaxAttempts: -1},
	} {
		if err := rp.Validate(); err == nil {
			t.Errorf("%s accepted", name)
		}
	}
}

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 100 * time.Millisecond
	max := 400 * time.Millisecond

	prevCeiling := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := computeBackoff(attempt, base, max, rng)
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %v", attempt, d)
		}
		// Delay is min(base*2^n, max) plus jitter in [0, base).
		ceiling := base << uint(attempt)
		if ceiling > max {
			ceiling = max
		}
		ceiling += base
		if d > ceiling {
			t.Errorf("attempt %d: delay %v exceeds ceiling %v", attempt, d, ceiling)
		}
		if ceiling < prevCeiling {
			t.Errorf("ceiling shrank at attempt %d", attempt)
		}
		prevCeiling = ceiling
	}
}

func TestComputeBackoffNoMax(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := computeBackoff(10, time.Millisecond, 0, rng)
	if d < 0 {
		t.Fatalf("negative delay %v", d)
	}
}
