package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy configures exponential backoff between phase attempts.
type Policy struct {
	BaseDelay   time.Duration // Delay before the first retry (default 5s)
	MaxDelay    time.Duration // Cap on the computed delay (default 5min)
	Multiplier  float64       // Growth factor per attempt (default 2.0)
	Jitter      float64       // Multiplicative jitter fraction, 0..1 (default 0.2)
	MaxAttempts int           // Attempts before giving up (default 3)
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   5 * time.Second,
		MaxDelay:    5 * time.Minute,
		Multiplier:  2.0,
		Jitter:      0.2,
		MaxAttempts: 3,
	}
}

// normalized fills in zero fields with defaults so partially-specified
// policies from config behave sensibly.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = d.Jitter
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// BaseDelayFor computes the un-jittered delay for the given attempt:
// base * multiplier^attempt, capped at MaxDelay. Attempt counts from 0
// (the delay before the first retry). Deterministic and non-decreasing
// in attempt, which makes the delay shape testable.
func BaseDelayFor(attempt int, p Policy) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// NextDelay computes the delay before the next retry of the given attempt,
// with uniform multiplicative jitter of +/-Jitter applied so that tasks
// failing at the same moment do not retry in lockstep.
func NextDelay(attempt int, p Policy) time.Duration {
	p = p.normalized()
	base := BaseDelayFor(attempt, p)
	if p.Jitter == 0 {
		return base
	}

	// Uniform in [1-jitter, 1+jitter].
	factor := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(base) * factor)
}

// ShouldRetry reports whether another attempt is warranted. Permanent
// failures never retry; transient failures retry until MaxAttempts is
// reached. Attempt is the number of attempts already made.
func ShouldRetry(attempt int, p Policy, class Class) bool {
	p = p.normalized()
	if class == ClassPermanent {
		return false
	}
	return attempt < p.MaxAttempts
}
