package control

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// BackoffPolicy computes retry delays from the failure class of the previous
// attempt. Blocking failures back off hardest, then rate limits, then network
// faults, then everything else.
type BackoffPolicy struct {
	maxAttempts int
	maxDelay    time.Duration
	base        map[catalog.FailureClass]time.Duration
}

// NewBackoffPolicy builds a policy with the given attempt ceiling; values at
// or below zero fall back to 3 attempts.
func NewBackoffPolicy(maxAttempts int) *BackoffPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &BackoffPolicy{
		maxAttempts: maxAttempts,
		maxDelay:    2 * time.Minute,
		base: map[catalog.FailureClass]time.Duration{
			catalog.FailureBlocking:  8 * time.Second,
			catalog.FailureRateLimit: 4 * time.Second,
			catalog.FailureNetwork:   1 * time.Second,
			catalog.FailureGeneric:   500 * time.Millisecond,
		},
	}
}

// NewBackoffPolicyWithBases overrides the per-class base delays. Classes
// missing from bases keep their defaults.
func NewBackoffPolicyWithBases(maxAttempts int, bases map[catalog.FailureClass]time.Duration) *BackoffPolicy {
	p := NewBackoffPolicy(maxAttempts)
	for class, d := range bases {
		if d > 0 {
			p.base[class] = d
		}
	}
	return p
}

// MaxAttempts returns the retry ceiling.
func (p *BackoffPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry reports whether a failure of this class warrants another
// attempt. attempt is 1-based: the count of attempts already made.
func (p *BackoffPolicy) ShouldRetry(class catalog.FailureClass, attempt int) bool {
	return class.Retryable() && attempt < p.maxAttempts
}

// Delay returns the pause before retry attempt+1: the class base doubled per
// prior attempt, plus up to 25% jitter, capped at the policy maximum.
func (p *BackoffPolicy) Delay(class catalog.FailureClass, attempt int) time.Duration {
	base, ok := p.base[class]
	if !ok {
		base = p.base[catalog.FailureGeneric]
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d + jitter(d/4)
}

// RotateOnRetry reports whether the class demands a fresh session identity
// before the next attempt.
func (p *BackoffPolicy) RotateOnRetry(class catalog.FailureClass) bool {
	return class == catalog.FailureBlocking
}

// jitter returns a uniformly random duration in [0, max).
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return max / 2
	}
	return time.Duration(n.Int64())
}
