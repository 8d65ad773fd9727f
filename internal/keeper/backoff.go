package keeper

import (
	"math"
	"time"
)

// Policy configures retry pacing for transient failures.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Minute
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 8
	}
	return p
}

// Backoff is the explicit retry state for one pot's current action: an
// attempt counter plus the earliest time the next attempt may run. It
// replaces nested retry loops so a cycle never blocks on a sleeping pot.
type Backoff struct {
	policy   Policy
	attempts int
	nextAt   time.Time
}

// NewBackoff creates a backoff with the given policy, zero fields defaulted.
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy.withDefaults()}
}

// Ready reports whether the next attempt may run at now.
func (b *Backoff) Ready(now time.Time) bool {
	return !now.Before(b.nextAt)
}

// Failure records a transient failure at now and schedules the next attempt.
// It returns false once the attempt budget is exhausted.
func (b *Backoff) Failure(now time.Time) bool {
	b.attempts++
	if b.attempts >= b.policy.MaxAttempts {
		return false
	}
	delay := time.Duration(float64(b.policy.BaseDelay) * math.Pow(b.policy.Multiplier, float64(b.attempts-1)))
	if delay <= 0 || delay > b.policy.MaxDelay {
		delay = b.policy.MaxDelay
	}
	b.nextAt = now.Add(delay)
	return true
}

// Reset clears the counter after a success.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.nextAt = time.Time{}
}

// Attempts returns the consecutive failure count.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// NextAt returns when the next attempt becomes due.
func (b *Backoff) NextAt() time.Time {
	return b.nextAt
}
