// Package backoff computes jittered exponential retry delays. Jitter is
// multiplicative so concurrently failing workers do not retry in lockstep.
package backoff

import (
	"math/rand"
	"time"
)

// Defaults for the retry policy.
const (
	// DefaultBase is the first-attempt delay before doubling.
	DefaultBase = 500 * time.Millisecond
	// DefaultMax caps any single computed delay.
	DefaultMax = 30 * time.Second
	// DefaultJitter is the multiplicative jitter half-width.
	DefaultJitter = 0.5
	// DefaultMaxAttempts is the attempt ceiling; exceeding it is terminal.
	DefaultMaxAttempts = 5
)

// Policy computes retry delays for a sequence of attempts. The zero value is
// not usable; construct with New.
type Policy struct {
	// Base is the delay for the first retry.
	Base time.Duration
	// Max bounds any computed delay.
	Max time.Duration
	// Jitter is the half-width j of the multiplicative jitter range
	// [1-j, 1+j]. Clamped to [0, 1).
	Jitter float64
	// MaxAttempts is the attempt ceiling (1-indexed).
	MaxAttempts int

	// randFloat is the jitter source; replaced in tests for determinism.
	randFloat func() float64
}

// New constructs a Policy, substituting defaults for zero fields.
func New(base, max time.Duration, jitter float64, maxAttempts int) Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = 0.999
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return Policy{
		Base:        base,
		Max:         max,
		Jitter:      jitter,
		MaxAttempts: maxAttempts,
		randFloat:   rand.Float64,
	}
}

// Default returns a Policy with all default settings.
func Default() Policy {
	return New(0, 0, DefaultJitter, 0)
}

// Delay returns the sleep before retrying after attempt n (1-indexed). A
// non-zero suggested delay from the provider is used verbatim in place of the
// computed one, without jitter: the provider knows its own reset time.
func (p Policy) Delay(attempt int, suggested time.Duration) time.Duration {
	if suggested > 0 {
		return suggested
	}
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}

	if p.Jitter > 0 {
		rf := p.randFloat
		if rf == nil {
			rf = rand.Float64
		}
		// Scale by a factor drawn uniformly from [1-j, 1+j].
		factor := 1 - p.Jitter + 2*p.Jitter*rf()
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// Exhausted reports whether attempt n (1-indexed) has consumed the budget.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
