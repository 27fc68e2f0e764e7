// Package backoff provides the retry delay strategy used by the
// submission path. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Exponential doubles the delay each attempt, capped at Max.
// Delay = min(Base * 2^attempt, Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates a capped exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns the wait before retry attempt n (1-indexed). Delays are
// non-decreasing in n.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}
