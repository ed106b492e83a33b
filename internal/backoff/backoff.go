// Package backoff implements the exponential-backoff-with-full-jitter policy
// used by every reconnect and retry loop in this repo: delay =
// min(cap, base * 2^n) * random(0.5, 1.5), per the glossary in spec.md.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes the parameters of a backoff sequence.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultPolicy matches spec.md's stated default: base 1s, factor 2, cap 60s.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Max: 60 * time.Second, Factor: 2.0}
}

// Sequence produces successive backoff delays for one connection attempt
// cycle. It is not safe for concurrent use; create one per reconnect loop.
type Sequence struct {
	policy Policy
	attempt int
	rand   *rand.Rand
}

// NewSequence creates a Sequence starting at attempt 0 (first Next() returns
// the base delay, jittered).
func NewSequence(policy Policy) *Sequence {
	return &Sequence{
		policy: policy,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay and advances the sequence.
func (s *Sequence) Next() time.Duration {
	raw := float64(s.policy.Base) * math.Pow(s.policy.Factor, float64(s.attempt))
	if raw > float64(s.policy.Max) {
		raw = float64(s.policy.Max)
	}
	s.attempt++

	jitter := 0.5 + s.rand.Float64() // [0.5, 1.5)
	return time.Duration(raw * jitter)
}

// Reset returns the sequence to attempt 0, used after a successful
// reconnect so the next failure starts back at Base.
func (s *Sequence) Reset() {
	s.attempt = 0
}
