package backoff

import (
	"testing"
	"time"
)

func TestSequence_RespectsCapAndJitterBounds(t *testing.T) {
	policy := Policy{Base: time.Second, Max: 4 * time.Second, Factor: 2.0}
	seq := NewSequence(policy)

	for i := 0; i < 10; i++ {
		d := seq.Next()
		// Cap is 4s; with 1.5x jitter the ceiling is 6s.
		if d > 6*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds jittered cap", i, d)
		}
		if d < 500*time.Millisecond {
			t.Fatalf("attempt %d: delay %v below jittered floor", i, d)
		}
	}
}

func TestSequence_ResetReturnsToBase(t *testing.T) {
	policy := Policy{Base: time.Second, Max: 60 * time.Second, Factor: 2.0}
	seq := NewSequence(policy)

	for i := 0; i < 5; i++ {
		seq.Next()
	}
	seq.Reset()
	d := seq.Next()
	if d > 1500*time.Millisecond {
		t.Fatalf("expected delay near base after reset, got %v", d)
	}
}
