package listener

import (
	"testing"
	"time"
)

func TestHealthTracker_StaleBeforeFirstUpdate(t *testing.T) {
	h := NewHealthTracker(DefaultHealthConfig())
	if !h.Stale("A1") {
		t.Fatal("expected unseen market to be stale")
	}
}

func TestHealthTracker_FreshAfterUpdateAndCoolOff(t *testing.T) {
	h := NewHealthTracker(HealthConfig{StaleThreshold: 100 * time.Millisecond, CoolOff: 20 * time.Millisecond})
	h.RecordUpdate("A1")

	// Still inside the cool-off window right after first recording.
	if !h.Stale("A1") {
		t.Fatal("expected market to be stale during cool-off")
	}

	time.Sleep(30 * time.Millisecond)
	if h.Stale("A1") {
		t.Fatal("expected market to be fresh after cool-off elapses")
	}
}

func TestHealthTracker_StaleAfterThreshold(t *testing.T) {
	h := NewHealthTracker(HealthConfig{StaleThreshold: 20 * time.Millisecond, CoolOff: 0})
	h.RecordUpdate("A1")
	time.Sleep(30 * time.Millisecond)
	if !h.Stale("A1") {
		t.Fatal("expected market to be stale after threshold elapses")
	}
}

func TestHealthTracker_RemoveStopsTracking(t *testing.T) {
	h := NewHealthTracker(DefaultHealthConfig())
	h.RecordUpdate("A1")
	h.Remove("A1")
	if !h.Stale("A1") {
		t.Fatal("expected removed market to report stale (unseen)")
	}
}
