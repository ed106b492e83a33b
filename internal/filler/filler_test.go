package filler

import (
	"context"
	"testing"
	"time"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

func snapshot(t *testing.T, assetID string, ts int64) *model.OrderbookSnapshot {
	t.Helper()
	snap, err := model.NewSnapshot("listener-1", model.PlatformPolymarket, assetID, "market-1", nil, nil, ts)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return snap
}

func TestFiller_EmitsForwardFillAfterInterval(t *testing.T) {
	f := New(20 * time.Millisecond)
	seed := snapshot(t, "A1", time.Now().UnixMilli())
	f.AddToken("listener-1/A1", "listener-1", 50, seed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go f.Run(ctx)

	select {
	case out := <-f.Emit:
		if !out.IsForwardFilled {
			t.Fatal("expected IsForwardFilled=true")
		}
		if out.SourceTimestampMs == nil || *out.SourceTimestampMs != seed.TimestampMs {
			t.Fatalf("expected SourceTimestampMs=%d, got %v", seed.TimestampMs, out.SourceTimestampMs)
		}
		if out.RecordID == seed.RecordID {
			t.Fatal("expected a new RecordID for the forward-filled clone")
		}
	case <-time.After(800 * time.Millisecond):
		t.Fatal("timed out waiting for forward-filled emission")
	}
}

func TestFiller_SourceTimestampStaysPinnedAcrossRepeatedTicks(t *testing.T) {
	f := New(15 * time.Millisecond)
	seed := snapshot(t, "A1", 0)
	f.AddToken("listener-1/A1", "listener-1", 15, seed)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go f.Run(ctx)

	// Scenario #3: every forward-filled emission in the window after a
	// single real event at t=0 must report the same pinned
	// source_timestamp_ms — it must never drift forward to a prior
	// synthetic clone's own emission time.
	for i := 0; i < 3; i++ {
		select {
		case out := <-f.Emit:
			if out.SourceTimestampMs == nil || *out.SourceTimestampMs != seed.TimestampMs {
				t.Fatalf("tick %d: expected SourceTimestampMs=%d (pinned), got %v", i, seed.TimestampMs, out.SourceTimestampMs)
			}
		case <-time.After(800 * time.Millisecond):
			t.Fatalf("tick %d: timed out waiting for forward-filled emission", i)
		}
	}
}

func TestFiller_UpdateStateResetsClock(t *testing.T) {
	f := New(10 * time.Millisecond)
	now := time.Now().UnixMilli()
	seed := snapshot(t, "A1", now)
	f.AddToken("listener-1/A1", "listener-1", 200, seed)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go f.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	f.UpdateState("listener-1/A1", snapshot(t, "A1", time.Now().UnixMilli()))

	select {
	case <-f.Emit:
		t.Fatal("should not have forward-filled yet: real update reset the clock")
	case <-time.After(120 * time.Millisecond):
	}
}

func TestFiller_RemoveTokenStopsEmission(t *testing.T) {
	f := New(10 * time.Millisecond)
	seed := snapshot(t, "A1", time.Now().UnixMilli())
	f.AddToken("listener-1/A1", "listener-1", 20, seed)
	f.RemoveToken("listener-1/A1")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go f.Run(ctx)

	select {
	case <-f.Emit:
		t.Fatal("expected no emission after RemoveToken")
	case <-time.After(150 * time.Millisecond):
	}
}
