// Package filler forward-fills orderbook snapshots for markets that have
// gone quiet: on a per-token interval it re-emits the last known snapshot,
// stamped as forward-filled, so downstream consumers never see an
// unbounded gap between real updates.
package filler

import (
	"context"
	"sync"
	"time"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

// State is the per-token forward-fill bookkeeping: the last real or
// forward-filled snapshot plus the cadence it re-emits on.
type State struct {
	listenerID     string
	lastSnapshot   *model.OrderbookSnapshot
	emitIntervalMs int64
	lastEmitMs     int64

	// lastRealTsMs is the timestamp of the last real (non-forward-filled)
	// event, mutated only by UpdateState. Every forward-filled emission
	// stamps its SourceTimestampMs from this field, not from lastSnapshot's
	// own TimestampMs, which a prior synthetic tick may have overwritten.
	lastRealTsMs int64
}

// Filler owns one State per subscribed token and ticks them on their
// configured interval.
type Filler struct {
	mu     sync.Mutex
	states map[string]*State // keyed by model.Market.ID()

	// Emit receives every forward-filled snapshot; whoever owns the Filler
	// drains it. The processor, supervisor and manager do not create a
	// Filler or read this channel.
	Emit chan *model.OrderbookSnapshot

	// DedupAtBoundary skips re-emitting a snapshot whose hash is unchanged
	// and less than one interval has elapsed since the last emission. Off by
	// default: correctness does not depend on it, it only reduces volume
	// when a market is simultaneously quiet and already forward-filled.
	DedupAtBoundary bool

	tick time.Duration
}

// New creates a Filler that ticks its states every tick (the finest common
// granularity across all tracked tokens' emit intervals; 1s is a reasonable
// default when listeners share a single Filler).
func New(tick time.Duration) *Filler {
	return &Filler{
		states: make(map[string]*State),
		Emit:   make(chan *model.OrderbookSnapshot, 1024),
		tick:   tick,
	}
}

// AddToken begins forward-fill tracking for a token, seeded with its current
// snapshot. O(1).
func (f *Filler) AddToken(marketID, listenerID string, emitIntervalMs int, seed *model.OrderbookSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[marketID] = &State{
		listenerID:     listenerID,
		lastSnapshot:   seed,
		emitIntervalMs: int64(emitIntervalMs),
		lastEmitMs:     seed.TimestampMs,
		lastRealTsMs:   seed.TimestampMs,
	}
}

// RemoveToken stops forward-fill tracking for a token. O(1).
func (f *Filler) RemoveToken(marketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, marketID)
}

// UpdateState records a fresh real (non-forward-filled) snapshot for a
// token, resetting its emission clock. O(1).
func (f *Filler) UpdateState(marketID string, snap *model.OrderbookSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[marketID]
	if !ok {
		return
	}
	st.lastSnapshot = snap
	st.lastEmitMs = snap.TimestampMs
	st.lastRealTsMs = snap.TimestampMs
}

// Run ticks every f.tick, forward-filling any token whose emit interval has
// elapsed since its last emission. Blocks until ctx is cancelled.
func (f *Filler) Run(ctx context.Context) {
	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tickOnce()
		}
	}
}

func (f *Filler) tickOnce() {
	now := time.Now().UnixMilli()

	f.mu.Lock()
	due := make([]*State, 0, len(f.states))
	for _, st := range f.states {
		if st.lastSnapshot == nil || st.emitIntervalMs <= 0 {
			continue
		}
		if now-st.lastEmitMs >= st.emitIntervalMs {
			due = append(due, st)
		}
	}
	f.mu.Unlock()

	for _, st := range due {
		f.emitForwardFill(st, now)
	}
}

func (f *Filler) emitForwardFill(st *State, now int64) {
	f.mu.Lock()
	last := st.lastSnapshot
	if last == nil {
		f.mu.Unlock()
		return
	}
	if f.DedupAtBoundary && last.IsForwardFilled && now-st.lastEmitMs < st.emitIntervalMs {
		f.mu.Unlock()
		return
	}

	clone := last.Clone()
	clone.IsForwardFilled = true
	sourceTs := st.lastRealTsMs
	clone.SourceTimestampMs = &sourceTs
	clone.TimestampMs = now

	// Monotonic wall-clock emission: the stored snapshot becomes the clone
	// so the next tick's gap is measured from this emission, not the
	// original real update. lastRealTsMs is left untouched, so every
	// subsequent forward-filled emission still reports the same pinned
	// source timestamp until the next real UpdateState.
	st.lastSnapshot = clone
	st.lastEmitMs = now
	f.mu.Unlock()

	select {
	case f.Emit <- clone:
	default:
		// Forward-fill is best-effort; a full Emit channel drops this
		// emission.
	}
}
