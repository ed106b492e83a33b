package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

func TestBatchingSink_FlushesOnSizeThreshold(t *testing.T) {
	w := NewMemoryWriter()
	bs := NewBatchingSink(w, 3, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bs.Run(ctx)

	for i := 0; i < 3; i++ {
		if err := bs.Append(ctx, "trades", i); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	deadline := time.After(time.Second)
	for w.BatchCount("trades") == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for size-triggered flush")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := len(w.Records("trades")); got != 3 {
		t.Fatalf("expected 3 records written, got %d", got)
	}
}

func TestBatchingSink_FlushesOnTimeout(t *testing.T) {
	w := NewMemoryWriter()
	bs := NewBatchingSink(w, 100, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bs.Run(ctx)

	bs.Append(ctx, "trades", "a")

	deadline := time.After(time.Second)
	for w.BatchCount("trades") == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for time-triggered flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBatchingSink_ExplicitFlushWaitsForWrite(t *testing.T) {
	w := NewMemoryWriter()
	bs := NewBatchingSink(w, 100, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bs.Run(ctx)

	bs.Append(ctx, "markets", "m1")
	if err := bs.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := len(w.Records("markets")); got != 1 {
		t.Fatalf("expected 1 record after explicit flush, got %d", got)
	}
}

type failingWriter struct {
	failures int32
}

func (f *failingWriter) WriteBatch(ctx context.Context, table string, records []any) error {
	atomic.AddInt32(&f.failures, 1)
	return errors.New("write failed")
}

func TestBatchingSink_DropsBatchAfterExhaustingRetries(t *testing.T) {
	fw := &failingWriter{}
	bs := NewBatchingSink(fw, 1, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bs.Run(ctx)

	bs.Append(ctx, "trades", "a")

	deadline := time.After(10 * time.Second)
	for atomic.LoadInt32(&fw.failures) < maxFlushAttempts {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d retry attempts, got %d", maxFlushAttempts, atomic.LoadInt32(&fw.failures))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBatchingSink_StripsColumnsFromTypedRecord(t *testing.T) {
	w := NewMemoryWriter()
	cs := ColumnSet{"record_id": {}, "price": {}, "size": {}}
	bs := NewBatchingSink(w, 1, time.Hour, cs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bs.Run(ctx)

	trade := &model.Trade{
		RecordID:    uuid.New(),
		ListenerID:  "listener-1",
		Platform:    model.PlatformPolymarket,
		AssetID:     "A1",
		Market:      "M1",
		TimestampMs: 1700000000000,
		Price:       decimal.RequireFromString("0.5"),
		Size:        decimal.RequireFromString("10"),
		Side:        model.SideBuy,
		RawPayload:  []byte(`{"raw":"payload"}`),
	}
	if err := bs.Append(ctx, "trades", trade); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := bs.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	records := w.Records("trades")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	out, ok := records[0].(map[string]any)
	if !ok {
		t.Fatalf("expected a stripped field map, got %T", records[0])
	}
	if _, ok := out["raw_payload"]; ok {
		t.Fatal("expected raw_payload to be stripped")
	}
	if _, ok := out["listener_id"]; ok {
		t.Fatal("expected listener_id to be stripped")
	}
	if out["price"] != trade.Price {
		t.Fatalf("expected price to survive stripping, got %v", out["price"])
	}
	if out["record_id"] != trade.RecordID {
		t.Fatalf("expected record_id to survive stripping, got %v", out["record_id"])
	}
}

func TestColumnSet_AllowsEverythingWhenEmpty(t *testing.T) {
	var cs ColumnSet
	if !cs.Allows("anything") {
		t.Fatal("expected nil ColumnSet to allow everything")
	}
}

func TestColumnSet_RestrictsToNamedColumns(t *testing.T) {
	cs := ColumnSet{"price": {}, "size": {}}
	if !cs.Allows("price") {
		t.Fatal("expected 'price' to be allowed")
	}
	if cs.Allows("raw_payload") {
		t.Fatal("expected 'raw_payload' to be disallowed")
	}
}
