package sink

import (
	"context"
	"log"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caesar-terminal/lobcapture/internal/backoff"
	"github.com/caesar-terminal/lobcapture/internal/metrics"
)

func newFlushTimer(table string) *prometheus.Timer {
	return prometheus.NewTimer(metrics.SinkFlushDuration.WithLabelValues(table))
}

const maxFlushAttempts = 5

type stagedRecord struct {
	table  string
	record any
}

// BatchingSink decorates a RawWriter with size/time batching and retry,
// generalizing the teacher's RedisWriter split between an ingest goroutine
// (never blocks producers) and a flush goroutine (does the actual write).
type BatchingSink struct {
	writer       RawWriter
	batchSize    int
	batchTimeout time.Duration
	columns      ColumnSet

	buf    chan stagedRecord
	flush  chan chan error
	done   chan struct{}
}

// NewBatchingSink wraps writer with the given batch size/timeout. columns,
// if non-empty, strips any record field not named in it before writing
// (optional-column stripping); pass nil to keep every field.
func NewBatchingSink(writer RawWriter, batchSize int, batchTimeout time.Duration, columns ColumnSet) *BatchingSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	bs := &BatchingSink{
		writer:       writer,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		columns:      columns,
		buf:          make(chan stagedRecord, batchSize*4),
		flush:        make(chan chan error),
		done:         make(chan struct{}),
	}
	return bs
}

// Run starts the flush goroutine. Must be called once before Append.
func (b *BatchingSink) Run(ctx context.Context) {
	go b.runFlusher(ctx)
}

// Append stages a record for table. If the internal buffer is full it
// blocks until the flush goroutine makes room or ctx is done, so records
// aren't silently dropped here (the processor's own data queue is the only
// place data is allowed to drop).
func (b *BatchingSink) Append(ctx context.Context, table string, record any) error {
	select {
	case b.buf <- stagedRecord{table: table, record: applyColumns(record, b.columns)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until all currently staged records have been written.
func (b *BatchingSink) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case b.flush <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BatchingSink) runFlusher(ctx context.Context) {
	pending := make(map[string][]any)
	ticker := time.NewTicker(b.batchTimeout)
	defer ticker.Stop()

	count := 0
	flushAll := func() error {
		var firstErr error
		for table, records := range pending {
			if len(records) == 0 {
				continue
			}
			if err := b.writeWithRetry(ctx, table, records); err != nil && firstErr == nil {
				firstErr = err
			}
			delete(pending, table)
		}
		count = 0
		return firstErr
	}

	for {
		select {
		case <-ctx.Done():
			flushAll()
			close(b.done)
			return

		case rec := <-b.buf:
			pending[rec.table] = append(pending[rec.table], rec.record)
			count++
			if count >= b.batchSize {
				flushAll()
			}

		case <-ticker.C:
			flushAll()

		case reply := <-b.flush:
			reply <- flushAll()
		}
	}
}

// writeWithRetry attempts the write up to maxFlushAttempts times with
// jittered backoff, logging and dropping the batch if every attempt fails
// (the batch's records are lost; this mirrors the processor's own
// drop-on-saturation policy rather than blocking the pipeline forever).
func (b *BatchingSink) writeWithRetry(ctx context.Context, table string, records []any) error {
	timer := newFlushTimer(table)
	defer timer.ObserveDuration()

	seq := backoff.NewSequence(backoff.Policy{Base: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2})
	var lastErr error
	for attempt := 0; attempt < maxFlushAttempts; attempt++ {
		if err := b.writer.WriteBatch(ctx, table, records); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			metrics.SinkFlushFailuresTotal.WithLabelValues(table).Inc()
			return ctx.Err()
		case <-time.After(seq.Next()):
		}
	}

	metrics.SinkFlushFailuresTotal.WithLabelValues(table).Inc()
	log.Printf("sink: dropping batch of %d records for table %s after %d attempts: %v", len(records), table, maxFlushAttempts, lastErr)
	return lastErr
}

// applyColumns strips any field not named in columns before a record is
// staged for write. Real producers (sink.ProcessorAdapter) pass typed
// pointers (*model.OrderbookSnapshot, *model.Trade, *model.Market), so
// fields are read via reflection, keyed by each field's "col" struct tag
// (falling back to the Go field name if untagged). A plain map[string]any
// is also accepted directly, for writers that build records that way.
func applyColumns(record any, columns ColumnSet) any {
	if len(columns) == 0 {
		return record
	}

	if m, ok := record.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			if columns.Allows(k) {
				out[k] = v
			}
		}
		return out
	}

	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return record
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return record
	}

	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("col")
		if name == "" {
			name = field.Name
		}
		if columns.Allows(name) {
			out[name] = v.Field(i).Interface()
		}
	}
	return out
}
