// Package sink defines the persistence contract every captured record
// flows through, and a batching decorator adapted from the teacher's
// RedisWriter: ingest and flush run as separate goroutines so a slow
// downstream write never blocks event processing. The concrete production
// backend (Postgres, ClickHouse, Redis, ...) is an external collaborator
// configured outside this repo; this package only implements the contract
// and one in-process reference writer (MemoryWriter).
package sink

import (
	"context"
)

// Sink is what the processor writes captured records to.
type Sink interface {
	// Append stages one record for table (e.g. "orderbook_snapshots",
	// "trades", "markets"). Implementations may batch internally.
	Append(ctx context.Context, table string, record any) error

	// Flush forces any staged records to be written immediately.
	Flush(ctx context.Context) error
}

// RawWriter is the narrow interface a concrete backend implements; it knows
// nothing about batching policy, only how to persist an already-batched
// slice of records for one table.
type RawWriter interface {
	WriteBatch(ctx context.Context, table string, records []any) error
}

// ColumnSet optionally restricts which fields of a record BatchingSink
// passes on to its RawWriter, so a backend whose schema lacks certain
// optional columns (e.g. raw wire payloads) still accepts the writes. One
// ColumnSet applies to every record of a BatchingSink.
type ColumnSet map[string]struct{}

// Allows reports whether column is present in the set. A nil or empty
// ColumnSet allows everything (no stripping configured).
func (c ColumnSet) Allows(column string) bool {
	if len(c) == 0 {
		return true
	}
	_, ok := c[column]
	return ok
}
