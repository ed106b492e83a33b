package sink

import (
	"context"
	"sync"
)

// MemoryWriter is an in-process RawWriter for tests and local development.
// It is not a production persistence backend — the real sink lives outside
// this repo and is addressed via config.SinkConfig.
type MemoryWriter struct {
	mu      sync.Mutex
	batches map[string][][]any
}

// NewMemoryWriter builds an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{batches: make(map[string][][]any)}
}

func (m *MemoryWriter) WriteBatch(ctx context.Context, table string, records []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]any, len(records))
	copy(cp, records)
	m.batches[table] = append(m.batches[table], cp)
	return nil
}

// Records returns every record written for table, across all batches, in
// write order.
func (m *MemoryWriter) Records(table string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, batch := range m.batches[table] {
		out = append(out, batch...)
	}
	return out
}

// BatchCount returns how many separate WriteBatch calls were made for table.
func (m *MemoryWriter) BatchCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches[table])
}
