package manager

import (
	"context"
	"sync"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

// MemoryConfigStore is a ConfigStore backed by an in-process map, used in
// tests and as a reference implementation. A production deployment would
// back ConfigStore with whatever system of record owns listener config
// (out of scope for this repo, same as the storage backend behind Sink).
type MemoryConfigStore struct {
	mu        sync.Mutex
	listeners map[string]model.ListenerConfig
}

// NewMemoryConfigStore builds a store seeded with the given listeners.
func NewMemoryConfigStore(listeners ...model.ListenerConfig) *MemoryConfigStore {
	s := &MemoryConfigStore{listeners: make(map[string]model.ListenerConfig)}
	for _, l := range listeners {
		s.listeners[l.ID] = l
	}
	return s
}

func (s *MemoryConfigStore) ListListeners(ctx context.Context) ([]model.ListenerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ListenerConfig, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out, nil
}

// Set upserts a listener config, visible on the next reconcile.
func (s *MemoryConfigStore) Set(cfg model.ListenerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[cfg.ID] = cfg
}

// Remove deletes a listener config, causing the next reconcile to stop it.
func (s *MemoryConfigStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}
