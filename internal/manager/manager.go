// Package manager owns the fleet of listener supervisors: it reads
// configured listeners from a ConfigStore, diffs against what's currently
// running, and spawns/stops/respawns supervisors to match — the
// orchestration layer the teacher's single-process cmd/caesar never needed
// because it ran one static set of adapters.
package manager

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caesar-terminal/lobcapture/internal/listener"
	"github.com/caesar-terminal/lobcapture/internal/model"
	"github.com/caesar-terminal/lobcapture/internal/processor"
	"github.com/caesar-terminal/lobcapture/internal/sink"
	"github.com/caesar-terminal/lobcapture/internal/venue"
)

// ConfigStore is the externally-owned source of listener configuration.
// The manager only reads it; nothing in this repo writes listener configs.
type ConfigStore interface {
	ListListeners(ctx context.Context) ([]model.ListenerConfig, error)
}

// runningListener bundles everything the manager needs to stop a listener
// it previously started.
type runningListener struct {
	cfg    model.ListenerConfig
	sup    *listener.Supervisor
	proc   *processor.Processor
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager periodically reconciles the running supervisor set against
// ConfigStore, and owns the single shared Sink every listener's processor
// writes into.
type Manager struct {
	store    ConfigStore
	factory  venue.Factory
	sinkImpl sink.Sink

	reloadInterval time.Duration
	shutdownGrace  time.Duration

	mu       sync.Mutex
	running  map[string]*runningListener // keyed by ListenerConfig.ID
}

// New builds a Manager. factory resolves per-platform Discoverer/Feed pairs;
// sinkImpl is shared across every listener's processor.
func New(store ConfigStore, factory venue.Factory, sinkImpl sink.Sink, reloadInterval, shutdownGrace time.Duration) *Manager {
	return &Manager{
		store:          store,
		factory:        factory,
		sinkImpl:       sinkImpl,
		reloadInterval: reloadInterval,
		shutdownGrace:  shutdownGrace,
		running:        make(map[string]*runningListener),
	}
}

// Run reconciles immediately, then every m.reloadInterval, until ctx is
// cancelled — at which point it stops every running listener with a bounded
// shutdown grace period.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.reconcile(ctx); err != nil {
		log.Printf("manager: initial reconcile failed: %v", err)
	}

	ticker := time.NewTicker(m.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdownAll()
			return nil
		case <-ticker.C:
			if err := m.reconcile(ctx); err != nil {
				log.Printf("manager: reconcile failed: %v", err)
			}
		}
	}
}

// reconcile fetches desired state and spawns/stops/respawns supervisors to
// match it, diffing by listener_id.
func (m *Manager) reconcile(ctx context.Context) error {
	desired, err := m.store.ListListeners(ctx)
	if err != nil {
		return fmt.Errorf("manager: list listeners: %w", err)
	}

	desiredByID := make(map[string]model.ListenerConfig, len(desired))
	for _, cfg := range desired {
		desiredByID[cfg.ID] = cfg
	}

	m.mu.Lock()
	var toStop []*runningListener
	for id, rl := range m.running {
		cfg, stillDesired := desiredByID[id]
		if !stillDesired || !cfg.IsActive {
			toStop = append(toStop, rl)
			continue
		}
		if configChanged(rl.cfg, cfg) {
			toStop = append(toStop, rl)
		}
	}
	m.mu.Unlock()

	for _, rl := range toStop {
		m.stopListener(rl)
	}

	for _, cfg := range desired {
		if !cfg.IsActive {
			continue
		}
		m.mu.Lock()
		_, running := m.running[cfg.ID]
		m.mu.Unlock()
		if running {
			continue
		}
		if err := m.spawnListener(cfg); err != nil {
			log.Printf("manager: failed to spawn listener %s: %v", cfg.ID, err)
		}
	}

	return nil
}

// configChanged reports whether cfg differs from the configuration the
// currently running supervisor was built with, in any field that requires
// a respawn (platform or filters can't be hot-swapped onto a live feed).
func configChanged(running, desired model.ListenerConfig) bool {
	return running.Platform != desired.Platform ||
		!reflect.DeepEqual(running.Filters, desired.Filters) ||
		running.EmitIntervalMs != desired.EmitIntervalMs ||
		running.EnableForwardFill != desired.EnableForwardFill
}

func (m *Manager) spawnListener(cfg model.ListenerConfig) error {
	discoverer, err := m.factory.Discoverer(cfg.Platform)
	if err != nil {
		return err
	}
	feed, err := m.factory.Feed(cfg.Platform)
	if err != nil {
		return err
	}

	adapter := &sink.ProcessorAdapter{Sink: m.sinkImpl}
	proc := processor.New(cfg.ID, adapter)
	sup := listener.New(cfg, discoverer, feed, proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	rl := &runningListener{cfg: cfg, sup: sup, proc: proc, cancel: cancel, done: done}

	m.mu.Lock()
	m.running[cfg.ID] = rl
	m.mu.Unlock()

	go func() {
		defer close(done)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { proc.Run(gctx); return nil })
		g.Go(func() error { return sup.Run(gctx) })
		if err := g.Wait(); err != nil && err != context.Canceled {
			log.Printf("manager: listener %s exited with error: %v", cfg.ID, err)
		}
	}()

	log.Printf("manager: started listener %s (platform=%s)", cfg.ID, cfg.Platform)
	return nil
}

func (m *Manager) stopListener(rl *runningListener) {
	rl.cancel()

	select {
	case <-rl.done:
	case <-time.After(m.shutdownGrace):
		log.Printf("manager: listener %s did not stop within shutdown grace period", rl.cfg.ID)
	}

	m.mu.Lock()
	delete(m.running, rl.cfg.ID)
	m.mu.Unlock()

	log.Printf("manager: stopped listener %s", rl.cfg.ID)
}

// shutdownAll stops every running listener in parallel, each bounded by
// m.shutdownGrace, so one stuck listener doesn't delay the rest.
func (m *Manager) shutdownAll() {
	m.mu.Lock()
	listeners := make([]*runningListener, 0, len(m.running))
	for _, rl := range m.running {
		listeners = append(listeners, rl)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, rl := range listeners {
		wg.Add(1)
		go func(rl *runningListener) {
			defer wg.Done()
			m.stopListener(rl)
		}(rl)
	}
	wg.Wait()
}
