// Package listener supervises one configured listener end to end: venue
// discovery, feed connect/reconnect, health tracking, and forwarding
// normalized events into the processor. It generalizes the teacher's
// cmd/caesar signal-driven main loop into a per-listener state machine so
// many listeners can run concurrently under one manager.
package listener

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/caesar-terminal/lobcapture/internal/metrics"
	"github.com/caesar-terminal/lobcapture/internal/model"
	"github.com/caesar-terminal/lobcapture/internal/processor"
	"github.com/caesar-terminal/lobcapture/internal/venue"
)

// State is the supervisor's explicit lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateDegraded
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Supervisor owns one listener's full lifecycle: periodic discovery, feed
// connection, health tracking, and event forwarding to a processor.
type Supervisor struct {
	cfg        model.ListenerConfig
	discoverer venue.Discoverer
	feed       venue.Feed
	proc       *processor.Processor
	health     *HealthTracker

	breaker *gobreaker.CircuitBreaker[struct{}]

	mu          sync.RWMutex
	state       State
	subscribed  map[string]model.Market // keyed by Market.ID()
}

// New builds a Supervisor for one listener. feed is not yet connected;
// Supervisor.Run connects it once and closes it on exit. Reconnects after a
// dropped connection happen inside the feed's wsclient.Client, not here.
func New(cfg model.ListenerConfig, discoverer venue.Discoverer, feed venue.Feed, proc *processor.Processor) *Supervisor {
	breakerSettings := gobreaker.Settings{
		Name:        fmt.Sprintf("listener/%s/feed", cfg.ID),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Supervisor{
		cfg:        cfg,
		discoverer: discoverer,
		feed:       feed,
		proc:       proc,
		health:     NewHealthTracker(DefaultHealthConfig()),
		breaker:    gobreaker.NewCircuitBreaker[struct{}](breakerSettings),
		state:      StateIdle,
		subscribed: make(map[string]model.Market),
	}
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	if prev != st {
		metrics.ListenerState.WithLabelValues(s.cfg.ID, prev.String()).Set(0)
		metrics.ListenerState.WithLabelValues(s.cfg.ID, st.String()).Set(1)
	}
}

// Run drives the supervisor until ctx is cancelled: connects the feed,
// and runs discovery, health-polling, and event-forwarding concurrently
// via an errgroup so a failure in any one tears down all four.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateStarting)

	connectOp := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.feed.Connect(ctx)
	}
	if _, err := s.breaker.Execute(func() (struct{}, error) { return connectOp(ctx) }); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("listener %s: initial connect: %w", s.cfg.ID, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.runDiscovery(gctx) })
	g.Go(func() error { return s.runHealthPoll(gctx) })
	g.Go(func() error { return s.runEventForwarding(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	s.setState(StateRunning)
	err := g.Wait()

	s.setState(StateStopping)
	closeErr := s.feed.Close()
	s.setState(StateStopped)

	if err != nil && err != context.Canceled {
		return err
	}
	return closeErr
}

// runDiscovery re-discovers markets on cfg.DiscoveryIntervalS, subscribing
// new ones and unsubscribing ones no longer returned.
func (s *Supervisor) runDiscovery(ctx context.Context) error {
	interval := time.Duration(s.cfg.DiscoveryIntervalS) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.discoverAndSubscribe(ctx); err != nil {
		log.Printf("listener %s: initial discovery failed: %v", s.cfg.ID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.discoverAndSubscribe(ctx); err != nil {
				log.Printf("listener %s: discovery failed: %v", s.cfg.ID, err)
			}
		}
	}
}

func (s *Supervisor) discoverAndSubscribe(ctx context.Context) error {
	markets, err := s.discoverer.Discover(ctx, s.cfg.Filters)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		m.ListenerID = s.cfg.ID
		id := m.ID()
		seen[id] = struct{}{}

		s.mu.Lock()
		_, already := s.subscribed[id]
		s.mu.Unlock()
		if already {
			continue
		}

		if err := s.feed.Subscribe(m); err != nil {
			log.Printf("listener %s: subscribe %s failed: %v", s.cfg.ID, id, err)
			continue
		}
		s.mu.Lock()
		s.subscribed[id] = m
		s.mu.Unlock()

		s.proc.Submit(ctx, processor.Event{Kind: processor.EventMarketDiscovered, Market: &m})
	}

	s.mu.Lock()
	var toRemove []model.Market
	for id, m := range s.subscribed {
		if _, ok := seen[id]; !ok {
			toRemove = append(toRemove, m)
		}
	}
	s.mu.Unlock()

	for _, m := range toRemove {
		if err := s.feed.Unsubscribe(m); err != nil {
			log.Printf("listener %s: unsubscribe %s failed: %v", s.cfg.ID, m.ID(), err)
		}
		s.mu.Lock()
		delete(s.subscribed, m.ID())
		s.mu.Unlock()
		s.health.Remove(m.ID())

		mCopy := m
		s.proc.Submit(ctx, processor.Event{Kind: processor.EventMarketRemoved, Market: &mCopy})
	}

	return nil
}

// runHealthPoll periodically checks per-market staleness, transitioning the
// supervisor between Running and Degraded.
func (s *Supervisor) runHealthPoll(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.health.AnyStale() {
				if s.State() == StateRunning {
					s.setState(StateDegraded)
				}
			} else if s.State() == StateDegraded {
				s.setState(StateRunning)
			}
		}
	}
}

// runEventForwarding drains feed.Events() into the processor, recording
// health for every snapshot/trade observed.
func (s *Supervisor) runEventForwarding(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.feed.Events():
			if !ok {
				return fmt.Errorf("listener %s: feed event channel closed", s.cfg.ID)
			}
			s.forward(ctx, ev)
		}
	}
}

func (s *Supervisor) forward(ctx context.Context, ev venue.Event) {
	switch {
	case ev.Snapshot != nil:
		s.health.RecordUpdate(s.cfg.ID + "/" + ev.Snapshot.AssetID)
		s.proc.Submit(ctx, processor.Event{Kind: processor.EventOrderbookSnapshot, Snapshot: ev.Snapshot})
	case ev.Trade != nil:
		s.health.RecordUpdate(s.cfg.ID + "/" + ev.Trade.AssetID)
		s.proc.Submit(ctx, processor.Event{Kind: processor.EventTrade, Trade: ev.Trade})
	}
}
