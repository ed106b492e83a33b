// Package processor is the strict-priority event drain sitting between
// the listener supervisor and the sink: it generalizes the teacher's
// single unbuffered Broadcaster fan-in into a two-queue design so a burst
// of lifecycle control events never head-of-line-blocks market data.
package processor

import (
	"context"
	"log"

	"github.com/caesar-terminal/lobcapture/internal/metrics"
	"github.com/caesar-terminal/lobcapture/internal/model"
)

const (
	dataQueueCapacity    = 10000
	controlQueueCapacity = 1000
)

// EventKind discriminates the Event union.
type EventKind int

const (
	EventOrderbookSnapshot EventKind = iota
	EventTrade
	EventMarketDiscovered
	EventMarketRemoved
	EventMarketStateChange
)

// Event is the sum type flowing through a Processor's queues.
type Event struct {
	Kind     EventKind
	Snapshot *model.OrderbookSnapshot
	Trade    *model.Trade
	Market   *model.Market
}

func (e EventKind) isControl() bool {
	return e == EventMarketDiscovered || e == EventMarketRemoved || e == EventMarketStateChange
}

// Sink is the minimal interface a Processor drains events into; satisfied
// by sink.Sink via a thin adapter (see internal/sink).
type Sink interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// Processor owns the two priority queues and drains them into a Sink.
type Processor struct {
	listenerID   string
	dataQueue    chan Event
	controlQueue chan Event
	sink         Sink
}

// New creates a Processor for one listener, draining into sink.
func New(listenerID string, sink Sink) *Processor {
	return &Processor{
		listenerID:   listenerID,
		dataQueue:    make(chan Event, dataQueueCapacity),
		controlQueue: make(chan Event, controlQueueCapacity),
		sink:         sink,
	}
}

// Submit enqueues an event. When the data queue is full, a data event
// (snapshot/trade) evicts the oldest queued data event to make room and
// increments metrics.DroppedEvents; control events (market lifecycle) block
// the caller until there is room, per the backpressure policy: discovery
// must never silently lose a lifecycle transition.
func (p *Processor) Submit(ctx context.Context, ev Event) {
	if ev.Kind.isControl() {
		select {
		case p.controlQueue <- ev:
		case <-ctx.Done():
		}
		return
	}

	for {
		select {
		case p.dataQueue <- ev:
			return
		default:
		}
		select {
		case <-p.dataQueue:
			metrics.DroppedEvents.WithLabelValues(p.listenerID).Inc()
			log.Printf("processor: data queue full for listener %s, dropping oldest event", p.listenerID)
		default:
		}
	}
}

// Run drains both queues until ctx is cancelled. The data queue is always
// checked first via a non-blocking nested select, so book/trade data is
// never head-of-line-blocked behind a burst of control events; if neither
// queue has anything ready, it falls back to a blocking select over both so
// the goroutine doesn't spin.
func (p *Processor) Run(ctx context.Context) {
	for {
		metrics.QueueDepth.WithLabelValues(p.listenerID, "data").Set(float64(len(p.dataQueue)))
		metrics.QueueDepth.WithLabelValues(p.listenerID, "control").Set(float64(len(p.controlQueue)))

		select {
		case <-ctx.Done():
			return
		case ev := <-p.dataQueue:
			p.dispatch(ctx, ev)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case ev := <-p.dataQueue:
			p.dispatch(ctx, ev)
		case ev := <-p.controlQueue:
			p.dispatch(ctx, ev)
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, ev Event) {
	if err := p.sink.HandleEvent(ctx, ev); err != nil {
		log.Printf("processor: sink error for listener %s: %v", p.listenerID, err)
	}
}
