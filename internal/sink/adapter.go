package sink

import (
	"context"

	"github.com/caesar-terminal/lobcapture/internal/metrics"
	"github.com/caesar-terminal/lobcapture/internal/processor"
)

const (
	TableOrderbookSnapshots = "orderbook_snapshots"
	TableTrades             = "trades"
	TableMarkets            = "markets"
)

// ProcessorAdapter implements processor.Sink by routing each Event kind to
// the appropriate table on an underlying Sink. This is the only place that
// knows how processor.Event maps onto storage tables.
type ProcessorAdapter struct {
	Sink Sink
}

func (a *ProcessorAdapter) HandleEvent(ctx context.Context, ev processor.Event) error {
	switch ev.Kind {
	case processor.EventOrderbookSnapshot:
		forwardFilled := "false"
		if ev.Snapshot.IsForwardFilled {
			forwardFilled = "true"
		}
		metrics.SnapshotsEmittedTotal.WithLabelValues(ev.Snapshot.ListenerID, forwardFilled).Inc()
		return a.Sink.Append(ctx, TableOrderbookSnapshots, ev.Snapshot)
	case processor.EventTrade:
		return a.Sink.Append(ctx, TableTrades, ev.Trade)
	case processor.EventMarketDiscovered, processor.EventMarketStateChange:
		return a.Sink.Append(ctx, TableMarkets, ev.Market)
	case processor.EventMarketRemoved:
		return a.Sink.Append(ctx, TableMarkets, ev.Market)
	default:
		return nil
	}
}
