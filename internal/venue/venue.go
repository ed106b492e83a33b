// Package venue defines the capability interfaces every market-data source
// implements: discovery of tradeable markets and a live event feed. Concrete
// venues live in the polymarket and kalshi subpackages; Factory selects the
// right pair by platform, mirroring how the teacher keyed its constraint
// tables by adapter.Exchange.
package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

// ErrAuthFailed is returned by Discoverer/Feed when venue credentials are
// rejected. It is treated as fatal by the listener supervisor: unlike a
// transient network error it will not heal on retry.
var ErrAuthFailed = errors.New("venue: authentication failed")

// ErrUnknownMarket names an unsubscribe of a token that was never
// subscribed. Neither venue feed in this repo returns it: both Unsubscribe
// implementations send the request regardless.
var ErrUnknownMarket = errors.New("venue: unknown market")

// Discoverer enumerates tradeable markets for one venue, applying a
// listener's configured filters.
type Discoverer interface {
	// Discover returns the current set of markets matching filters. It is
	// called on the listener's discovery_interval_s cadence.
	Discover(ctx context.Context, filters model.Filters) ([]model.Market, error)
}

// Event is the sum type produced by a Feed: exactly one of Snapshot or Trade
// is non-nil.
type Event struct {
	Snapshot *model.OrderbookSnapshot
	Trade    *model.Trade
}

// Feed is a live, subscribable connection to a venue's market-data stream.
type Feed interface {
	// Connect establishes the underlying transport. A Feed is connected
	// once: Close also closes its Events channel, so a closed Feed is not
	// reconnected by calling Connect again.
	Connect(ctx context.Context) error

	// Subscribe requests updates for the given market (token ID or ticker,
	// venue-specific).
	Subscribe(market model.Market) error

	// Unsubscribe stops updates for a previously subscribed market.
	Unsubscribe(market model.Market) error

	// Events returns the channel of normalized events. Closed when the feed
	// is closed.
	Events() <-chan Event

	// Close tears down the underlying transport.
	Close() error
}

// Factory builds a Discoverer/Feed pair for a platform.
type Factory interface {
	Discoverer(platform model.Platform) (Discoverer, error)
	Feed(platform model.Platform) (Feed, error)
}

// registryFactory is the default Factory, built once at startup from the
// concrete venue constructors.
type registryFactory struct {
	discoverers map[model.Platform]Discoverer
	feeds       map[model.Platform]func() (Feed, error)
}

// NewFactory builds a Factory from explicit per-platform discoverers and feed
// constructors (feeds are constructed fresh per listener since each owns its
// own wsclient.Client).
func NewFactory(discoverers map[model.Platform]Discoverer, feedBuilders map[model.Platform]func() (Feed, error)) Factory {
	return &registryFactory{discoverers: discoverers, feeds: feedBuilders}
}

func (f *registryFactory) Discoverer(platform model.Platform) (Discoverer, error) {
	d, ok := f.discoverers[platform]
	if !ok {
		return nil, fmt.Errorf("venue: no discoverer registered for platform %q", platform)
	}
	return d, nil
}

func (f *registryFactory) Feed(platform model.Platform) (Feed, error) {
	build, ok := f.feeds[platform]
	if !ok {
		return nil, fmt.Errorf("venue: no feed registered for platform %q", platform)
	}
	return build()
}
