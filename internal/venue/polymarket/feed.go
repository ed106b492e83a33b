package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/lobcapture/internal/model"
	"github.com/caesar-terminal/lobcapture/internal/venue"
	"github.com/caesar-terminal/lobcapture/internal/wsclient"
)

const (
	wsURL        = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	pingInterval = 5 * time.Second
	idleTimeout  = 30 * time.Second
)

type subscribeMsg struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// unsubscribeMsg is the subscribe payload shape plus an explicit operation
// field — Polymarket has no separate "market_unsubscribe" message type.
type unsubscribeMsg struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

type rawEnvelope struct {
	EventType string `json:"event_type"`
}

type rawPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type rawBookEvent struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Bids      []rawPriceLevel `json:"bids"`
	Asks      []rawPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
}

type rawPriceChangeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Changes   []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
		Side  string `json:"side"` // "BUY" or "SELL"
	} `json:"changes"`
	Timestamp string `json:"timestamp"`
}

type rawLastTradeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// bookState is the last known snapshot for one asset, kept so price_change
// deltas can be applied against it.
type bookState struct {
	listenerID string
	market     string
	bids       map[string]decimal.Decimal // price string -> size
	asks       map[string]decimal.Decimal
}

// Feed implements venue.Feed against Polymarket's CLOB market-data
// WebSocket.
type Feed struct {
	listenerID string
	ws         *wsclient.Client
	events     chan venue.Event

	mu     sync.Mutex
	books  map[string]*bookState // keyed by asset_id
}

// NewFeed builds a Feed for the given listener. listenerID is stamped onto
// every emitted event.
func NewFeed(listenerID string) *Feed {
	cfg := wsclient.DefaultConfig(wsURL)
	cfg.PingInterval = pingInterval
	cfg.PingPayload = []byte(`{"type":"ping"}`)
	cfg.IdleTimeout = idleTimeout

	return &Feed{
		listenerID: listenerID,
		ws:         wsclient.New(cfg),
		events:     make(chan venue.Event, 1024),
		books:      make(map[string]*bookState),
	}
}

func (f *Feed) Connect(ctx context.Context) error {
	f.ws.OnReconnect(func() {
		log.Printf("polymarket: feed reconnected for listener %s", f.listenerID)
	})
	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("polymarket: connect: %w", err)
	}
	go f.run(ctx)
	return nil
}

func (f *Feed) Subscribe(market model.Market) error {
	msg, err := json.Marshal(subscribeMsg{Type: "market", AssetsIDs: []string{market.TokenID}})
	if err != nil {
		return err
	}
	f.ws.Send(msg)
	return nil
}

func (f *Feed) Unsubscribe(market model.Market) error {
	msg, err := json.Marshal(unsubscribeMsg{Type: "market", AssetsIDs: []string{market.TokenID}, Operation: "unsubscribe"})
	if err != nil {
		return err
	}
	f.ws.Send(msg)

	f.mu.Lock()
	delete(f.books, market.TokenID)
	f.mu.Unlock()
	return nil
}

func (f *Feed) Events() <-chan venue.Event {
	return f.events
}

func (f *Feed) Close() error {
	f.ws.Close()
	close(f.events)
	return nil
}

func (f *Feed) run(ctx context.Context) {
	sub := f.ws.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			f.handleMessage(raw)
		}
	}
}

func (f *Feed) handleMessage(raw []byte) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("polymarket: invalid JSON: %v", err)
		return
	}

	switch env.EventType {
	case "book":
		f.handleBook(raw)
	case "price_change":
		f.handlePriceChange(raw)
	case "last_trade_price":
		f.handleLastTrade(raw)
	default:
		// tick_size_change and other event types carry no book/trade data.
	}
}

func (f *Feed) handleBook(raw []byte) {
	var ev rawBookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("polymarket: parse book event: %v", err)
		return
	}

	bids := make(map[string]decimal.Decimal, len(ev.Bids))
	asks := make(map[string]decimal.Decimal, len(ev.Asks))
	for _, l := range ev.Bids {
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		bids[l.Price] = size
	}
	for _, l := range ev.Asks {
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		asks[l.Price] = size
	}

	f.mu.Lock()
	f.books[ev.AssetID] = &bookState{listenerID: f.listenerID, market: ev.Market, bids: bids, asks: asks}
	f.mu.Unlock()

	f.emitSnapshot(ev.AssetID, ev.Market, parseTimestampMs(ev.Timestamp))
}

func (f *Feed) handlePriceChange(raw []byte) {
	var ev rawPriceChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("polymarket: parse price_change event: %v", err)
		return
	}

	f.mu.Lock()
	book, ok := f.books[ev.AssetID]
	if !ok {
		// No prior snapshot to apply a delta against: treat as a fresh book.
		book = &bookState{listenerID: f.listenerID, market: ev.Market, bids: map[string]decimal.Decimal{}, asks: map[string]decimal.Decimal{}}
		f.books[ev.AssetID] = book
	}
	for _, c := range ev.Changes {
		side := book.bids
		if c.Side == "SELL" {
			side = book.asks
		}
		size, err := decimal.NewFromString(c.Size)
		if err != nil {
			continue
		}
		if size.IsZero() {
			delete(side, c.Price)
		} else {
			// Absent level is inserted, present level is replaced.
			side[c.Price] = size
		}
	}
	f.mu.Unlock()

	f.emitSnapshot(ev.AssetID, ev.Market, parseTimestampMs(ev.Timestamp))
}

func (f *Feed) handleLastTrade(raw []byte) {
	var ev rawLastTradeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("polymarket: parse last_trade_price event: %v", err)
		return
	}

	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return
	}
	size, err := decimal.NewFromString(ev.Size)
	if err != nil {
		return
	}

	side := model.SideBuy
	if ev.Side == "SELL" {
		side = model.SideSell
	}

	trade := &model.Trade{
		RecordID:    uuid.New(),
		ListenerID:  f.listenerID,
		Platform:    model.PlatformPolymarket,
		AssetID:     ev.AssetID,
		Market:      ev.Market,
		TimestampMs: parseTimestampMs(ev.Timestamp),
		Price:       price,
		Size:        size,
		Side:        side,
		RawPayload:  raw,
	}

	select {
	case f.events <- venue.Event{Trade: trade}:
	default:
		log.Printf("polymarket: events channel full, dropping trade for %s", ev.AssetID)
	}
}

// emitSnapshot builds and sends a model.OrderbookSnapshot from the current
// in-memory book for assetID.
func (f *Feed) emitSnapshot(assetID, market string, timestampMs int64) {
	f.mu.Lock()
	book, ok := f.books[assetID]
	if !ok {
		f.mu.Unlock()
		return
	}
	bids := sortedLevels(book.bids, true)
	asks := sortedLevels(book.asks, false)
	f.mu.Unlock()

	snap, err := model.NewSnapshot(f.listenerID, model.PlatformPolymarket, assetID, market, bids, asks, timestampMs)
	if err != nil {
		log.Printf("polymarket: invalid snapshot for %s: %v", assetID, err)
		return
	}

	select {
	case f.events <- venue.Event{Snapshot: snap}:
	default:
		log.Printf("polymarket: events channel full, dropping snapshot for %s", assetID)
	}
}

func parseTimestampMs(s string) int64 {
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return time.Now().UnixMilli()
	}
	return ms
}
