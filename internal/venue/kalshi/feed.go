package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/lobcapture/internal/model"
	"github.com/caesar-terminal/lobcapture/internal/venue"
	"github.com/caesar-terminal/lobcapture/internal/wsclient"
)

const defaultWSURL = "wss://trading-api.kalshi.com" + wsPath

type command struct {
	ID     int           `json:"id"`
	Cmd    string        `json:"cmd"`
	Params commandParams `json:"params"`
}

type commandParams struct {
	Channels     []string `json:"channels"`
	MarketTicker string   `json:"market_ticker"`
}

type rawEnvelope struct {
	Type string `json:"type"`
}

type rawSnapshot struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string   `json:"market_ticker"`
		MarketID     string   `json:"market_id"`
		Yes          [][2]int `json:"yes"`
		No           [][2]int `json:"no"`
		Ts           string   `json:"ts"`
	} `json:"msg"`
}

type rawDelta struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		MarketID     string `json:"market_id"`
		Price        int    `json:"price"`
		Delta        int    `json:"delta"`
		Side         string `json:"side"`
		Ts           string `json:"ts"`
	} `json:"msg"`
}

type rawTrade struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		MarketID     string `json:"market_id"`
		YesPrice     int    `json:"yes_price"`
		Count        int    `json:"count"`
		TakerSide    string `json:"taker_side"`
		Ts           string `json:"ts"`
	} `json:"msg"`
}

// parseTsMs converts a Kalshi wire timestamp, expressed in seconds (as a
// decimal string), to milliseconds. Falls back to wall-clock time if s is
// empty or unparseable, since a missing timestamp shouldn't drop the event.
func parseTsMs(s string) int64 {
	if s == "" {
		return time.Now().UnixMilli()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return int64(f * 1000)
}

// orderBook is the per-market cents→quantity state a snapshot/delta pair is
// applied against, carried over from the teacher's KalshiAdapter.
type orderBook struct {
	marketTicker string
	marketID     string
	yes          map[int]int // cents -> quantity
	no           map[int]int
	lastTsMs     int64
}

// Feed implements venue.Feed against Kalshi's orderbook WebSocket channel.
type Feed struct {
	listenerID string
	signer     *Signer
	ws         *wsclient.Client
	events     chan venue.Event

	mu    sync.Mutex
	books map[string]*orderBook // keyed by market_ticker
	cmdID int
}

// NewFeed builds a Feed authenticated with signer.
func NewFeed(listenerID string, signer *Signer) *Feed {
	return &Feed{
		listenerID: listenerID,
		signer:     signer,
		events:     make(chan venue.Event, 1024),
		books:      make(map[string]*orderBook),
	}
}

func (f *Feed) Connect(ctx context.Context) error {
	headers, err := f.signer.Headers("GET", wsPath)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrAuthFailed, err)
	}

	cfg := wsclient.DefaultConfig(defaultWSURL)
	cfg.Headers = headers
	f.ws = wsclient.New(cfg)
	f.ws.OnReconnect(func() {
		log.Printf("kalshi: feed reconnected for listener %s", f.listenerID)
	})

	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("kalshi: connect: %w", err)
	}
	go f.run(ctx)
	return nil
}

func (f *Feed) Subscribe(market model.Market) error {
	f.mu.Lock()
	f.cmdID++
	id := f.cmdID
	f.mu.Unlock()

	msg, err := json.Marshal(command{
		ID:  id,
		Cmd: "subscribe",
		Params: commandParams{
			Channels:     []string{"orderbook_delta", "trade"},
			MarketTicker: market.TokenID,
		},
	})
	if err != nil {
		return err
	}
	f.ws.Send(msg)
	return nil
}

func (f *Feed) Unsubscribe(market model.Market) error {
	f.mu.Lock()
	f.cmdID++
	id := f.cmdID
	f.mu.Unlock()

	msg, err := json.Marshal(command{
		ID:  id,
		Cmd: "unsubscribe",
		Params: commandParams{
			Channels:     []string{"orderbook_delta", "trade"},
			MarketTicker: market.TokenID,
		},
	})
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
	if f.ws != nil {
		f.ws.Close()
	}
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
		log.Printf("kalshi: invalid JSON: %v", err)
		return
	}

	switch env.Type {
	case "orderbook_snapshot":
		f.handleSnapshot(raw)
	case "orderbook_delta":
		f.handleDelta(raw)
	case "trade":
		f.handleTrade(raw)
	default:
		// Fill/lifecycle channels not subscribed; ignore anything else.
	}
}

func (f *Feed) handleSnapshot(raw []byte) {
	var snap rawSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		log.Printf("kalshi: parse snapshot: %v", err)
		return
	}

	book := &orderBook{
		marketTicker: snap.Msg.MarketTicker,
		marketID:     snap.Msg.MarketID,
		yes:          make(map[int]int, len(snap.Msg.Yes)),
		no:           make(map[int]int, len(snap.Msg.No)),
		lastTsMs:     parseTsMs(snap.Msg.Ts),
	}
	for _, level := range snap.Msg.Yes {
		book.yes[level[0]] = level[1]
	}
	for _, level := range snap.Msg.No {
		book.no[level[0]] = level[1]
	}

	f.mu.Lock()
	f.books[snap.Msg.MarketTicker] = book
	f.mu.Unlock()

	f.emitSnapshot(book)
}

func (f *Feed) handleDelta(raw []byte) {
	var delta rawDelta
	if err := json.Unmarshal(raw, &delta); err != nil {
		log.Printf("kalshi: parse delta: %v", err)
		return
	}

	f.mu.Lock()
	book, ok := f.books[delta.Msg.MarketTicker]
	if !ok {
		f.mu.Unlock()
		return
	}

	side := book.yes
	if delta.Msg.Side == "no" {
		side = book.no
	}
	newQty := side[delta.Msg.Price] + delta.Msg.Delta
	if newQty <= 0 {
		delete(side, delta.Msg.Price)
	} else {
		side[delta.Msg.Price] = newQty
	}
	book.lastTsMs = parseTsMs(delta.Msg.Ts)
	f.mu.Unlock()

	f.emitSnapshot(book)
}

func (f *Feed) handleTrade(raw []byte) {
	var t rawTrade
	if err := json.Unmarshal(raw, &t); err != nil {
		log.Printf("kalshi: parse trade: %v", err)
		return
	}

	cents := t.Msg.YesPrice
	if cents < 1 {
		cents = 1
	}
	if cents > 99 {
		cents = 99
	}
	price := decimal.New(int64(cents), -2)
	size := decimal.New(int64(t.Msg.Count), 0)

	side := model.SideBuy
	if t.Msg.TakerSide == "no" {
		side = model.SideSell
	}

	trade := &model.Trade{
		RecordID:    uuid.New(),
		ListenerID:  f.listenerID,
		Platform:    model.PlatformKalshi,
		AssetID:     t.Msg.MarketTicker,
		Market:      t.Msg.MarketID,
		TimestampMs: parseTsMs(t.Msg.Ts),
		Price:       price,
		Size:        size,
		Side:        side,
		RawPayload:  raw,
	}

	select {
	case f.events <- venue.Event{Trade: trade}:
	default:
		log.Printf("kalshi: events channel full, dropping trade for %s", t.Msg.MarketTicker)
	}
}

// emitSnapshot normalizes the book's Yes/No cents maps into a
// model.OrderbookSnapshot. Bids are the Yes side at face value; asks are the
// No side *reflected* through 100 cents, since a No offer at N cents is
// economically a Yes ask at (100-N) cents. The teacher's adapter forwarded
// No cents unreflected; that is corrected here.
func (f *Feed) emitSnapshot(book *orderBook) {
	bids := centsToLevels(book.yes, false)
	asks := centsToLevels(book.no, true)

	snap, err := model.NewSnapshot(f.listenerID, model.PlatformKalshi, book.marketTicker, book.marketID, bids, asks, book.lastTsMs)
	if err != nil {
		log.Printf("kalshi: invalid snapshot for %s: %v", book.marketTicker, err)
		return
	}

	select {
	case f.events <- venue.Event{Snapshot: snap}:
	default:
		log.Printf("kalshi: events channel full, dropping snapshot for %s", book.marketTicker)
	}
}

// centsToLevels converts a cents→quantity map into sorted OrderLevels.
// reflect applies the No→Ask transform (100-cents)/100; otherwise the Yes
// side is used at face value cents/100. Cents are clamped to [1,99] before
// reflection so a 0- or 100-cent resting order never produces an
// out-of-[0,1] price.
func centsToLevels(m map[int]int, reflect bool) []model.OrderLevel {
	out := make([]model.OrderLevel, 0, len(m))
	for cents, qty := range m {
		c := cents
		if c < 1 {
			c = 1
		}
		if c > 99 {
			c = 99
		}
		priceInt := c
		if reflect {
			priceInt = 100 - c
		}
		price := decimal.New(int64(priceInt), -2)
		size := decimal.New(int64(qty), 0)
		out = append(out, model.OrderLevel{Price: price, Size: size})
	}
	// Bids (the Yes side, reflect=false) must sort descending; asks (the
	// reflected No side) must sort ascending, per model.NewSnapshot.
	sort.Slice(out, func(i, j int) bool {
		if reflect {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Price.GreaterThan(out[j].Price)
	})
	return out
}
