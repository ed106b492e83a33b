package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/lobcapture/internal/model"
	"github.com/caesar-terminal/lobcapture/internal/wsclient"
)

// newTestClient builds a wsclient.Client pointed at a local test server with
// no ping interval, so tests aren't racing the production 5s ping cadence.
func newTestClient(url string) *wsclient.Client {
	cfg := wsclient.DefaultConfig(url)
	return wsclient.New(cfg)
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal.NewFromString(%q): %v", s, err)
	}
	return d
}

func testWSURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// captureServer upgrades to WS and captures the first message sent by the
// client, keeping the connection open so the feed doesn't reconnect.
func captureServer(t *testing.T) (*httptest.Server, <-chan []byte) {
	t.Helper()
	captured := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		captured <- msg
		select {}
	}))
	return srv, captured
}

func TestFeed_SubscribeSendsMarketChannelMessage(t *testing.T) {
	srv, captured := captureServer(t)
	defer srv.Close()

	f := NewFeed("listener-1")
	f.ws = newTestClient(testWSURL(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer f.Close()

	market := model.Market{TokenID: "71321045679252212594626385532706912750332728571942532289631379312455583992563"}
	if err := f.Subscribe(market); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case raw := <-captured:
		var msg subscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal subscription: %v", err)
		}
		if msg.Type != "market" {
			t.Fatalf("expected type 'market', got %q", msg.Type)
		}
		if len(msg.AssetsIDs) != 1 || msg.AssetsIDs[0] != market.TokenID {
			t.Fatalf("unexpected asset IDs: %v", msg.AssetsIDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription message")
	}
}

func TestFeed_UnsubscribeSendsOperationField(t *testing.T) {
	srv, captured := captureServer(t)
	defer srv.Close()

	f := NewFeed("listener-1")
	f.ws = newTestClient(testWSURL(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer f.Close()

	market := model.Market{TokenID: "71321045679252212594626385532706912750332728571942532289631379312455583992563"}
	if err := f.Unsubscribe(market); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	select {
	case raw := <-captured:
		var msg unsubscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal unsubscription: %v", err)
		}
		// There is no real "market_unsubscribe" type: the wire shape reuses
		// the subscribe payload's type and adds an operation field.
		if msg.Type != "market" {
			t.Fatalf("expected type 'market', got %q", msg.Type)
		}
		if msg.Operation != "unsubscribe" {
			t.Fatalf("expected operation 'unsubscribe', got %q", msg.Operation)
		}
		if len(msg.AssetsIDs) != 1 || msg.AssetsIDs[0] != market.TokenID {
			t.Fatalf("unexpected asset IDs: %v", msg.AssetsIDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unsubscription message")
	}
}

func TestFeed_ParseBookEventEmitsSnapshot(t *testing.T) {
	bookJSON := `{
		"event_type": "book",
		"asset_id": "65818619657568813474341868652308942079804919287380422192892211131408793125422",
		"market": "0xbd31dc8a20211944f6b70f31557f1001557b59905b7738480ca09bd4532f84af",
		"bids": [
			{"price": ".48", "size": "30"},
			{"price": ".49", "size": "20"}
		],
		"asks": [
			{"price": ".52", "size": "25"},
			{"price": ".53", "size": "60"}
		],
		"timestamp": "1700000000000"
	}`

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(bookJSON))
		select {}
	}))
	defer srv.Close()

	f := NewFeed("listener-1")
	f.ws = newTestClient(testWSURL(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer f.Close()

	select {
	case ev := <-f.Events():
		if ev.Snapshot == nil {
			t.Fatal("expected a snapshot event")
		}
		snap := ev.Snapshot
		if snap.AssetID != "65818619657568813474341868652308942079804919287380422192892211131408793125422" {
			t.Fatalf("wrong asset ID: %s", snap.AssetID)
		}
		if len(snap.Bids) != 2 || len(snap.Asks) != 2 {
			t.Fatalf("expected 2 bids and 2 asks, got %d/%d", len(snap.Bids), len(snap.Asks))
		}
		// Bids sorted descending: best bid is .49.
		if !snap.Bids[0].Price.Equal(decimalFromString(t, ".49")) {
			t.Fatalf("expected best bid .49, got %s", snap.Bids[0].Price)
		}
		// Asks sorted ascending: best ask is .52.
		if !snap.Asks[0].Price.Equal(decimalFromString(t, ".52")) {
			t.Fatalf("expected best ask .52, got %s", snap.Asks[0].Price)
		}
		if snap.TimestampMs != 1700000000000 {
			t.Fatalf("wrong timestamp: %d", snap.TimestampMs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot event")
	}
}

func TestFeed_PriceChangeInsertsAbsentLevel(t *testing.T) {
	bookJSON := `{"event_type":"book","asset_id":"A1","market":"M1","bids":[{"price":".40","size":"10"}],"asks":[{"price":".60","size":"10"}],"timestamp":"1700000000000"}`
	priceChangeJSON := `{"event_type":"price_change","asset_id":"A1","market":"M1","changes":[{"price":".45","size":"5","side":"BUY"}],"timestamp":"1700000000500"}`

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(bookJSON))
		time.Sleep(50 * time.Millisecond)
		c.WriteMessage(websocket.TextMessage, []byte(priceChangeJSON))
		select {}
	}))
	defer srv.Close()

	f := NewFeed("listener-1")
	f.ws = newTestClient(testWSURL(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer f.Close()

	var last *model.OrderbookSnapshot
	for i := 0; i < 2; i++ {
		select {
		case ev := <-f.Events():
			if ev.Snapshot != nil {
				last = ev.Snapshot
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for snapshots")
		}
	}

	if last == nil || len(last.Bids) != 2 {
		t.Fatalf("expected price_change to insert a new bid level, got %+v", last)
	}
}
