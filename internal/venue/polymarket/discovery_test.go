package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

func TestParseTokenIDs(t *testing.T) {
	yes, no := ParseTokenIDs(`["1111","2222"]`)
	if yes != "1111" || no != "2222" {
		t.Fatalf("got yes=%q no=%q", yes, no)
	}

	yes, no = ParseTokenIDs("")
	if yes != "" || no != "" {
		t.Fatalf("expected empty pair for empty input, got yes=%q no=%q", yes, no)
	}
}

func TestDiscoverer_FansOutYesAndNoMarkets(t *testing.T) {
	page1 := make([]gammaMarket, defaultPageSize)
	for i := range page1 {
		page1[i] = gammaMarket{
			ConditionID:  "cond",
			Slug:         "will-it-happen",
			Question:     "Will it happen?",
			ClobTokenIds: `["yes-tok","no-tok"]`,
			Active:       true,
		}
	}

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		offset := r.URL.Query().Get("offset")
		if offset == "0" {
			json.NewEncoder(w).Encode(page1)
			return
		}
		json.NewEncoder(w).Encode([]gammaMarket{})
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.URL)
	markets, err := d.Discover(context.Background(), model.Filters{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(markets) != len(page1)*2 {
		t.Fatalf("expected %d markets (YES+NO per page entry), got %d", len(page1)*2, len(markets))
	}
	if requests != 2 {
		t.Fatalf("expected discoverer to fetch a second, empty page to terminate pagination, got %d requests", requests)
	}
}

func TestDiscoverer_AppliesMinLiquidityFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			json.NewEncoder(w).Encode([]gammaMarket{})
			return
		}
		json.NewEncoder(w).Encode([]gammaMarket{
			{ConditionID: "low", ClobTokenIds: `["y1","n1"]`, Liquidity: 10, Active: true},
			{ConditionID: "high", ClobTokenIds: `["y2","n2"]`, Liquidity: 10000, Active: true},
		})
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.URL)
	markets, err := d.Discover(context.Background(), model.Filters{
		Polymarket: &model.PolymarketFilters{MinLiquidity: 100},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	for _, m := range markets {
		if m.ConditionID == "low" {
			t.Fatal("expected low-liquidity market to be filtered out")
		}
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets (YES+NO) from the high-liquidity condition, got %d", len(markets))
	}
}
