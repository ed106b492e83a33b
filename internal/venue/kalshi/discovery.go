package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

const (
	defaultRESTBaseURL = "https://trading-api.kalshi.com/trade-api/v2"
	requestTimeout      = 30 * time.Second
	requestsPerSecond   = 5
)

type marketsResponse struct {
	Markets []kalshiMarket `json:"markets"`
	Cursor  string         `json:"cursor"`
}

type kalshiMarket struct {
	Ticker       string  `json:"ticker"`
	EventTicker  string  `json:"event_ticker"`
	SeriesTicker string  `json:"series_ticker"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	OpenTime     string  `json:"open_time"`
	CloseTime    string  `json:"close_time"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
}

// Discoverer queries Kalshi's authenticated market listing endpoint,
// paginating via the cursor Kalshi returns.
type Discoverer struct {
	baseURL string
	signer  *Signer
	http    *http.Client
	limiter *rate.Limiter
}

// NewDiscoverer builds a Discoverer against the given REST base URL (pass ""
// for production) using signer for request authentication. Pagination
// requests are throttled to requestsPerSecond, same policy as Polymarket's
// discoverer, to stay well clear of Kalshi's documented rate limits.
func NewDiscoverer(baseURL string, signer *Signer) *Discoverer {
	if baseURL == "" {
		baseURL = defaultRESTBaseURL
	}
	return &Discoverer{
		baseURL: baseURL,
		signer:  signer,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// Discover implements venue.Discoverer.
func (d *Discoverer) Discover(ctx context.Context, filters model.Filters) ([]model.Market, error) {
	kf := filters.Kalshi
	if kf == nil {
		kf = &model.KalshiFilters{}
	}

	var out []model.Market
	cursor := ""
	for {
		page, next, err := d.fetchPage(ctx, kf, cursor)
		if err != nil {
			return nil, err
		}
		for _, km := range page {
			m, ok := marketFromKalshi(km, kf)
			if ok {
				out = append(out, m)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (d *Discoverer) fetchPage(ctx context.Context, kf *model.KalshiFilters, cursor string) ([]kalshiMarket, string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	u, err := url.Parse(d.baseURL + "/markets")
	if err != nil {
		return nil, "", err
	}
	q := u.Query()
	q.Set("limit", "100")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if kf.Status != "" {
		q.Set("status", string(kf.Status))
	}
	if len(kf.SeriesTickers) > 0 {
		q.Set("series_ticker", kf.SeriesTickers[0])
	}
	if len(kf.EventTickers) > 0 {
		q.Set("event_ticker", kf.EventTickers[0])
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}

	headers, err := d.signer.Headers(http.MethodGet, u.Path)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: sign request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: markets request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, "", fmt.Errorf("kalshi: markets request: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("kalshi: markets returned status %d", resp.StatusCode)
	}

	var parsed marketsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode markets: %w", err)
	}
	return parsed.Markets, parsed.Cursor, nil
}

func marketFromKalshi(km kalshiMarket, kf *model.KalshiFilters) (model.Market, bool) {
	if kf.MinVolume > 0 && km.Volume < kf.MinVolume {
		return model.Market{}, false
	}
	if kf.MinOpenInterest > 0 && km.OpenInterest < kf.MinOpenInterest {
		return model.Market{}, false
	}
	if kf.TitleContains != "" && !strings.Contains(strings.ToLower(km.Title), strings.ToLower(kf.TitleContains)) {
		return model.Market{}, false
	}
	if len(kf.MarketTickers) > 0 && !containsTicker(kf.MarketTickers, km.Ticker) {
		return model.Market{}, false
	}

	start, _ := time.Parse(time.RFC3339, km.OpenTime)
	end, _ := time.Parse(time.RFC3339, km.CloseTime)

	return model.Market{
		Platform:  model.PlatformKalshi,
		TokenID:   km.Ticker,
		Slug:      km.Ticker,
		Title:     km.Title,
		SeriesID:  km.SeriesTicker,
		StartTime: start,
		EndTime:   end,
		IsActive:  km.Status == string(model.KalshiStatusOpen),
		IsClosed:  km.Status == string(model.KalshiStatusClosed) || km.Status == string(model.KalshiStatusSettled),
		State:     model.StateDiscovered,
	}, true
}

func containsTicker(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
