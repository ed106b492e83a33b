// Package polymarket implements the venue.Discoverer/venue.Feed pair for
// Polymarket's Gamma REST API and CLOB WebSocket feed.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

const (
	defaultGammaBaseURL = "https://gamma-api.polymarket.com"
	defaultPageSize     = 100
	requestTimeout      = 30 * time.Second
	requestsPerSecond   = 5
)

// gammaMarket is the subset of Gamma's market object this service needs.
type gammaMarket struct {
	ConditionID    string  `json:"conditionId"`
	Slug           string  `json:"slug"`
	Question       string  `json:"question"`
	ClobTokenIds   string  `json:"clobTokenIds"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
	Active         bool    `json:"active"`
	Closed         bool    `json:"closed"`
	SeriesSlug     string  `json:"seriesSlug"`
	Liquidity      jsonNum `json:"liquidityNum"`
	Volume         jsonNum `json:"volumeNum"`
	EventsOverride []struct {
		Tags []struct {
			Label string `json:"label"`
		} `json:"tags"`
	} `json:"events"`
}

// jsonNum accepts Gamma's habit of returning numeric fields as either a
// JSON number or a numeric string.
type jsonNum float64

func (n *jsonNum) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*n = jsonNum(f)
	return nil
}

// ParseTokenIDs parses a Gamma clobTokenIds JSON string into (yesTokenID,
// noTokenID). Index 0 is YES, index 1 is NO, per Polymarket's convention.
func ParseTokenIDs(raw string) (yes, no string) {
	if raw == "" {
		return "", ""
	}
	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return "", ""
	}
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return tokens[0], ""
	default:
		return tokens[0], tokens[1]
	}
}

// Discoverer queries Gamma for active markets and fans each out into one
// model.Market per outcome token.
type Discoverer struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewDiscoverer builds a Discoverer against the given Gamma base URL; pass ""
// to use the production endpoint. Pagination requests are throttled to
// requestsPerSecond so a large catalog discovery doesn't hammer Gamma.
func NewDiscoverer(baseURL string) *Discoverer {
	if baseURL == "" {
		baseURL = defaultGammaBaseURL
	}
	return &Discoverer{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// Discover implements venue.Discoverer.
func (d *Discoverer) Discover(ctx context.Context, filters model.Filters) ([]model.Market, error) {
	pf := filters.Polymarket
	if pf == nil {
		pf = &model.PolymarketFilters{}
	}

	var out []model.Market
	offset := 0
	for {
		batch, err := d.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, gm := range batch {
			out = append(out, marketsFromGamma(gm, pf)...)
		}
		if len(batch) < defaultPageSize {
			break
		}
		offset += defaultPageSize
	}
	return out, nil
}

func (d *Discoverer) fetchPage(ctx context.Context, offset int) ([]gammaMarket, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(d.baseURL + "/markets")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(defaultPageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("active", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket: gamma request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polymarket: gamma returned status %d", resp.StatusCode)
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("polymarket: decode markets: %w", err)
	}
	return markets, nil
}

// marketsFromGamma applies client-side filters and fans a single Gamma
// market into one model.Market per outcome token.
func marketsFromGamma(gm gammaMarket, pf *model.PolymarketFilters) []model.Market {
	if pf.MinLiquidity > 0 && float64(gm.Liquidity) < pf.MinLiquidity {
		return nil
	}
	if pf.MinVolume > 0 && float64(gm.Volume) < pf.MinVolume {
		return nil
	}
	if len(pf.SlugPatterns) > 0 && !matchesAny(gm.Slug, pf.SlugPatterns) {
		return nil
	}
	if len(pf.ConditionIDs) > 0 && !contains(pf.ConditionIDs, gm.ConditionID) {
		return nil
	}

	yesID, noID := ParseTokenIDs(gm.ClobTokenIds)
	start, _ := time.Parse(time.RFC3339, gm.StartDate)
	end, _ := time.Parse(time.RFC3339, gm.EndDate)

	var tags []string
	for _, ev := range gm.EventsOverride {
		for _, t := range ev.Tags {
			tags = append(tags, t.Label)
		}
	}

	base := model.Market{
		Platform:    model.PlatformPolymarket,
		ConditionID: gm.ConditionID,
		Slug:        gm.Slug,
		Title:       gm.Question,
		SeriesID:    gm.SeriesSlug,
		Tags:        tags,
		StartTime:   start,
		EndTime:     end,
		IsActive:    gm.Active,
		IsClosed:    gm.Closed,
		State:       model.StateDiscovered,
	}

	var out []model.Market
	if yesID != "" {
		m := base
		m.TokenID = yesID
		m.Category = "YES"
		out = append(out, m)
	}
	if noID != "" {
		m := base
		m.TokenID = noID
		m.Category = "NO"
		out = append(out, m)
	}
	return out
}

func matchesAny(slug string, patterns []string) bool {
	lower := strings.ToLower(slug)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
