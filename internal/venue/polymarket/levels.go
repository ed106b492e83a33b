package polymarket

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/lobcapture/internal/model"
)

// sortedLevels converts a price-string-keyed size map into OrderLevels sorted
// descending (bids) or ascending (asks), as model.NewSnapshot requires.
func sortedLevels(m map[string]decimal.Decimal, descending bool) []model.OrderLevel {
	out := make([]model.OrderLevel, 0, len(m))
	for priceStr, size := range m {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		out = append(out, model.OrderLevel{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
