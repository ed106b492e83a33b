package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors returned by NewSnapshot when the invariants in SPEC_FULL.md
// §4.1 are violated.
var (
	ErrInvalidSnapshot  = errors.New("model: invalid snapshot")
	ErrNonMonotonicBids = fmt.Errorf("%w: bids not sorted price-descending", ErrInvalidSnapshot)
	ErrNonMonotonicAsks = fmt.Errorf("%w: asks not sorted price-ascending", ErrInvalidSnapshot)
	ErrNegativeLevel    = fmt.Errorf("%w: negative price or size", ErrInvalidSnapshot)
	ErrPriceOutOfRange  = fmt.Errorf("%w: price outside [0,1]", ErrInvalidSnapshot)
)

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// OrderbookSnapshot is the unified order book record produced by every venue
// adapter and consumed by the forward-filler, processor, and sink.
type OrderbookSnapshot struct {
	RecordID          uuid.UUID       `col:"record_id"`
	ListenerID        string          `col:"listener_id"`
	Platform          Platform        `col:"platform"`
	AssetID           string          `col:"asset_id"`
	Market            string          `col:"market"`
	TimestampMs       int64           `col:"timestamp_ms"`
	Bids              []OrderLevel    `col:"bids"`
	Asks              []OrderLevel    `col:"asks"`
	BestBid           *decimal.Decimal `col:"best_bid"`
	BestAsk           *decimal.Decimal `col:"best_ask"`
	Spread            *decimal.Decimal `col:"spread"`
	MidPrice          *decimal.Decimal `col:"mid_price"`
	BidDepth          decimal.Decimal `col:"bid_depth"`
	AskDepth          decimal.Decimal `col:"ask_depth"`
	Hash              string          `col:"hash"`
	RawPayload        []byte          `col:"raw_payload"`
	IsForwardFilled   bool            `col:"is_forward_filled"`
	SourceTimestampMs *int64          `col:"source_timestamp_ms"`
}

// NewSnapshot validates bids/asks against the book invariants and returns a
// fully derived OrderbookSnapshot. bids and asks are taken as given (already
// sorted by the caller, as venue adapters are required to produce); this
// function only validates and computes, it never sorts.
func NewSnapshot(listenerID string, platform Platform, assetID, market string, bids, asks []OrderLevel, timestampMs int64) (*OrderbookSnapshot, error) {
	if err := validateLevels(bids, true); err != nil {
		return nil, err
	}
	if err := validateLevels(asks, false); err != nil {
		return nil, err
	}

	snap := &OrderbookSnapshot{
		RecordID:    uuid.New(),
		ListenerID:  listenerID,
		Platform:    platform,
		AssetID:     assetID,
		Market:      market,
		TimestampMs: timestampMs,
		Bids:        bids,
		Asks:        asks,
	}
	snap.deriveFields()
	return snap, nil
}

func validateLevels(levels []OrderLevel, descending bool) error {
	for i, l := range levels {
		if l.Price.IsNegative() || l.Size.IsNegative() {
			return ErrNegativeLevel
		}
		if l.Price.LessThan(zero) || l.Price.GreaterThan(one) {
			return ErrPriceOutOfRange
		}
		if i == 0 {
			continue
		}
		prev := levels[i-1]
		if descending && l.Price.GreaterThan(prev.Price) {
			return ErrNonMonotonicBids
		}
		if !descending && l.Price.LessThan(prev.Price) {
			return ErrNonMonotonicAsks
		}
	}
	return nil
}

// deriveFields computes best bid/ask, spread, mid price, depths, and the
// content hash from the current Bids/Asks. Called by NewSnapshot; Clone does
// not call it. It is safe to re-run after a caller mutates a snapshot's
// levels.
func (s *OrderbookSnapshot) deriveFields() {
	s.BidDepth = sumSize(s.Bids)
	s.AskDepth = sumSize(s.Asks)

	if len(s.Bids) > 0 {
		bb := s.Bids[0].Price
		s.BestBid = &bb
	} else {
		s.BestBid = nil
	}
	if len(s.Asks) > 0 {
		ba := s.Asks[0].Price
		s.BestAsk = &ba
	} else {
		s.BestAsk = nil
	}

	if s.BestBid != nil && s.BestAsk != nil {
		spread := s.BestAsk.Sub(*s.BestBid)
		mid := s.BestBid.Add(*s.BestAsk).Div(decimal.NewFromInt(2))
		s.Spread = &spread
		s.MidPrice = &mid
	} else {
		s.Spread = nil
		s.MidPrice = nil
	}

	s.Hash = contentHash(s.Bids, s.Asks)
}

func sumSize(levels []OrderLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}

// hashable mirrors the fields that participate in the content hash, in a
// canonical (field-ordered, no pointers) shape independent of
// OrderbookSnapshot's own layout.
type hashable struct {
	Bids []levelJSON `json:"bids"`
	Asks []levelJSON `json:"asks"`
}

type levelJSON struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func contentHash(bids, asks []OrderLevel) string {
	h := hashable{
		Bids: toLevelJSON(bids),
		Asks: toLevelJSON(asks),
	}
	// json.Marshal of a struct with fixed field order is canonical enough
	// here: levels are not reordered, and each price and size is rendered
	// to a string with decimal.Decimal.String() before marshalling.
	b, _ := json.Marshal(h)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

func toLevelJSON(levels []OrderLevel) []levelJSON {
	out := make([]levelJSON, len(levels))
	for i, l := range levels {
		out[i] = levelJSON{Price: l.Price.String(), Size: l.Size.String()}
	}
	return out
}

// Clone returns a deep copy of the snapshot suitable for forward-fill
// emission: bid/ask slices are copied so the filler's stored last_snapshot
// can never be mutated through an emitted clone.
func (s *OrderbookSnapshot) Clone() *OrderbookSnapshot {
	c := *s
	c.RecordID = uuid.New()
	c.Bids = make([]OrderLevel, len(s.Bids))
	copy(c.Bids, s.Bids)
	c.Asks = make([]OrderLevel, len(s.Asks))
	copy(c.Asks, s.Asks)
	if s.BestBid != nil {
		bb := *s.BestBid
		c.BestBid = &bb
	}
	if s.BestAsk != nil {
		ba := *s.BestAsk
		c.BestAsk = &ba
	}
	if s.Spread != nil {
		sp := *s.Spread
		c.Spread = &sp
	}
	if s.MidPrice != nil {
		mp := *s.MidPrice
		c.MidPrice = &mp
	}
	return &c
}
