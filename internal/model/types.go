// Package model defines the normalized in-memory records that every venue
// adapter converts its wire format into, and the pure derived-field
// computation that makes an OrderbookSnapshot self-consistent.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Platform identifies the venue a record originated from.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
)

// MarketState is the lifecycle stage of a Market. The discoverers set
// StateDiscovered; nothing in this repo advances a Market to a later state
// or writes a state-history record.
type MarketState uint8

const (
	StateDiscovered MarketState = iota + 1
	StateSubscribed
	StateActive
	StateClosed
	StateRemoved
)

func (s MarketState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateSubscribed:
		return "subscribed"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// TradeSide is the aggressor side of a trade.
type TradeSide uint8

const (
	SideBuy TradeSide = iota + 1
	SideSell
)

func (s TradeSide) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Market identifies one tradeable outcome token within a condition.
// Identity is (ListenerID, TokenID); ConditionID is non-unique since a
// condition with N outcomes yields N Markets sharing it.
type Market struct {
	ListenerID  string       `col:"listener_id"`
	Platform    Platform     `col:"platform"`
	ConditionID string       `col:"condition_id"`
	TokenID     string       `col:"token_id"`
	Slug        string       `col:"slug"`
	Title       string       `col:"title"`
	Category    string       `col:"category"`
	SeriesID    string       `col:"series_id"`
	Tags        []string     `col:"tags"`
	StartTime   time.Time    `col:"start_time"`
	EndTime     time.Time    `col:"end_time"`
	IsActive    bool         `col:"is_active"`
	IsClosed    bool         `col:"is_closed"`
	State       MarketState  `col:"state"`
	CreatedAt   time.Time    `col:"created_at"`
	UpdatedAt   time.Time    `col:"updated_at"`
}

// ID returns the (listener_id, token_id) identity tuple as a single string,
// suitable for use as a map key throughout the filler/processor/listener.
func (m Market) ID() string {
	return m.ListenerID + "/" + m.TokenID
}

// OrderLevel is a single resting bid or ask at a given price.
type OrderLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Clone returns a deep copy of the level (decimal.Decimal is itself
// immutable, so this is really just documenting the intent at call sites
// that clone full snapshots).
func (l OrderLevel) Clone() OrderLevel {
	return OrderLevel{Price: l.Price, Size: l.Size}
}

// Trade is a single executed trade normalized from either venue.
type Trade struct {
	RecordID    uuid.UUID       `col:"record_id"`
	ListenerID  string          `col:"listener_id"`
	Platform    Platform        `col:"platform"`
	AssetID     string          `col:"asset_id"`
	Market      string          `col:"market"`
	TimestampMs int64           `col:"timestamp_ms"`
	Price       decimal.Decimal `col:"price"`
	Size        decimal.Decimal `col:"size"`
	Side        TradeSide       `col:"side"`
	FeeRateBps  int             `col:"fee_rate_bps"`
	RawPayload  []byte          `col:"raw_payload"`
}
