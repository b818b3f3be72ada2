package domain

import "github.com/shopspring/decimal"

// LiquidationSide encodes the fill side of a forced-liquidation order.
// The mapping is intentionally not symmetric with TradeSide: side 1 is
// a long liquidation (a buy-side fill closing a long), side 2 is a
// short liquidation (a sell-side fill closing a short). Preserved as
// received from the feed; do not unify with TradeSide.
type LiquidationSide int

const (
	LiquidationSideLong  LiquidationSide = 1
	LiquidationSideShort LiquidationSide = 2
)

func (s LiquidationSide) String() string {
	switch s {
	case LiquidationSideLong:
		return "long_liq"
	case LiquidationSideShort:
		return "short_liq"
	default:
		return "unknown"
	}
}

// TradeSide encodes the aggressor side of a futures trade. Side 1 is
// SELL, side 2 is BUY — inherited from the upstream feed's convention
// and deliberately the reverse pairing of LiquidationSide.
type TradeSide int

const (
	TradeSideSell TradeSide = 1
	TradeSideBuy  TradeSide = 2
)

func (s TradeSide) String() string {
	switch s {
	case TradeSideSell:
		return "SELL"
	case TradeSideBuy:
		return "BUY"
	default:
		return "unknown"
	}
}

// LiquidationEvent is an immutable record of one forced liquidation.
type LiquidationEvent struct {
	Symbol      Symbol
	Side        LiquidationSide
	Price       decimal.Decimal
	VolumeUSD   decimal.Decimal
	Exchange    string
	EventTimeMs int64
	IngestTimeMs int64
}

// TradeEvent is an immutable record of one large ("whale") futures trade.
type TradeEvent struct {
	Symbol       Symbol
	Side         TradeSide
	Price        decimal.Decimal
	VolumeUSD    decimal.Decimal
	Exchange     string
	EventTimeMs  int64
	IngestTimeMs int64
}

// Valid reports whether the event carries the fields the aggregator
// requires before it will accept it: a symbol, and a strictly
// positive price and volume.
func (e LiquidationEvent) Valid() bool {
	return e.Symbol != "" && e.Price.IsPositive() && e.VolumeUSD.IsPositive() &&
		(e.Side == LiquidationSideLong || e.Side == LiquidationSideShort)
}

func (e TradeEvent) Valid() bool {
	return e.Symbol != "" && e.Price.IsPositive() && e.VolumeUSD.IsPositive() &&
		(e.Side == TradeSideSell || e.Side == TradeSideBuy)
}
