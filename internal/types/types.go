// Package types holds the data model shared across the exchange and the
// broker: timestamps, symbols, quotes, orders, fills and the other closed
// tagged variants the rest of the module switches over exhaustively.
package types

import "fmt"

// Timestamp is a point on a fixed, monotonically increasing timeline. Only
// ordering and equality matter; the unit is whatever the loaded dataset uses.
type Timestamp int64

// Symbol is a short, byte-exact ticker identifier.
type Symbol string

// Side is the closed set of trade/order directions.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// OrderKind is the closed set of order kinds the book understands. Market
// orders treat Price as a slippage reference in the BBO book and are ignored
// entirely in the depth book; Limit and Stop orders treat Price as the
// triggering/limit price.
type OrderKind int

const (
	MarketBuy OrderKind = iota
	MarketSell
	LimitBuy
	LimitSell
	StopBuy
	StopSell
)

func (k OrderKind) String() string {
	switch k {
	case MarketBuy:
		return "MarketBuy"
	case MarketSell:
		return "MarketSell"
	case LimitBuy:
		return "LimitBuy"
	case LimitSell:
		return "LimitSell"
	case StopBuy:
		return "StopBuy"
	case StopSell:
		return "StopSell"
	default:
		return fmt.Sprintf("OrderKind(%d)", int(k))
	}
}

// Side reports the implied buy/sell direction of an order kind.
func (k OrderKind) Side() Side {
	switch k {
	case MarketBuy, LimitBuy, StopBuy:
		return Buy
	default:
		return Sell
	}
}

// IsMarket reports whether the kind is a market order (IOC-equivalent).
func (k OrderKind) IsMarket() bool {
	return k == MarketBuy || k == MarketSell
}

// IsStop reports whether the kind is a stop order awaiting trigger.
func (k OrderKind) IsStop() bool {
	return k == StopBuy || k == StopSell
}

// OrderId is an opaque, monotonically increasing identifier assigned by the
// exchange on acceptance. Unique within one exchange's lifetime.
type OrderId uint64

// Order is a client instruction submitted to the exchange. Price is required
// for every kind except the depth book's market orders, which ignore it.
type Order struct {
	Id         OrderId
	Kind       OrderKind
	Symbol     Symbol
	Quantity   float64
	Price      float64 // reference/limit/stop price; zero value is meaningless for MarketBuy/Sell in the depth book
	ReceivedAt Timestamp
	TraceId    string // correlation id for log output, not part of the wire contract
}

func (o Order) String() string {
	return fmt.Sprintf("Order{Id:%d Kind:%s Symbol:%s Qty:%g Price:%g ReceivedAt:%d}",
		o.Id, o.Kind, o.Symbol, o.Quantity, o.Price, o.ReceivedAt)
}

// Quote is the best bid/offer for a symbol at a timestamp.
type Quote struct {
	Symbol    Symbol
	Timestamp Timestamp
	Bid       float64
	Ask       float64
}

// Level is a single price/size pair within a depth book side.
type Level struct {
	Price float64
	Size  float64
}

// Depth is a multi-level quote: bid levels sorted descending by price, ask
// levels sorted ascending.
type Depth struct {
	Symbol    Symbol
	Timestamp Timestamp
	Bids      []Level
	Asks      []Level
}

// BBO collapses a Depth to its best bid/offer, or derives one directly if no
// further levels are present.
func (d Depth) BBO() Quote {
	q := Quote{Symbol: d.Symbol, Timestamp: d.Timestamp}
	if len(d.Bids) > 0 {
		q.Bid = d.Bids[0].Price
	}
	if len(d.Asks) > 0 {
		q.Ask = d.Asks[0].Price
	}
	return q
}

// Dividend is a per-share cash payment due at a timestamp.
type Dividend struct {
	Symbol        Symbol
	Timestamp     Timestamp
	PerShareAmount float64
}

// TradeType mirrors Side for the trade/dividend log, kept as a distinct
// closed variant since the log also carries DividendPayment entries that
// have no buy/sell direction.
type TradeType int

const (
	TradeBuy TradeType = iota
	TradeSell
)

func (t TradeType) String() string {
	if t == TradeBuy {
		return "Buy"
	}
	return "Sell"
}

// Fill is a realized trade produced by the book. Never synthesized by the
// broker.
type Fill struct {
	OrderId   OrderId
	Symbol    Symbol
	Side      Side
	Quantity  float64
	Price     float64
	Timestamp Timestamp
}

func (f Fill) String() string {
	return fmt.Sprintf("Fill{OrderId:%d Symbol:%s Side:%s Qty:%g Price:%g Timestamp:%d}",
		f.OrderId, f.Symbol, f.Side, f.Quantity, f.Price, f.Timestamp)
}

// TriggeredOrder reports a stop order that converted to a market order this
// match call. It is reported separately from fills: it executes strictly
// later, never within the tick that triggered it.
type TriggeredOrder struct {
	OrderId OrderId
	Symbol  Symbol
	Side    Side
}

// ModificationResult is the closed outcome of a cancel/modify request against
// a resting order.
type ModificationResult struct {
	OrderId OrderId
	Applied bool
	Err     error
}
