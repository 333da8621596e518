// Package ledger is the broker's pure in-memory account state: cash,
// holdings, the pending-order shadow, the trade/dividend log and the
// composable trade-cost model. It never talks to an exchange directly; the
// broker drains exchange notifications and calls into the ledger to record
// their effect.
package ledger

import (
	"errors"
	"math"

	"github.com/tidwall/btree"

	"bourse/internal/types"
)

// ErrInsufficientCash is returned by Debit when the ledger's cash balance
// cannot cover the requested amount.
var ErrInsufficientCash = errors.New("insufficient cash")

// LogKind is the closed set of trade/dividend log entry kinds.
type LogKind int

const (
	LogBuy LogKind = iota
	LogSell
	LogDividend
)

func (k LogKind) String() string {
	switch k {
	case LogBuy:
		return "Buy"
	case LogSell:
		return "Sell"
	case LogDividend:
		return "Dividend"
	default:
		return "Unknown"
	}
}

// LogEntry is one recorded cash event: a settled trade or a dividend
// payment.
type LogEntry struct {
	Kind      LogKind
	Symbol    types.Symbol
	Quantity  float64
	Price     float64
	CashFlow  float64 // signed: positive is cash in, negative is cash out
	Timestamp types.Timestamp
}

type holding struct {
	symbol types.Symbol
	qty    float64
}

// Ledger is a single account's cash/holdings/pending/log state plus its
// configured trade-cost model.
type Ledger struct {
	cash          float64
	holdings      *btree.BTreeG[*holding]
	pending       map[types.Symbol]float64
	log           []LogEntry
	costs         CostModel
	lastQuote     map[types.Symbol]types.Quote
	basisNotional map[types.Symbol]float64
}

// New builds an empty ledger with the given cost model.
func New(costs CostModel) *Ledger {
	return &Ledger{
		holdings: btree.NewBTreeG(func(a, b *holding) bool { return a.symbol < b.symbol }),
		pending:  make(map[types.Symbol]float64),
		costs:    costs,
		lastQuote: make(map[types.Symbol]types.Quote),
		basisNotional: make(map[types.Symbol]float64),
	}
}

// Cash returns the current cash balance, which may be briefly negative
// between fill reconciliation and rebalance.
func (l *Ledger) Cash() float64 { return l.cash }

// Costs returns the ledger's configured cost model, so the broker can reuse
// the same fold when sizing prospective orders.
func (l *Ledger) Costs() CostModel { return l.costs }

// Qty returns the held quantity of symbol, zero if never traded.
func (l *Ledger) Qty(symbol types.Symbol) float64 {
	h, ok := l.holdings.Get(&holding{symbol: symbol})
	if !ok {
		return 0
	}
	return h.qty
}

// Pending returns the net outstanding order quantity for symbol: positive
// for outstanding buys, negative for outstanding sells.
func (l *Ledger) Pending(symbol types.Symbol) float64 {
	return l.pending[symbol]
}

func (l *Ledger) addQty(symbol types.Symbol, delta float64) float64 {
	h, ok := l.holdings.Get(&holding{symbol: symbol})
	if !ok {
		h = &holding{symbol: symbol}
		l.holdings.Set(h)
	}
	h.qty += delta
	return h.qty
}

func (l *Ledger) addPending(symbol types.Symbol, delta float64) {
	v := l.pending[symbol] + delta
	if v == 0 {
		delete(l.pending, symbol)
		return
	}
	l.pending[symbol] = v
}

// Credit adds amount to cash unconditionally.
func (l *Ledger) Credit(amount float64) { l.cash += amount }

// Debit subtracts amount from cash, failing if cash cannot cover it.
func (l *Ledger) Debit(amount float64) error {
	if l.cash < amount {
		return ErrInsufficientCash
	}
	l.cash -= amount
	return nil
}

// DebitForce subtracts amount from cash unconditionally, even driving it
// negative. Used to settle buy fills, since the market may have moved
// adversely between send_order and execution.
func (l *Ledger) DebitForce(amount float64) { l.cash -= amount }

// ApplyPendingBuy records a buy order forwarded to the exchange but not yet
// filled.
func (l *Ledger) ApplyPendingBuy(symbol types.Symbol, qty float64) { l.addPending(symbol, qty) }

// ApplyPendingSell records a sell order forwarded to the exchange but not
// yet filled.
func (l *Ledger) ApplyPendingSell(symbol types.Symbol, qty float64) { l.addPending(symbol, -qty) }

// ApplyBuyFill settles a realized buy fill: forces the cash debit (principal
// plus cost), credits holdings, shrinks the pending shadow and logs the
// trade.
func (l *Ledger) ApplyBuyFill(f types.Fill) {
	value := f.Quantity * f.Price
	cost := l.costs.Calc(f.Quantity, f.Price)
	l.DebitForce(value + cost)
	newQty := l.addQty(f.Symbol, f.Quantity)
	l.addPending(f.Symbol, -f.Quantity)
	l.basisNotional[f.Symbol] += f.Quantity * f.Price
	if newQty == 0 {
		l.basisNotional[f.Symbol] = 0
	}
	l.log = append(l.log, LogEntry{
		Kind: LogBuy, Symbol: f.Symbol, Quantity: f.Quantity, Price: f.Price,
		CashFlow: -(value + cost), Timestamp: f.Timestamp,
	})
}

// ApplySellFill settles a realized sell fill: credits cash (net of cost),
// debits holdings, shrinks the pending shadow and logs the trade.
func (l *Ledger) ApplySellFill(f types.Fill) {
	value := f.Quantity * f.Price
	cost := l.costs.Calc(f.Quantity, f.Price)
	l.Credit(value - cost)
	newQty := l.addQty(f.Symbol, -f.Quantity)
	l.addPending(f.Symbol, f.Quantity)
	l.basisNotional[f.Symbol] -= f.Quantity * f.Price
	if math.Abs(newQty) < 1e-9 {
		l.basisNotional[f.Symbol] = 0
	}
	l.log = append(l.log, LogEntry{
		Kind: LogSell, Symbol: f.Symbol, Quantity: f.Quantity, Price: f.Price,
		CashFlow: value - cost, Timestamp: f.Timestamp,
	})
}

// PayDividend credits a dividend for every held share of div.Symbol, logging
// the payment. Returns false (no-op) if no shares are held.
func (l *Ledger) PayDividend(div types.Dividend) bool {
	qty := l.Qty(div.Symbol)
	if qty <= 0 {
		return false
	}
	amount := qty * div.PerShareAmount
	l.Credit(amount)
	l.log = append(l.log, LogEntry{
		Kind: LogDividend, Symbol: div.Symbol, Quantity: qty, Price: div.PerShareAmount,
		CashFlow: amount, Timestamp: div.Timestamp,
	})
	return true
}

// UpdateLastQuotes refreshes the broker's valuation cache from a tick's
// fetched quotes. Exchange matching never reads this cache — it exists
// solely so valuation has a fallback when a symbol is absent from a tick.
func (l *Ledger) UpdateLastQuotes(quotes map[types.Symbol]types.Quote) {
	for s, q := range quotes {
		l.lastQuote[s] = q
	}
}

func (l *Ledger) lastBid(symbol types.Symbol) (float64, bool) {
	q, ok := l.lastQuote[symbol]
	if !ok {
		return 0, false
	}
	return q.Bid, true
}

func (l *Ledger) lastAsk(symbol types.Symbol) (float64, bool) {
	q, ok := l.lastQuote[symbol]
	if !ok {
		return 0, false
	}
	return q.Ask, true
}

// LastBid exposes the cached last-seen bid, used by the broker when sizing
// liquidating sells.
func (l *Ledger) LastBid(symbol types.Symbol) (float64, bool) { return l.lastBid(symbol) }

// LastAsk exposes the cached last-seen ask, used by the broker's
// cash-sufficiency check on buy orders.
func (l *Ledger) LastAsk(symbol types.Symbol) (float64, bool) { return l.lastAsk(symbol) }

// PositionValue is qty(s) marked at the last-seen bid, or false if no quote
// has ever been seen for s.
func (l *Ledger) PositionValue(symbol types.Symbol) (float64, bool) {
	bid, ok := l.lastBid(symbol)
	if !ok {
		return 0, false
	}
	return l.Qty(symbol) * bid, true
}

// PositionLiquidationValue is PositionValue net of the cost model's impact
// of selling the position at the last-seen bid right now.
func (l *Ledger) PositionLiquidationValue(symbol types.Symbol) (float64, bool) {
	value, ok := l.PositionValue(symbol)
	if !ok {
		return 0, false
	}
	bid, _ := l.lastBid(symbol)
	net, _ := l.costs.Impact(value, bid, false)
	return net, true
}

// TotalValue is cash plus every position's mark-to-market value.
func (l *Ledger) TotalValue() float64 {
	total := l.cash
	l.holdings.Scan(func(h *holding) bool {
		if h.qty != 0 {
			if v, ok := l.PositionValue(h.symbol); ok {
				total += v
			}
		}
		return true
	})
	return total
}

// LiquidationValue is cash plus every position's liquidation value: what the
// account would realize if every position were sold right now.
func (l *Ledger) LiquidationValue() float64 {
	total := l.cash
	l.holdings.Scan(func(h *holding) bool {
		if h.qty != 0 {
			if v, ok := l.PositionLiquidationValue(h.symbol); ok {
				total += v
			}
		}
		return true
	})
	return total
}

// CostBasis is the running average acquisition price for symbol, derived
// from the signed notional accumulated since the position was last flat.
func (l *Ledger) CostBasis(symbol types.Symbol) float64 {
	qty := l.Qty(symbol)
	if qty == 0 {
		return 0
	}
	return l.basisNotional[symbol] / qty
}

// PositionProfit is qty(s) * (mark_price - cost_basis), marked at the
// last-seen bid. False if no quote has ever been seen for s.
func (l *Ledger) PositionProfit(symbol types.Symbol) (float64, bool) {
	bid, ok := l.lastBid(symbol)
	if !ok {
		return 0, false
	}
	qty := l.Qty(symbol)
	return qty * (bid - l.CostBasis(symbol)), true
}

// ForEachHolding visits every symbol with a nonzero position, in ascending
// symbol order, stopping early if visit returns false. Deterministic
// ordering is required by the broker's liquidation traversal.
func (l *Ledger) ForEachHolding(visit func(symbol types.Symbol, qty float64) bool) {
	l.holdings.Scan(func(h *holding) bool {
		if h.qty == 0 {
			return true
		}
		return visit(h.symbol, h.qty)
	})
}

// Log returns the full trade/dividend log, oldest first.
func (l *Ledger) Log() []LogEntry { return l.log }

// TradesBetween returns the buy/sell entries with t0 <= Timestamp <= t1,
// oldest first.
func (l *Ledger) TradesBetween(t0, t1 types.Timestamp) []LogEntry {
	return l.logBetween(t0, t1, func(k LogKind) bool { return k == LogBuy || k == LogSell })
}

// DividendsBetween returns the dividend entries with t0 <= Timestamp <= t1,
// oldest first.
func (l *Ledger) DividendsBetween(t0, t1 types.Timestamp) []LogEntry {
	return l.logBetween(t0, t1, func(k LogKind) bool { return k == LogDividend })
}

func (l *Ledger) logBetween(t0, t1 types.Timestamp, include func(LogKind) bool) []LogEntry {
	out := make([]LogEntry, 0)
	for _, e := range l.log {
		if e.Timestamp >= t0 && e.Timestamp <= t1 && include(e.Kind) {
			out = append(out, e)
		}
	}
	return out
}
