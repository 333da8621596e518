package book

import (
	"github.com/tidwall/btree"

	"bourse/internal/types"
)

// depthEntry is one client order resting in the depth book's single FIFO
// queue. Unlike the BBO book, the order's counterparty is never another
// client order: it is the multi-level Depth snapshot supplied by the price
// source for the current tick.
type depthEntry struct {
	id         types.OrderId
	order      types.Order
	receivedAt types.Timestamp
}

// levelKey is one price level's consumed-size record within a single Match
// call. Kept in a btree.BTreeG so consumed levels can be enumerated in price
// order for diagnostics, mirroring the way the teacher's
// internal/engine/orderbook.go keeps its price levels in a btree.
type levelKey struct {
	price    float64
	consumed float64
}

// fillTracker prevents two orders sharing one Match call from both
// consuming more than a level's displayed size. Scoped to a single call.
type fillTracker struct {
	bySymbol map[types.Symbol]*btree.BTreeG[*levelKey]
}

func newFillTracker() *fillTracker {
	return &fillTracker{bySymbol: make(map[types.Symbol]*btree.BTreeG[*levelKey])}
}

func (f *fillTracker) consumed(symbol types.Symbol, price float64) float64 {
	t, ok := f.bySymbol[symbol]
	if !ok {
		return 0
	}
	k, ok := t.Get(&levelKey{price: price})
	if !ok {
		return 0
	}
	return k.consumed
}

func (f *fillTracker) consume(symbol types.Symbol, price, qty float64) {
	t, ok := f.bySymbol[symbol]
	if !ok {
		t = btree.NewBTreeG(func(a, b *levelKey) bool { return a.price < b.price })
		f.bySymbol[symbol] = t
	}
	k, ok := t.Get(&levelKey{price: price})
	if !ok {
		t.Set(&levelKey{price: price, consumed: qty})
		return
	}
	k.consumed += qty
}

// Depth is the multi-level order book variant. A large order that cannot be
// fully filled at acceptable prices produces a partial fill and rests with
// its reduced quantity; limit orders never cross beyond their price.
type Depth struct {
	queue   []*depthEntry
	nextID  types.OrderId
	latency types.Timestamp
}

// NewDepth builds an empty depth book. latency is the fixed-period
// visibility delay of §4.3.3; zero disables it.
func NewDepth(latency types.Timestamp) *Depth {
	return &Depth{latency: latency}
}

// Insert assigns the next order id, enqueues the order and returns its id.
func (d *Depth) Insert(o types.Order) types.OrderId {
	d.nextID++
	id := d.nextID
	o.Id = id
	d.queue = append(d.queue, &depthEntry{id: id, order: o, receivedAt: o.ReceivedAt})
	return id
}

// Cancel removes the matching resting entry, reporting whether it was found.
func (d *Depth) Cancel(id types.OrderId) bool {
	for i, e := range d.queue {
		if e.id == id {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Modify adjusts a resting order's quantity by delta; a resulting quantity
// at or below zero cancels the order.
func (d *Depth) Modify(id types.OrderId, qtyDelta float64) types.ModificationResult {
	for i, e := range d.queue {
		if e.id == id {
			e.order.Quantity += qtyDelta
			if e.order.Quantity <= 0 {
				d.queue = append(d.queue[:i], d.queue[i+1:]...)
			}
			return types.ModificationResult{OrderId: id, Applied: true}
		}
	}
	return types.ModificationResult{OrderId: id, Applied: false, Err: ErrUnknownOrder}
}

// RestingQuantityBySymbol sums the resting quantity for symbol, used only by
// tests.
func (d *Depth) RestingQuantityBySymbol(symbol types.Symbol) float64 {
	var total float64
	for _, e := range d.queue {
		if e.order.Symbol == symbol {
			total += e.order.Quantity
		}
	}
	return total
}

// Match runs one matching pass against depths as observed at now. The third
// return value reports market orders that swept every resting level on
// their side this call and still got zero fill.
func (d *Depth) Match(depths map[types.Symbol]types.Depth, now types.Timestamp) ([]types.Fill, []types.TriggeredOrder, []Failure) {
	sellIdx, buyIdx := make([]int, 0, len(d.queue)), make([]int, 0, len(d.queue))
	for i, e := range d.queue {
		if e.order.Kind.Side() == types.Sell {
			sellIdx = append(sellIdx, i)
		} else {
			buyIdx = append(buyIdx, i)
		}
	}

	var fills []types.Fill
	var triggered []types.TriggeredOrder
	var failures []Failure
	remove := make(map[int]bool)
	promoted := make(map[int]bool)
	ft := newFillTracker()

	process := func(order []int) {
		for _, i := range order {
			e := d.queue[i]
			if d.latency > 0 && e.receivedAt+d.latency > now {
				continue
			}
			dep, ok := depths[e.order.Symbol]
			if !ok {
				continue
			}
			f, full, matched, starved := d.attempt(e, dep, ft, now)
			if matched {
				fills = append(fills, f)
				if full {
					remove[i] = true
				}
				continue
			}
			if starved {
				failures = append(failures, Failure{OrderId: e.id, Err: ErrNotEnoughLiquidity})
			}
			if trig, ok := d.maybeTrigger(e, dep.BBO()); ok {
				triggered = append(triggered, trig)
				promoted[i] = true
			}
		}
	}
	process(sellIdx)
	process(buyIdx)

	front := make([]*depthEntry, 0, len(promoted))
	rest := make([]*depthEntry, 0, len(d.queue))
	for i, e := range d.queue {
		if remove[i] {
			continue
		}
		if promoted[i] {
			front = append(front, e)
			continue
		}
		rest = append(rest, e)
	}
	d.queue = append(front, rest...)

	return fills, triggered, failures
}

// attempt tries to match e against dep's levels. starved is true only for a
// market order that found its side's levels already exhausted (by price
// filtering or this call's fillTracker) and therefore filled nothing.
func (d *Depth) attempt(e *depthEntry, dep types.Depth, ft *fillTracker, now types.Timestamp) (fill types.Fill, full, matched, starved bool) {
	var levels []types.Level
	var priceOK func(float64) bool

	switch e.order.Kind {
	case types.MarketBuy:
		levels, priceOK = dep.Asks, func(float64) bool { return true }
	case types.MarketSell:
		levels, priceOK = dep.Bids, func(float64) bool { return true }
	case types.LimitBuy:
		limit := e.order.Price
		levels, priceOK = dep.Asks, func(p float64) bool { return p <= limit }
	case types.LimitSell:
		limit := e.order.Price
		levels, priceOK = dep.Bids, func(p float64) bool { return p >= limit }
	default:
		return types.Fill{}, false, false, false
	}

	filled, notional := fillAcrossLevels(levels, ft, e.order.Symbol, e.order.Quantity, priceOK)
	if filled <= 0 {
		return types.Fill{}, false, false, e.order.Kind.IsMarket()
	}

	e.order.Quantity -= filled
	full = e.order.Quantity <= 0
	fill = types.Fill{
		OrderId:   e.id,
		Symbol:    e.order.Symbol,
		Side:      e.order.Kind.Side(),
		Quantity:  filled,
		Price:     notional / filled,
		Timestamp: now,
	}
	return fill, full, true, false
}

func fillAcrossLevels(levels []types.Level, ft *fillTracker, symbol types.Symbol, qtyNeeded float64, priceOK func(float64) bool) (float64, float64) {
	var filled, notional float64
	for _, lvl := range levels {
		if qtyNeeded <= 0 {
			break
		}
		if !priceOK(lvl.Price) {
			break
		}
		available := lvl.Size - ft.consumed(symbol, lvl.Price)
		if available <= 0 {
			continue
		}
		take := min(available, qtyNeeded)
		ft.consume(symbol, lvl.Price, take)
		filled += take
		notional += take * lvl.Price
		qtyNeeded -= take
	}
	return filled, notional
}

func (d *Depth) maybeTrigger(e *depthEntry, bbo types.Quote) (types.TriggeredOrder, bool) {
	switch e.order.Kind {
	case types.StopBuy:
		if bbo.Ask >= e.order.Price {
			e.order.Kind = types.MarketBuy
			return types.TriggeredOrder{OrderId: e.id, Symbol: e.order.Symbol, Side: types.Buy}, true
		}
	case types.StopSell:
		if bbo.Bid <= e.order.Price {
			e.order.Kind = types.MarketSell
			return types.TriggeredOrder{OrderId: e.id, Symbol: e.order.Symbol, Side: types.Sell}, true
		}
	}
	return types.TriggeredOrder{}, false
}

// Len reports the number of resting orders, used by tests.
func (d *Depth) Len() int {
	return len(d.queue)
}

// Symbols returns the distinct set of symbols with resting orders, used by
// the exchange to build the per-tick depth snapshot it needs for matching.
func (d *Depth) Symbols() []types.Symbol {
	seen := make(map[types.Symbol]struct{})
	out := make([]types.Symbol, 0, len(d.queue))
	for _, e := range d.queue {
		if _, ok := seen[e.order.Symbol]; !ok {
			seen[e.order.Symbol] = struct{}{}
			out = append(out, e.order.Symbol)
		}
	}
	return out
}
