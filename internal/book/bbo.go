// Package book implements the two order-book matching variants: BBO
// (best-bid/offer only, FIFO) and Depth (multi-level, FillTracker-guarded).
package book

import (
	"bourse/internal/types"
)

// DefaultMaxSlippage is the default maximum-slippage tolerance applied to a
// BBO market order's reference price, per spec.md §4.3.1.
const DefaultMaxSlippage = 0.10

type bboEntry struct {
	id         types.OrderId
	order      types.Order
	attempted  bool
	expired    bool
	receivedAt types.Timestamp
}

// BBO is the FIFO-queue order book: every order, regardless of kind, rests
// in one queue and is matched against the best bid/offer of its symbol.
type BBO struct {
	queue       []*bboEntry
	nextID      types.OrderId
	maxSlippage float64
	latency     types.Timestamp
}

// NewBBO builds an empty BBO book. latency is the fixed-period visibility
// delay of §4.3.3; zero disables it.
func NewBBO(maxSlippage float64, latency types.Timestamp) *BBO {
	if maxSlippage <= 0 {
		maxSlippage = DefaultMaxSlippage
	}
	return &BBO{maxSlippage: maxSlippage, latency: latency}
}

// Insert assigns the next order id, enqueues the order and returns its id.
// Never executes — matching happens only in Match.
func (b *BBO) Insert(o types.Order) types.OrderId {
	b.nextID++
	id := b.nextID
	o.Id = id
	b.queue = append(b.queue, &bboEntry{id: id, order: o, receivedAt: o.ReceivedAt})
	return id
}

// Cancel removes the matching resting entry, reporting whether it was found.
func (b *BBO) Cancel(id types.OrderId) bool {
	for i, e := range b.queue {
		if e.id == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Modify adjusts a resting order's quantity by delta; a resulting quantity
// at or below zero cancels the order.
func (b *BBO) Modify(id types.OrderId, qtyDelta float64) types.ModificationResult {
	for i, e := range b.queue {
		if e.id == id {
			e.order.Quantity += qtyDelta
			if e.order.Quantity <= 0 {
				b.queue = append(b.queue[:i], b.queue[i+1:]...)
			}
			return types.ModificationResult{OrderId: id, Applied: true}
		}
	}
	return types.ModificationResult{OrderId: id, Applied: false, Err: ErrUnknownOrder}
}

// RestingQuantityBySymbol sums the resting quantity for symbol, used only by
// tests to check book state without reaching into internals.
func (b *BBO) RestingQuantityBySymbol(symbol types.Symbol) float64 {
	var total float64
	for _, e := range b.queue {
		if e.order.Symbol == symbol {
			total += e.order.Quantity
		}
	}
	return total
}

// Match runs one matching pass against quotes as observed at now. Sell-side
// orders are matched before buy-side orders; within a side, FIFO queue order
// is preserved; each resting order is examined at most once.
func (b *BBO) Match(quotes map[types.Symbol]types.Quote, now types.Timestamp) ([]types.Fill, []types.TriggeredOrder) {
	sellIdx, buyIdx := make([]int, 0, len(b.queue)), make([]int, 0, len(b.queue))
	for i, e := range b.queue {
		if e.order.Kind.Side() == types.Sell {
			sellIdx = append(sellIdx, i)
		} else {
			buyIdx = append(buyIdx, i)
		}
	}

	var fills []types.Fill
	var triggered []types.TriggeredOrder
	remove := make(map[int]bool)
	promoted := make(map[int]bool)

	process := func(order []int) {
		for _, i := range order {
			e := b.queue[i]
			if b.latency > 0 && e.receivedAt+b.latency > now {
				continue
			}
			q, ok := quotes[e.order.Symbol]
			if !ok {
				continue
			}
			if f, fired := b.attempt(e, q, now); fired {
				fills = append(fills, f)
				remove[i] = true
				continue
			}
			if trig, ok := b.maybeTrigger(e, q); ok {
				triggered = append(triggered, trig)
				promoted[i] = true
			}
		}
	}
	process(sellIdx)
	process(buyIdx)

	b.rebuildQueue(remove, promoted)
	return fills, triggered
}

// attempt evaluates one entry against the current quote. On a market order
// that fails its slippage check, it toggles/consumes the two-attempt IOC
// counter; a second unmatched appearance removes it from the book.
func (b *BBO) attempt(e *bboEntry, q types.Quote, now types.Timestamp) (types.Fill, bool) {
	switch e.order.Kind {
	case types.MarketBuy:
		// HL-style: the reference price is both the slippage gate and the
		// executed price. The current ask only decides fill/no-fill.
		if e.order.Price*(1+b.maxSlippage) >= q.Ask {
			return b.fill(e, e.order.Price, now), true
		}
		b.expireOrMark(e)
	case types.MarketSell:
		if e.order.Price*(1-b.maxSlippage) <= q.Bid {
			return b.fill(e, e.order.Price, now), true
		}
		b.expireOrMark(e)
	case types.LimitBuy:
		if e.order.Price >= q.Ask {
			return b.fill(e, q.Ask, now), true
		}
	case types.LimitSell:
		if e.order.Price <= q.Bid {
			return b.fill(e, q.Bid, now), true
		}
	}
	return types.Fill{}, false
}

func (b *BBO) expireOrMark(e *bboEntry) {
	if e.attempted {
		e.expired = true
		return
	}
	e.attempted = true
}

// maybeTrigger converts a stop order to its market equivalent once the quote
// crosses its stop price. The converted order does not execute this tick: it
// is reported as triggered and moved to the front of the queue so it is the
// first candidate considered on the next Match call.
func (b *BBO) maybeTrigger(e *bboEntry, q types.Quote) (types.TriggeredOrder, bool) {
	switch e.order.Kind {
	case types.StopBuy:
		if q.Ask >= e.order.Price {
			e.order.Kind = types.MarketBuy
			e.attempted = false
			return types.TriggeredOrder{OrderId: e.id, Symbol: e.order.Symbol, Side: types.Buy}, true
		}
	case types.StopSell:
		if q.Bid <= e.order.Price {
			e.order.Kind = types.MarketSell
			e.attempted = false
			return types.TriggeredOrder{OrderId: e.id, Symbol: e.order.Symbol, Side: types.Sell}, true
		}
	}
	return types.TriggeredOrder{}, false
}

func (b *BBO) fill(e *bboEntry, price float64, now types.Timestamp) types.Fill {
	return types.Fill{
		OrderId:   e.id,
		Symbol:    e.order.Symbol,
		Side:      e.order.Kind.Side(),
		Quantity:  e.order.Quantity,
		Price:     price,
		Timestamp: now,
	}
}

// rebuildQueue drops filled/expired entries and moves triggered (promoted)
// entries to the front, preserving relative order within each group.
func (b *BBO) rebuildQueue(remove, promoted map[int]bool) {
	front := make([]*bboEntry, 0, len(promoted))
	rest := make([]*bboEntry, 0, len(b.queue))
	for i, e := range b.queue {
		if remove[i] || e.expired {
			continue
		}
		if promoted[i] {
			front = append(front, e)
			continue
		}
		rest = append(rest, e)
	}
	b.queue = append(front, rest...)
}

// Len reports the number of resting orders, used by tests.
func (b *BBO) Len() int {
	return len(b.queue)
}

// Symbols returns the distinct set of symbols with resting orders, used by
// the exchange to build the per-tick quote snapshot it needs for matching.
func (b *BBO) Symbols() []types.Symbol {
	seen := make(map[types.Symbol]struct{})
	out := make([]types.Symbol, 0, len(b.queue))
	for _, e := range b.queue {
		if _, ok := seen[e.order.Symbol]; !ok {
			seen[e.order.Symbol] = struct{}{}
			out = append(out, e.order.Symbol)
		}
	}
	return out
}
