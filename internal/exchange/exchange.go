// Package exchange owns an order book variant and a read-only price source,
// buffering inbound orders and modifications and driving them through a
// discrete tick per spec.md §4.4.
package exchange

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"bourse/internal/book"
	"bourse/internal/clock"
	"bourse/internal/marketdata"
	"bourse/internal/types"
)

var (
	// ErrInvalidQuantity is returned by Insert when quantity is not strictly
	// positive.
	ErrInvalidQuantity = errors.New("order quantity must be positive")
	// ErrPriceRequired is returned by Insert when the order kind requires an
	// explicit price/reference and none was given.
	ErrPriceRequired = errors.New("order price is required for this kind")
)

// variant abstracts over the BBO and depth book implementations so Exchange
// can drive either through one tick() loop.
type variant interface {
	insert(o types.Order) types.OrderId
	cancel(id types.OrderId) bool
	modify(id types.OrderId, delta float64) types.ModificationResult
	match(ps marketdata.PriceSource, now types.Timestamp) ([]types.Fill, []types.TriggeredOrder)
	requiresMarketPrice() bool
}

type bboVariant struct{ book *book.BBO }

func (v *bboVariant) insert(o types.Order) types.OrderId { return v.book.Insert(o) }
func (v *bboVariant) cancel(id types.OrderId) bool       { return v.book.Cancel(id) }
func (v *bboVariant) modify(id types.OrderId, d float64) types.ModificationResult {
	return v.book.Modify(id, d)
}
func (v *bboVariant) requiresMarketPrice() bool { return true }
func (v *bboVariant) match(ps marketdata.PriceSource, now types.Timestamp) ([]types.Fill, []types.TriggeredOrder) {
	quotes := make(map[types.Symbol]types.Quote)
	for _, s := range v.book.Symbols() {
		if q, ok := ps.GetQuote(now, s); ok {
			quotes[s] = q
		}
	}
	return v.book.Match(quotes, now)
}

type depthVariant struct{ book *book.Depth }

func (v *depthVariant) insert(o types.Order) types.OrderId { return v.book.Insert(o) }
func (v *depthVariant) cancel(id types.OrderId) bool       { return v.book.Cancel(id) }
func (v *depthVariant) modify(id types.OrderId, d float64) types.ModificationResult {
	return v.book.Modify(id, d)
}
func (v *depthVariant) requiresMarketPrice() bool { return false }
func (v *depthVariant) match(ps marketdata.PriceSource, now types.Timestamp) ([]types.Fill, []types.TriggeredOrder) {
	depths := make(map[types.Symbol]types.Depth)
	for _, s := range v.book.Symbols() {
		if d, ok := ps.GetDepth(now, s); ok {
			depths[s] = d
		}
	}
	fills, triggered, failures := v.book.Match(depths, now)
	for _, f := range failures {
		log.Debug().
			Uint64("orderId", uint64(f.OrderId)).
			Err(f.Err).
			Msg("market order swept every resting level with zero fill")
	}
	return fills, triggered
}

// modRequest is a buffered cancel or quantity-delta modification awaiting
// the next tick.
type modRequest struct {
	id     types.OrderId
	delta  float64
	cancel bool
}

// TickResult is everything a tick produces, mirroring spec.md §4.4's
// returned tuple.
type TickResult struct {
	HasNext             bool
	Fills               []types.Fill
	Triggered           []types.TriggeredOrder
	InsertedOrders      []types.Order
	ModificationResults []types.ModificationResult
}

// Exchange owns one order book variant and a shared, read-only price
// source. Every method that touches the buffers, the book or the trade log
// holds one mutex, so Tick is an atomic step with no internal suspension
// point even when several goroutines share the Exchange.
type Exchange struct {
	mu          sync.Mutex
	variant     variant
	priceSource marketdata.PriceSource
	clock       *clock.Clock
	inboundOrd  []types.Order
	inboundMods []modRequest
	tradeLog    []types.Fill
}

// NewBBO builds an Exchange backed by the best-bid/offer book.
func NewBBO(ps marketdata.PriceSource, clk *clock.Clock, maxSlippage float64, latency types.Timestamp) *Exchange {
	return &Exchange{
		variant:     &bboVariant{book: book.NewBBO(maxSlippage, latency)},
		priceSource: ps,
		clock:       clk,
	}
}

// NewDepth builds an Exchange backed by the multi-level depth book.
func NewDepth(ps marketdata.PriceSource, clk *clock.Clock, latency types.Timestamp) *Exchange {
	return &Exchange{
		variant:     &depthVariant{book: book.NewDepth(latency)},
		priceSource: ps,
		clock:       clk,
	}
}

// Now reports the exchange clock's current timestamp.
func (ex *Exchange) Now() types.Timestamp {
	return ex.clock.Now()
}

// HasNext reports whether Tick can still advance.
func (ex *Exchange) HasNext() bool {
	return ex.clock.HasNext()
}

// FetchQuotes returns the BBO for every symbol known to the price source at
// the current timestamp.
func (ex *Exchange) FetchQuotes() map[types.Symbol]types.Quote {
	return ex.priceSource.GetQuotes(ex.clock.Now())
}

// Insert validates and buffers an order for insertion on the next tick. It
// never executes immediately and never mutates the book directly.
func (ex *Exchange) Insert(o types.Order) (string, error) {
	if o.Quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	needsPrice := !o.Kind.IsMarket() || ex.variant.requiresMarketPrice()
	if needsPrice && o.Price <= 0 {
		return "", ErrPriceRequired
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	o.TraceId = uuid.New().String()
	ex.inboundOrd = append(ex.inboundOrd, o)
	return o.TraceId, nil
}

// Cancel buffers a cancellation for the next tick.
func (ex *Exchange) Cancel(id types.OrderId) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.inboundMods = append(ex.inboundMods, modRequest{id: id, cancel: true})
}

// Modify buffers a quantity adjustment for the next tick.
func (ex *Exchange) Modify(id types.OrderId, qtyDelta float64) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.inboundMods = append(ex.inboundMods, modRequest{id: id, delta: qtyDelta})
}

// Tick runs the seven-step sequence of spec.md §4.4: match resting orders
// against the current snapshot, apply buffered modifications, insert
// buffered new orders (sells sorted before buys), clear the buffers, log
// fills, then advance the clock.
func (ex *Exchange) Tick() TickResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	now := ex.clock.Now()

	fills, triggered := ex.variant.match(ex.priceSource, now)

	modResults := make([]types.ModificationResult, 0, len(ex.inboundMods))
	for _, m := range ex.inboundMods {
		if m.cancel {
			ok := ex.variant.cancel(m.id)
			modResults = append(modResults, types.ModificationResult{OrderId: m.id, Applied: ok})
			continue
		}
		modResults = append(modResults, ex.variant.modify(m.id, m.delta))
	}

	ordered := make([]types.Order, len(ex.inboundOrd))
	copy(ordered, ex.inboundOrd)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind.Side() == types.Sell && ordered[j].Kind.Side() != types.Sell
	})

	inserted := make([]types.Order, 0, len(ordered))
	for _, o := range ordered {
		o.ReceivedAt = now
		id := ex.variant.insert(o)
		o.Id = id
		inserted = append(inserted, o)
	}

	ex.inboundOrd = nil
	ex.inboundMods = nil

	ex.tradeLog = append(ex.tradeLog, fills...)

	for _, t := range triggered {
		log.Debug().
			Uint64("orderId", uint64(t.OrderId)).
			Str("symbol", string(t.Symbol)).
			Str("side", t.Side.String()).
			Msg("stop order triggered")
	}

	hasNext := ex.clock.HasNext()
	ex.clock.Tick()

	return TickResult{
		HasNext:             hasNext,
		Fills:               fills,
		Triggered:           triggered,
		InsertedOrders:      inserted,
		ModificationResults: modResults,
	}
}

// TradeLog returns fills recorded between t0 and t1 inclusive, ordered by
// timestamp.
func (ex *Exchange) TradeLog(t0, t1 types.Timestamp) []types.Fill {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	out := make([]types.Fill, 0)
	for _, f := range ex.tradeLog {
		if f.Timestamp >= t0 && f.Timestamp <= t1 {
			out = append(out, f)
		}
	}
	return out
}

func (ex *Exchange) String() string {
	return fmt.Sprintf("Exchange{now:%d tradeLogLen:%d}", ex.clock.Now(), len(ex.tradeLog))
}
