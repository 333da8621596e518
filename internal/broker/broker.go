// Package broker is the account-level state machine sitting in front of an
// exchange: it validates orders, tracks a ledger, pays dividends, reconciles
// fills and repairs cash shortfalls through forced liquidation.
package broker

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"bourse/internal/exchange"
	"bourse/internal/ledger"
	"bourse/internal/types"
)

// rebalanceBuffer is the fixed cushion raised above the bare shortfall on
// every rebalance, hard-coded to damp oscillation around zero.
const rebalanceBuffer = 1000.0

// State is the broker's closed lifecycle: Ready accepts mutations, Failed is
// terminal for new ones.
type State int

const (
	Ready State = iota
	Failed
)

func (s State) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Failed"
}

// Event is the closed result of send_order.
type Event int

const (
	OrderInvalid Event = iota
	OrderSentToExchange
)

func (e Event) String() string {
	if e == OrderSentToExchange {
		return "OrderSentToExchange"
	}
	return "OrderInvalid"
}

// CashEvent is the closed result of a deposit/withdraw cash operation.
type CashEvent int

const (
	CashAccepted CashEvent = iota
	OperationFailure
	WithdrawFailure
)

func (c CashEvent) String() string {
	switch c {
	case CashAccepted:
		return "CashAccepted"
	case WithdrawFailure:
		return "WithdrawFailure"
	default:
		return "OperationFailure"
	}
}

// Broker owns exactly one Ledger and forwards validated orders to exactly
// one Exchange.
type Broker struct {
	state    State
	ledger   *ledger.Ledger
	exchange *exchange.Exchange
}

// New builds a Ready broker with an empty ledger using costs, forwarding
// orders to ex.
func New(ex *exchange.Exchange, costs ledger.CostModel) *Broker {
	return &Broker{
		state:    Ready,
		ledger:   ledger.New(costs),
		exchange: ex,
	}
}

// State reports the broker's current lifecycle state.
func (b *Broker) State() State { return b.state }

// Ledger exposes the underlying ledger for read-only valuation queries
// (used by internal/rebalance and internal/httpapi).
func (b *Broker) Ledger() *ledger.Ledger { return b.ledger }

// DepositCash credits cash, only while Ready.
func (b *Broker) DepositCash(amount float64) CashEvent {
	if b.state == Failed {
		return OperationFailure
	}
	b.ledger.Credit(amount)
	return CashAccepted
}

// WithdrawCash debits cash, only while Ready, failing if cash cannot cover
// it.
func (b *Broker) WithdrawCash(amount float64) CashEvent {
	if b.state == Failed {
		return OperationFailure
	}
	if err := b.ledger.Debit(amount); err != nil {
		return WithdrawFailure
	}
	return CashAccepted
}

// SendOrder validates and forwards an order, short-circuiting per spec.md
// §4.6: quantity, then held-quantity for sells, then cash-for-ask for buys.
func (b *Broker) SendOrder(o types.Order) Event {
	if b.state == Failed {
		return OrderInvalid
	}
	if o.Quantity <= 0 {
		return OrderInvalid
	}
	if o.Kind.Side() == types.Sell {
		if b.ledger.Qty(o.Symbol) < o.Quantity {
			return OrderInvalid
		}
	} else {
		ask, ok := b.referenceAsk(o.Symbol)
		if !ok || b.ledger.Cash() < o.Quantity*ask {
			return OrderInvalid
		}
	}

	if _, err := b.exchange.Insert(o); err != nil {
		return OrderInvalid
	}
	if o.Kind.Side() == types.Sell {
		b.ledger.ApplyPendingSell(o.Symbol, o.Quantity)
	} else {
		b.ledger.ApplyPendingBuy(o.Symbol, o.Quantity)
	}
	return OrderSentToExchange
}

// CancelOrder forwards a cancellation to the exchange, buffered for the
// next tick.
func (b *Broker) CancelOrder(id types.OrderId) {
	b.exchange.Cancel(id)
}

// ModifyOrder forwards a quantity delta to the exchange, buffered for the
// next tick.
func (b *Broker) ModifyOrder(id types.OrderId, qtyDelta float64) {
	b.exchange.Modify(id, qtyDelta)
}

func (b *Broker) referenceAsk(symbol types.Symbol) (float64, bool) {
	if q, ok := b.exchange.FetchQuotes()[symbol]; ok {
		return q.Ask, true
	}
	return b.ledger.LastAsk(symbol)
}

// Check runs the tick reconciliation sequence of spec.md §4.6: pay
// dividends due at now, settle every fill from tick, refresh the last-quote
// valuation cache from quotes, then rebalance cash if negative.
func (b *Broker) Check(now types.Timestamp, dividends []types.Dividend, tick exchange.TickResult, quotes map[types.Symbol]types.Quote) {
	for _, d := range dividends {
		if b.ledger.PayDividend(d) {
			log.Debug().Str("symbol", string(d.Symbol)).Int64("now", int64(now)).Msg("dividend paid")
		}
	}

	for _, f := range tick.Fills {
		if f.Side == types.Buy {
			b.ledger.ApplyBuyFill(f)
		} else {
			b.ledger.ApplySellFill(f)
		}
	}

	b.ledger.UpdateLastQuotes(quotes)
	b.rebalanceCash()
}

// rebalanceCash raises cash back above zero via forced liquidation when it
// has gone negative after fill settlement. On failure the broker becomes
// Failed; it still reconciles in-flight fills afterward, but refuses new
// mutations.
func (b *Broker) rebalanceCash() {
	if b.ledger.Cash() >= 0 {
		return
	}
	shortfall := -b.ledger.Cash() + rebalanceBuffer
	if !b.withdrawWithLiquidation(shortfall) {
		b.state = Failed
		log.Error().Float64("cash", b.ledger.Cash()).Msg("broker shortfall unrecoverable, transitioning to Failed")
	}
}

// withdrawWithLiquidation raises amount in cash by selling positions, in
// ascending-symbol order for determinism, until the target is met or
// positions run out. If even full liquidation cannot cover amount, the cash
// is still debited (so the shortfall is visible) and false is returned.
func (b *Broker) withdrawWithLiquidation(amount float64) bool {
	liqVal := b.ledger.LiquidationValue()
	if amount > liqVal {
		b.ledger.DebitForce(amount)
		return false
	}

	remaining := amount
	var sells []types.Order
	b.ledger.ForEachHolding(func(symbol types.Symbol, qty float64) bool {
		if remaining <= 0 {
			return false
		}
		// Exclude quantity already offered in a still-in-flight sell from a
		// prior round, so two negative-cash ticks in a row cannot both size
		// a liquidating sell against the same shares.
		pendingSell := -math.Min(b.ledger.Pending(symbol), 0)
		sellableQty := qty - pendingSell
		if sellableQty <= 0 {
			return true
		}
		bid, ok := b.ledger.LastBid(symbol)
		if !ok || bid <= 0 {
			return true
		}
		netValue, _ := b.ledger.Costs().Impact(sellableQty*bid, bid, false)
		if netValue <= 0 {
			return true
		}
		if netValue <= remaining {
			sells = append(sells, types.Order{Kind: types.MarketSell, Symbol: symbol, Quantity: sellableQty, Price: bid})
			remaining -= netValue
			return true
		}
		shares := math.Ceil(remaining / bid)
		if shares > sellableQty {
			shares = sellableQty
		}
		sells = append(sells, types.Order{Kind: types.MarketSell, Symbol: symbol, Quantity: shares, Price: bid})
		remaining = 0
		return false
	})

	for _, o := range sells {
		if ev := b.SendOrder(o); ev != OrderSentToExchange {
			log.Warn().Str("symbol", string(o.Symbol)).Msg("liquidating sell rejected")
		}
	}
	return true
}

// TradesBetween returns the settled buy/sell trades with t0 <= t <= t1,
// oldest first.
func (b *Broker) TradesBetween(t0, t1 types.Timestamp) []ledger.LogEntry {
	return b.ledger.TradesBetween(t0, t1)
}

// DividendsBetween returns the paid dividends with t0 <= t <= t1, oldest
// first.
func (b *Broker) DividendsBetween(t0, t1 types.Timestamp) []ledger.LogEntry {
	return b.ledger.DividendsBetween(t0, t1)
}

func (b *Broker) String() string {
	return fmt.Sprintf("Broker{state:%s cash:%g}", b.state, b.ledger.Cash())
}
