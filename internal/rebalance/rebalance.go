// Package rebalance implements the target-weight diff of spec.md §4.8: given
// a broker and a set of target portfolio weights, it produces the ordered
// list of market orders that would move current holdings toward those
// weights, using the broker's liquidation value as the portfolio size
// estimate.
package rebalance

import (
	"math"

	"bourse/internal/broker"
	"bourse/internal/types"
)

// TargetWeights maps symbol to a fraction of the portfolio's liquidation
// value; weights need not sum to exactly 1 but must not exceed it.
type TargetWeights map[types.Symbol]float64

// Diff computes the ordered list of market orders (sells first, then buys)
// that would move b's current holdings toward weights, sized against b's
// current liquidation value and quoted ask/bid.
//
// Diff panics if the portfolio's liquidation value is zero: the strategy
// has no working capital and any emitted orders would be nonsensical. This
// is spec-mandated (PortfolioZeroValue is a programming error, not a
// reportable result).
func Diff(b *broker.Broker, weights TargetWeights, quotes map[types.Symbol]types.Quote) []types.Order {
	l := b.Ledger()
	liqVal := l.LiquidationValue()
	if liqVal == 0 {
		panic("rebalance: portfolio has zero liquidation value")
	}

	var sells, buys []types.Order
	for symbol, weight := range weights {
		q, ok := quotes[symbol]
		if !ok {
			continue
		}
		currentValue, _ := l.PositionValue(symbol)
		diffValue := weight*liqVal - currentValue
		if diffValue == 0 {
			continue
		}

		if diffValue > 0 {
			netBudget, netPrice := l.Costs().Impact(diffValue, q.Ask, true)
			if netPrice <= 0 {
				continue
			}
			qty := netBudget / netPrice
			if qty <= 0 {
				continue
			}
			buys = append(buys, types.Order{Kind: types.MarketBuy, Symbol: symbol, Quantity: qty, Price: q.Ask})
			continue
		}

		netBudget, netPrice := l.Costs().Impact(-diffValue, q.Bid, false)
		if netPrice <= 0 {
			continue
		}
		qty := math.Min(netBudget/netPrice, l.Qty(symbol))
		if qty <= 0 {
			continue
		}
		sells = append(sells, types.Order{Kind: types.MarketSell, Symbol: symbol, Quantity: qty, Price: q.Bid})
	}

	return append(sells, buys...)
}
