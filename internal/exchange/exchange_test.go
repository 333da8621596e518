package exchange_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/clock"
	"bourse/internal/exchange"
	"bourse/internal/marketdata"
	"bourse/internal/types"
)

func buildSource(t *testing.T) *marketdata.InMemory {
	t.Helper()
	b := marketdata.NewBuilder()
	b.AddQuote(types.Quote{Symbol: "ABC", Timestamp: 100, Bid: 100, Ask: 101})
	b.AddQuote(types.Quote{Symbol: "ABC", Timestamp: 101, Bid: 104, Ask: 105})
	return b.Build()
}

func newBBOExchange(t *testing.T) *exchange.Exchange {
	t.Helper()
	ps := buildSource(t)
	clk := clock.New(ps.Dates(), clock.Daily)
	return exchange.NewBBO(ps, clk, 0.10, 0)
}

// TestTickSequenceFillsOnSecondTick mirrors spec.md §8 scenario 1: an order
// submitted while the exchange is at t=100 is not visible to matching until
// the following tick, and its fill uses the reference price.
func TestTickSequenceFillsOnSecondTick(t *testing.T) {
	ex := newBBOExchange(t)
	require.Equal(t, types.Timestamp(100), ex.Now())

	_, err := ex.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 495, Price: 101})
	require.NoError(t, err)

	first := ex.Tick()
	assert.Empty(t, first.Fills, "no lookahead: the order must not fill on the same tick it was submitted")
	require.Len(t, first.InsertedOrders, 1)
	assert.Equal(t, types.Timestamp(100), first.InsertedOrders[0].ReceivedAt)

	second := ex.Tick()
	require.Len(t, second.Fills, 1)
	assert.Equal(t, 101.0, second.Fills[0].Price)
	assert.Equal(t, 495.0, second.Fills[0].Quantity)
	assert.Equal(t, types.Timestamp(101), second.Fills[0].Timestamp)
}

func TestInsertRejectsNonPositiveQuantity(t *testing.T) {
	ex := newBBOExchange(t)
	_, err := ex.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 0, Price: 101})
	assert.ErrorIs(t, err, exchange.ErrInvalidQuantity)
}

func TestInsertRequiresPriceForBBOMarketOrder(t *testing.T) {
	ex := newBBOExchange(t)
	_, err := ex.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 10, Price: 0})
	assert.ErrorIs(t, err, exchange.ErrPriceRequired)
}

func TestDepthExchangeMarketOrderNeedsNoPrice(t *testing.T) {
	b := marketdata.NewBuilder()
	b.AddDepth(types.Depth{
		Symbol: "ABC", Timestamp: 100,
		Bids: []types.Level{{Price: 99, Size: 10}},
		Asks: []types.Level{{Price: 101, Size: 10}},
	})
	b.AddDepth(types.Depth{
		Symbol: "ABC", Timestamp: 101,
		Bids: []types.Level{{Price: 99, Size: 10}},
		Asks: []types.Level{{Price: 101, Size: 10}},
	})
	ps := b.Build()
	clk := clock.New(ps.Dates(), clock.Daily)
	ex := exchange.NewDepth(ps, clk, 0)

	_, err := ex.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 5})
	require.NoError(t, err)

	ex.Tick()
	result := ex.Tick()
	require.Len(t, result.Fills, 1)
}

func TestTradeLogRangeQuery(t *testing.T) {
	ex := newBBOExchange(t)
	_, err := ex.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 10, Price: 101})
	require.NoError(t, err)
	ex.Tick()
	ex.Tick()

	logs := ex.TradeLog(0, 200)
	require.Len(t, logs, 1)
	assert.Empty(t, ex.TradeLog(0, 100))
}

func TestHasNextReflectsClockPosition(t *testing.T) {
	ex := newBBOExchange(t)
	assert.True(t, ex.HasNext())
	ex.Tick()
	assert.False(t, ex.HasNext())
}
