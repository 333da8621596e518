package book_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/book"
	"bourse/internal/types"
)

func quote(symbol types.Symbol, bid, ask float64) map[types.Symbol]types.Quote {
	return map[types.Symbol]types.Quote{symbol: {Symbol: symbol, Bid: bid, Ask: ask}}
}

// TestMarketBuyFillsAtReferencePrice mirrors spec.md §8 scenario 1: the
// reference price gates the fill via slippage tolerance, but the executed
// price is the reference price itself, not the prevailing ask.
func TestMarketBuyFillsAtReferencePrice(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 0)
	b.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 495, Price: 101, ReceivedAt: 100})

	fills, _ := b.Match(quote("ABC", 104, 105), 101)

	require.Len(t, fills, 1)
	assert.Equal(t, 101.0, fills[0].Price)
	assert.Equal(t, 495.0, fills[0].Quantity)
	assert.Equal(t, 0, b.Len())
}

func TestMarketBuyBeyondSlippageRestsThenExpiresAfterTwoAttempts(t *testing.T) {
	b := book.NewBBO(0.10, 0)
	b.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 10, Price: 100, ReceivedAt: 100})

	// ask=130 is far beyond 100*1.10=110: first attempt fails, order rests.
	fills, _ := b.Match(quote("ABC", 120, 130), 101)
	assert.Empty(t, fills)
	assert.Equal(t, 1, b.Len())

	// Second unmatched appearance expires the order (two-attempt IOC).
	fills, _ = b.Match(quote("ABC", 120, 130), 102)
	assert.Empty(t, fills)
	assert.Equal(t, 0, b.Len())
}

func TestLimitBuyFillsAtAskNotLimitPrice(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 0)
	b.Insert(types.Order{Kind: types.LimitBuy, Symbol: "ABC", Quantity: 10, Price: 105, ReceivedAt: 100})

	fills, _ := b.Match(quote("ABC", 100, 101), 101)

	require.Len(t, fills, 1)
	assert.Equal(t, 101.0, fills[0].Price)
}

func TestLimitSellRestsWhenBidTooLow(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 0)
	b.Insert(types.Order{Kind: types.LimitSell, Symbol: "ABC", Quantity: 10, Price: 105, ReceivedAt: 100})

	fills, _ := b.Match(quote("ABC", 100, 101), 101)

	assert.Empty(t, fills)
	assert.Equal(t, 1, b.Len())
}

func TestSellsMatchBeforeBuys(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 0)
	b.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 1, Price: 101, ReceivedAt: 100})
	b.Insert(types.Order{Kind: types.MarketSell, Symbol: "ABC", Quantity: 1, Price: 100, ReceivedAt: 100})

	fills, _ := b.Match(quote("ABC", 100, 101), 101)

	require.Len(t, fills, 2)
	assert.Equal(t, types.Sell, fills[0].Side)
	assert.Equal(t, types.Buy, fills[1].Side)
}

func TestStopBuyTriggersButDoesNotFillSameCall(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 0)
	b.Insert(types.Order{Kind: types.StopBuy, Symbol: "ABC", Quantity: 10, Price: 100, ReceivedAt: 90})

	fills, triggered := b.Match(quote("ABC", 99, 101), 100)
	assert.Empty(t, fills)
	require.Len(t, triggered, 1)
	assert.Equal(t, 1, b.Len())

	// Next call: the triggered order is now a plain MarketBuy and fills.
	fills, _ = b.Match(quote("ABC", 99, 101), 101)
	require.Len(t, fills, 1)
}

func TestLatencyDelaysVisibility(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 2)
	b.Insert(types.Order{Kind: types.LimitBuy, Symbol: "ABC", Quantity: 10, Price: 105, ReceivedAt: 100})

	fills, _ := b.Match(quote("ABC", 100, 101), 101)
	assert.Empty(t, fills, "order should not be visible before receivedAt+latency")

	fills, _ = b.Match(quote("ABC", 100, 101), 102)
	require.Len(t, fills, 1)
}

func TestCancelAndModify(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 0)
	id := b.Insert(types.Order{Kind: types.LimitBuy, Symbol: "ABC", Quantity: 10, Price: 105, ReceivedAt: 100})

	res := b.Modify(id, -4)
	assert.True(t, res.Applied)
	assert.Equal(t, 6.0, b.RestingQuantityBySymbol("ABC"))

	assert.True(t, b.Cancel(id))
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Cancel(id))
}

func TestModifyUnknownOrder(t *testing.T) {
	b := book.NewBBO(book.DefaultMaxSlippage, 0)
	res := b.Modify(999, 1)
	assert.False(t, res.Applied)
	assert.ErrorIs(t, res.Err, book.ErrUnknownOrder)
}
