package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/ledger"
	"bourse/internal/types"
)

func TestCostModelFoldsInConfigurationOrder(t *testing.T) {
	model := ledger.CostModel{ledger.Flat{Amount: 1}, ledger.PctOfValue{Pct: 0.01}}
	assert.Equal(t, 1.0+0.01*10*100, model.Calc(10, 100))

	budget, price := model.Impact(1000, 100, true)
	assert.Equal(t, (1000-1)*(1-0.01), budget)
	assert.Equal(t, 100.0, price)
}

func TestPerShareWidensPriceBySide(t *testing.T) {
	model := ledger.CostModel{ledger.PerShare{Amount: 0.02}}
	_, buyPrice := model.Impact(0, 100, true)
	_, sellPrice := model.Impact(0, 100, false)
	assert.Equal(t, 100.02, buyPrice)
	assert.Equal(t, 99.98, sellPrice)
}

func TestApplyBuyFillDebitsForceAndCreditsHoldings(t *testing.T) {
	l := ledger.New(ledger.CostModel{ledger.PctOfValue{Pct: 0.01}})
	l.Credit(100000)
	l.ApplyPendingBuy("ABC", 495)

	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 495, Price: 101, Timestamp: 101})

	cost := 0.01 * 495 * 101
	assert.InDelta(t, 100000-495*101-cost, l.Cash(), 1e-9)
	assert.Equal(t, 495.0, l.Qty("ABC"))
	assert.Equal(t, 0.0, l.Pending("ABC"))
	assert.Equal(t, 101.0, l.CostBasis("ABC"))
}

func TestApplyBuyFillCanDriveCashNegative(t *testing.T) {
	l := ledger.New(ledger.CostModel{})
	l.Credit(100)
	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 50, Timestamp: 1})
	assert.Less(t, l.Cash(), 0.0)
}

func TestCostBasisResetsWhenPositionReturnsToFlat(t *testing.T) {
	l := ledger.New(ledger.CostModel{})
	l.Credit(10000)

	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 100, Timestamp: 1})
	assert.Equal(t, 100.0, l.CostBasis("ABC"))

	l.ApplySellFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 110, Timestamp: 2})
	assert.Equal(t, 0.0, l.Qty("ABC"))
	assert.Equal(t, 0.0, l.CostBasis("ABC"))

	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 5, Price: 90, Timestamp: 3})
	assert.Equal(t, 90.0, l.CostBasis("ABC"))
}

func TestCostBasisAveragesAcrossMultipleBuys(t *testing.T) {
	l := ledger.New(ledger.CostModel{})
	l.Credit(10000)
	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 100, Timestamp: 1})
	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 120, Timestamp: 2})

	assert.Equal(t, 20.0, l.Qty("ABC"))
	assert.InDelta(t, 110.0, l.CostBasis("ABC"), 1e-9)
}

func TestPayDividendCreditsHeldSharesOnly(t *testing.T) {
	l := ledger.New(ledger.CostModel{})
	l.Credit(1000)
	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 10, Timestamp: 1})

	paid := l.PayDividend(types.Dividend{Symbol: "ABC", PerShareAmount: 0.5, Timestamp: 2})
	assert.True(t, paid)
	assert.InDelta(t, 1000-100+5, l.Cash(), 1e-9)

	paidOther := l.PayDividend(types.Dividend{Symbol: "XYZ", PerShareAmount: 1, Timestamp: 2})
	assert.False(t, paidOther)
}

func TestLiquidationValueNetsCostModel(t *testing.T) {
	l := ledger.New(ledger.CostModel{ledger.PctOfValue{Pct: 0.01}})
	l.Credit(1000)
	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 10, Timestamp: 1})
	l.UpdateLastQuotes(map[types.Symbol]types.Quote{"ABC": {Symbol: "ABC", Bid: 10, Ask: 10.5}})

	value, ok := l.PositionValue("ABC")
	require.True(t, ok)
	assert.Equal(t, 100.0, value)

	liq, ok := l.PositionLiquidationValue("ABC")
	require.True(t, ok)
	assert.InDelta(t, 100*(1-0.01), liq, 1e-9)

	assert.InDelta(t, l.Cash()+liq, l.LiquidationValue(), 1e-9)
}

func TestForEachHoldingVisitsAscendingSymbolOrderAndSkipsFlat(t *testing.T) {
	l := ledger.New(ledger.CostModel{})
	l.Credit(10000)
	l.ApplyBuyFill(types.Fill{Symbol: "ZZZ", Quantity: 1, Price: 1, Timestamp: 1})
	l.ApplyBuyFill(types.Fill{Symbol: "AAA", Quantity: 1, Price: 1, Timestamp: 1})
	l.ApplyBuyFill(types.Fill{Symbol: "MMM", Quantity: 1, Price: 1, Timestamp: 1})
	l.ApplySellFill(types.Fill{Symbol: "MMM", Quantity: 1, Price: 1, Timestamp: 2})

	var seen []types.Symbol
	l.ForEachHolding(func(symbol types.Symbol, _ float64) bool {
		seen = append(seen, symbol)
		return true
	})
	assert.Equal(t, []types.Symbol{"AAA", "ZZZ"}, seen)
}

func TestTradesBetweenAndDividendsBetweenFilterByKindAndRange(t *testing.T) {
	l := ledger.New(ledger.CostModel{})
	l.Credit(10000)
	l.ApplyBuyFill(types.Fill{Symbol: "ABC", Quantity: 10, Price: 10, Timestamp: 100})
	l.PayDividend(types.Dividend{Symbol: "ABC", PerShareAmount: 1, Timestamp: 150})
	l.ApplySellFill(types.Fill{Symbol: "ABC", Quantity: 5, Price: 12, Timestamp: 200})

	trades := l.TradesBetween(0, 200)
	require.Len(t, trades, 2)
	assert.Equal(t, ledger.LogBuy, trades[0].Kind)
	assert.Equal(t, ledger.LogSell, trades[1].Kind)

	dividends := l.DividendsBetween(0, 200)
	require.Len(t, dividends, 1)
	assert.Equal(t, ledger.LogDividend, dividends[0].Kind)

	assert.Empty(t, l.TradesBetween(0, 99))
	assert.Empty(t, l.DividendsBetween(151, 200))

	boundary := l.TradesBetween(100, 100)
	require.Len(t, boundary, 1)
	assert.Equal(t, types.Timestamp(100), boundary[0].Timestamp)
}

func TestDebitFailsWhenCashInsufficient(t *testing.T) {
	l := ledger.New(ledger.CostModel{})
	l.Credit(50)
	assert.ErrorIs(t, l.Debit(100), ledger.ErrInsufficientCash)
	assert.Equal(t, 50.0, l.Cash())
}
