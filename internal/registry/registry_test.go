package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/clock"
	"bourse/internal/ledger"
	"bourse/internal/marketdata"
	"bourse/internal/registry"
	"bourse/internal/types"
)

func buildSource(t *testing.T) *marketdata.InMemory {
	t.Helper()
	b := marketdata.NewBuilder()
	b.AddQuote(types.Quote{Symbol: "ABC", Timestamp: 100, Bid: 100, Ask: 101})
	return b.Build()
}

func TestInitUnknownDataset(t *testing.T) {
	r := registry.New(registry.Config{Frequency: clock.Daily})
	_, err := r.Init("nope")
	assert.ErrorIs(t, err, registry.ErrUnknownDataset)
}

func TestInitBuildsBBOSessionByDefault(t *testing.T) {
	r := registry.New(registry.Config{Frequency: clock.Daily, MaxSlippage: 0.1})
	r.RegisterDataset("ds", buildSource(t))

	sess, err := r.Init("ds")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sess.Id)
	assert.Equal(t, "ds", sess.DatasetName)
	assert.Equal(t, types.Timestamp(100), sess.Exchange.Now())
}

func TestInitAssignsDistinctIncrementingIDs(t *testing.T) {
	r := registry.New(registry.Config{Frequency: clock.Daily})
	r.RegisterDataset("ds", buildSource(t))

	s1, err := r.Init("ds")
	require.NoError(t, err)
	s2, err := r.Init("ds")
	require.NoError(t, err)
	assert.NotEqual(t, s1.Id, s2.Id)
}

func TestGetUnknownBacktest(t *testing.T) {
	r := registry.New(registry.Config{Frequency: clock.Daily})
	_, err := r.Get(999)
	assert.ErrorIs(t, err, registry.ErrUnknownBacktest)
}

func TestCloseRemovesSession(t *testing.T) {
	r := registry.New(registry.Config{Frequency: clock.Daily})
	r.RegisterDataset("ds", buildSource(t))
	sess, err := r.Init("ds")
	require.NoError(t, err)

	r.Close(sess.Id)
	_, err = r.Get(sess.Id)
	assert.ErrorIs(t, err, registry.ErrUnknownBacktest)
}

func TestInitBuildsDepthSessionWhenConfigured(t *testing.T) {
	r := registry.New(registry.Config{Variant: registry.Depth, Frequency: clock.Daily})
	b := marketdata.NewBuilder()
	b.AddDepth(types.Depth{Symbol: "ABC", Timestamp: 100, Bids: []types.Level{{Price: 99, Size: 10}}, Asks: []types.Level{{Price: 101, Size: 10}}})
	r.RegisterDataset("ds", b.Build())

	sess, err := r.Init("ds")
	require.NoError(t, err)
	require.NoError(t, sess.Broker.Ledger().Debit(0))
	assert.Equal(t, ledger.New(ledger.CostModel{}).Cash(), sess.Broker.Ledger().Cash())

	// only the depth exchange accepts a market order without a price.
	_, err = sess.Exchange.Insert(types.Order{Kind: types.MarketBuy, Symbol: "ABC", Quantity: 1})
	assert.NoError(t, err)
}
