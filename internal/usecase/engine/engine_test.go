package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
)

func TestPriceRing(t *testing.T) {
	ring := newPriceRing(3)

	_, ok := ring.Last()
	assert.False(t, ok)
	assert.Empty(t, ring.LastN(10))

	ring.Append(1)
	ring.Append(2)
	ring.Append(3)

	last, ok := ring.Last()
	require.True(t, ok)
	assert.Equal(t, int64(3), last)
	assert.Equal(t, []int64{1, 2, 3}, ring.LastN(3))

	// Overflow evicts the oldest entry.
	ring.Append(4)
	ring.Append(5)
	assert.Equal(t, 3, ring.Len())
	assert.Equal(t, []int64{3, 4, 5}, ring.LastN(3))
	assert.Equal(t, []int64{4, 5}, ring.LastN(2))
}

func TestAuthenticateKey(t *testing.T) {
	eng, _ := newTestEngine(t)

	broker, apiKey, err := eng.RegisterBroker(context.Background(), "Alpha", "https://example.com/hook")
	require.NoError(t, err)

	got, ok := eng.AuthenticateKey(apiKey)
	require.True(t, ok)
	assert.Equal(t, broker.ID, got)

	_, ok = eng.AuthenticateKey("key-wrong")
	assert.False(t, ok)
}

func TestOrderBook_DepthAndOrdering(t *testing.T) {
	eng, clock := newTestEngine(t)
	broker := registerTestBroker(t, eng, "Alpha")

	for _, price := range []int64{3600, 3550, 3700, 3650} {
		submit(t, eng, clock, broker.ID, orderv1.SideAsk, orderv1.TypeLimit, price, 10)
	}
	for _, price := range []int64{3400, 3450, 3300} {
		submit(t, eng, clock, broker.ID, orderv1.SideBid, orderv1.TypeLimit, price, 10)
	}

	book, err := eng.OrderBook("PETR4", 2)
	require.NoError(t, err)

	// Asks ascending, bids descending, clipped to the requested depth.
	require.Len(t, book.Asks, 2)
	assert.Equal(t, int64(3550), book.Asks[0].Price)
	assert.Equal(t, int64(3600), book.Asks[1].Price)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, int64(3450), book.Bids[0].Price)
	assert.Equal(t, int64(3400), book.Bids[1].Price)
}

func TestOrderBook_UnknownSymbol(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.OrderBook("VALE3", 10)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestOrderBook_PrunesExpiredHead(t *testing.T) {
	eng, clock := newTestEngine(t)
	broker := registerTestBroker(t, eng, "Alpha")

	short, _, err := eng.SubmitOrder(context.Background(), SubmitRequest{
		BrokerID:       broker.ID,
		DocumentNumber: "doc",
		Side:           orderv1.SideAsk,
		Type:           orderv1.TypeLimit,
		Symbol:         "PETR4",
		Price:          3500,
		Quantity:       10,
		ValidUntil:     clock.Now().Add(time.Second),
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	submit(t, eng, clock, broker.ID, orderv1.SideAsk, orderv1.TypeLimit, 3600, 20)

	book, err := eng.OrderBook("PETR4", 10)
	require.NoError(t, err)

	// The expired head level vanished; only the live level remains.
	require.Len(t, book.Asks, 1)
	assert.Equal(t, int64(3600), book.Asks[0].Price)
	assert.Equal(t, orderv1.StatusExpired, short.Status)
}

func TestPrice_Stats(t *testing.T) {
	eng, clock := newTestEngine(t)
	seller := registerTestBroker(t, eng, "Seller")
	buyer := registerTestBroker(t, eng, "Buyer")

	// Three executions at 3500, 3510, 3507.
	for _, price := range []int64{3500, 3510, 3507} {
		submit(t, eng, clock, seller.ID, orderv1.SideAsk, orderv1.TypeLimit, price, 10)
		submit(t, eng, clock, buyer.ID, orderv1.SideBid, orderv1.TypeLimit, price, 10)
	}

	stats, err := eng.Price("PETR4", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(3507), stats.LastPrice)
	// Integer mean truncates toward zero: 10517 / 3 = 3505.
	assert.Equal(t, int64(3505), stats.AveragePrice)
	assert.Equal(t, 3, stats.TradesInAverage)

	// A window smaller than the ring only averages the most recent trades.
	stats, err = eng.Price("PETR4", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3508), stats.AveragePrice)
	assert.Equal(t, 2, stats.TradesInAverage)
}

func TestPrice_EmptyRing(t *testing.T) {
	eng, clock := newTestEngine(t)
	broker := registerTestBroker(t, eng, "Alpha")

	// A resting order alone produces no trades.
	submit(t, eng, clock, broker.ID, orderv1.SideBid, orderv1.TypeLimit, 3400, 10)

	_, err := eng.Price("PETR4", 50)
	assert.ErrorIs(t, err, ErrNoTrades)
}

func TestLookupOrder(t *testing.T) {
	eng, clock := newTestEngine(t)
	broker := registerTestBroker(t, eng, "Alpha")
	other := registerTestBroker(t, eng, "Beta")

	bid, _ := submit(t, eng, clock, broker.ID, orderv1.SideBid, orderv1.TypeLimit, 3400, 100)

	got, trades, err := eng.LookupOrder(context.Background(), broker.ID, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.ID, got.ID)
	assert.Empty(t, trades)

	_, _, err = eng.LookupOrder(context.Background(), other.ID, bid.ID)
	assert.ErrorIs(t, err, ErrOrderForbidden)

	// No store and nothing in memory: not found.
	_, _, err = eng.LookupOrder(context.Background(), broker.ID, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestLookupOrder_LazyExpiration(t *testing.T) {
	eng, clock := newTestEngine(t)
	broker := registerTestBroker(t, eng, "Alpha")

	bid, _, err := eng.SubmitOrder(context.Background(), SubmitRequest{
		BrokerID:       broker.ID,
		DocumentNumber: "doc",
		Side:           orderv1.SideBid,
		Type:           orderv1.TypeLimit,
		Symbol:         "PETR4",
		Price:          3400,
		Quantity:       100,
		ValidUntil:     clock.Now().Add(time.Second),
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	got, _, err := eng.LookupOrder(context.Background(), broker.ID, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, orderv1.StatusExpired, got.Status)

	book, err := eng.OrderBook("PETR4", 5)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
}

func TestBalance_UnknownBroker(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Balance(uuid.New())
	assert.Error(t, err)
}
