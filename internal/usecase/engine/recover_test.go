package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brokerv1 "github.com/brasaex/exchange/internal/domain/broker/v1"
	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/logger"
)

// fakeStore serves canned recovery data and records flushed batches.
type fakeStore struct {
	mu      sync.Mutex
	batches []*journal.Batch

	brokers []*brokerv1.Broker
	orders  []*orderv1.Order
	trades  []*orderv1.Trade
	prices  map[string][]int64

	storedOrders map[uuid.UUID]*orderv1.Order
	orderTrades  map[uuid.UUID][]*orderv1.Trade
}

func (s *fakeStore) FlushBatch(_ context.Context, batch *journal.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeStore) flushed() []*journal.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*journal.Batch(nil), s.batches...)
}

func (s *fakeStore) InsertBroker(_ context.Context, broker *brokerv1.Broker) error {
	s.brokers = append(s.brokers, broker)
	return nil
}

func (s *fakeStore) LoadBrokers(context.Context) ([]*brokerv1.Broker, error) {
	return s.brokers, nil
}

func (s *fakeStore) LoadOpenOrders(context.Context, time.Time) ([]*orderv1.Order, error) {
	return s.orders, nil
}

func (s *fakeStore) LoadTradesByOrderIDs(context.Context, []uuid.UUID) ([]*orderv1.Trade, error) {
	return s.trades, nil
}

func (s *fakeStore) LoadRecentTradePrices(context.Context, int) (map[string][]int64, error) {
	return s.prices, nil
}

func (s *fakeStore) GetOrder(_ context.Context, id uuid.UUID) (*orderv1.Order, error) {
	return s.storedOrders[id], nil
}

func (s *fakeStore) GetTradesForOrder(_ context.Context, id uuid.UUID) ([]*orderv1.Trade, error) {
	return s.orderTrades[id], nil
}

func recoveredEngine(t *testing.T, store *fakeStore) (*Engine, *testClock) {
	t.Helper()

	log, err := logger.NewLogger(logger.WithLoggingLevel(logger.ErrorLevel))
	require.NoError(t, err)

	clock := newTestClock()
	j := journal.New(journal.Config{}, store, log)
	eng := New(Config{}, j, store, log, WithClock(clock.Now))
	require.NoError(t, eng.Recover(context.Background()))
	return eng, clock
}

func TestRecover_RebuildsState(t *testing.T) {
	clock := newTestClock()
	brokerID := uuid.New()
	otherID := uuid.New()

	openBid := &orderv1.Order{
		ID:                uuid.New(),
		BrokerID:          brokerID,
		DocumentNumber:    "doc",
		Side:              orderv1.SideBid,
		Type:              orderv1.TypeLimit,
		Symbol:            "PETR4",
		Price:             3400,
		Quantity:          100,
		RemainingQuantity: 40,
		Status:            orderv1.StatusOpen,
		ValidUntil:        clock.Now().Add(time.Hour),
		CreatedAt:         clock.Now().Add(-time.Minute),
	}
	earlierAsk := &orderv1.Order{
		ID:                uuid.New(),
		BrokerID:          otherID,
		DocumentNumber:    "doc",
		Side:              orderv1.SideAsk,
		Type:              orderv1.TypeLimit,
		Symbol:            "PETR4",
		Price:             3600,
		Quantity:          50,
		RemainingQuantity: 50,
		Status:            orderv1.StatusOpen,
		ValidUntil:        clock.Now().Add(time.Hour),
		CreatedAt:         clock.Now().Add(-2 * time.Minute),
	}

	trade := &orderv1.Trade{
		ID:             "01HZTRADE",
		BuyOrderID:     openBid.ID,
		SellOrderID:    uuid.New(),
		Symbol:         "PETR4",
		Price:          3400,
		Quantity:       60,
		BuyerBrokerID:  brokerID,
		SellerBrokerID: otherID,
		ExecutedAt:     clock.Now().Add(-time.Minute),
	}

	store := &fakeStore{
		brokers: []*brokerv1.Broker{
			{ID: brokerID, Name: "Alpha", APIKeyHash: brokerv1.HashAPIKey("key-a"), Balance: -204000},
			{ID: otherID, Name: "Beta", APIKeyHash: brokerv1.HashAPIKey("key-b"), Balance: 204000},
		},
		orders: []*orderv1.Order{earlierAsk, openBid},
		trades: []*orderv1.Trade{trade},
		prices: map[string][]int64{"PETR4": {3390, 3400}},
	}

	eng, _ := recoveredEngine(t, store)

	// Broker registry: both maps.
	got, ok := eng.AuthenticateKey("key-a")
	require.True(t, ok)
	assert.Equal(t, brokerID, got)

	rec, err := eng.Balance(brokerID)
	require.NoError(t, err)
	assert.Equal(t, int64(-204000), rec.Balance)

	// Ladders rebuilt from open orders.
	book, err := eng.OrderBook("PETR4", 10)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, PriceLevel{Price: 3400, TotalQuantity: 40, OrderCount: 1}, book.Bids[0])
	require.Len(t, book.Asks, 1)
	assert.Equal(t, int64(3600), book.Asks[0].Price)

	// Trade index rebuilt for loaded orders.
	gotOrder, trades, err := eng.LookupOrder(context.Background(), brokerID, openBid.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), gotOrder.RemainingQuantity)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.ID, trades[0].ID)

	// Recent-trade ring rebuilt oldest-first.
	stats, err := eng.Price("PETR4", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(3400), stats.LastPrice)
	assert.Equal(t, 2, stats.TradesInAverage)
}

func TestRecover_PreservesTimePriority(t *testing.T) {
	clock := newTestClock()
	brokerID := uuid.New()

	older := &orderv1.Order{
		ID: uuid.New(), BrokerID: brokerID, DocumentNumber: "doc",
		Side: orderv1.SideAsk, Type: orderv1.TypeLimit, Symbol: "PETR4",
		Price: 3500, Quantity: 10, RemainingQuantity: 10,
		Status: orderv1.StatusOpen, ValidUntil: clock.Now().Add(time.Hour),
		CreatedAt: clock.Now().Add(-2 * time.Minute),
	}
	newer := &orderv1.Order{
		ID: uuid.New(), BrokerID: brokerID, DocumentNumber: "doc",
		Side: orderv1.SideAsk, Type: orderv1.TypeLimit, Symbol: "PETR4",
		Price: 3500, Quantity: 10, RemainingQuantity: 10,
		Status: orderv1.StatusOpen, ValidUntil: clock.Now().Add(time.Hour),
		CreatedAt: clock.Now().Add(-time.Minute),
	}

	buyer := uuid.New()
	store := &fakeStore{
		brokers: []*brokerv1.Broker{
			{ID: brokerID, Name: "Alpha", APIKeyHash: brokerv1.HashAPIKey("key-a")},
			{ID: buyer, Name: "Beta", APIKeyHash: brokerv1.HashAPIKey("key-b")},
		},
		// created_at ascending, as LoadOpenOrders returns them.
		orders: []*orderv1.Order{older, newer},
	}

	eng, clock2 := recoveredEngine(t, store)

	_, trades := submit(t, eng, clock2, buyer, orderv1.SideBid, orderv1.TypeLimit, 3500, 10)
	require.Len(t, trades, 1)
	assert.Equal(t, older.ID, trades[0].SellOrderID)
}

func TestLookupOrder_StoreFallback(t *testing.T) {
	brokerID := uuid.New()
	oldOrder := &orderv1.Order{
		ID:                uuid.New(),
		BrokerID:          brokerID,
		DocumentNumber:    "doc",
		Side:              orderv1.SideBid,
		Type:              orderv1.TypeLimit,
		Symbol:            "PETR4",
		Price:             3400,
		Quantity:          100,
		RemainingQuantity: 0,
		Status:            orderv1.StatusFilled,
	}
	oldTrade := &orderv1.Trade{
		ID: "01HZOLD", BuyOrderID: oldOrder.ID, SellOrderID: uuid.New(),
		Symbol: "PETR4", Price: 3400, Quantity: 100,
		BuyerBrokerID: brokerID, SellerBrokerID: uuid.New(),
	}

	store := &fakeStore{
		brokers:      []*brokerv1.Broker{{ID: brokerID, Name: "Alpha", APIKeyHash: brokerv1.HashAPIKey("key-a")}},
		storedOrders: map[uuid.UUID]*orderv1.Order{oldOrder.ID: oldOrder},
		orderTrades:  map[uuid.UUID][]*orderv1.Trade{oldOrder.ID: {oldTrade}},
	}

	eng, _ := recoveredEngine(t, store)

	// A pre-restart terminal order is reachable through the fallback.
	got, trades, err := eng.LookupOrder(context.Background(), brokerID, oldOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, orderv1.StatusFilled, got.Status)
	require.Len(t, trades, 1)

	// Foreign ownership is still enforced on the fallback path.
	_, _, err = eng.LookupOrder(context.Background(), uuid.New(), oldOrder.ID)
	assert.ErrorIs(t, err, ErrOrderForbidden)

	// Unknown everywhere: not found.
	_, _, err = eng.LookupOrder(context.Background(), brokerID, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
