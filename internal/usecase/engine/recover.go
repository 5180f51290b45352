package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/brasaex/exchange/pkg/errors"
	"github.com/brasaex/exchange/pkg/logger"
)

// Recover rehydrates the in-memory state from the durable store. It must run
// before any request is admitted: brokers first, then open unexpired orders
// in created_at order (preserving time priority in the ladders), then the
// trades referencing those orders, then the recent-trade rings. Orders that
// were open in memory but never flushed before a crash are gone; that loss is
// bounded by the flush interval and accepted by design of the pipeline.
func (e *Engine) Recover(ctx context.Context) error {
	if e.store == nil {
		return errors.NewTracer("recovery requires a store")
	}

	now := e.now().UTC()

	brokers, err := e.store.LoadBrokers(ctx)
	if err != nil {
		return errors.NewTracer(errors.RecoveryError.String()).Wrap(err)
	}

	orders, err := e.store.LoadOpenOrders(ctx, now)
	if err != nil {
		return errors.NewTracer(errors.RecoveryError.String()).Wrap(err)
	}

	orderIDs := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
	}

	trades, err := e.store.LoadTradesByOrderIDs(ctx, orderIDs)
	if err != nil {
		return errors.NewTracer(errors.RecoveryError.String()).Wrap(err)
	}

	prices, err := e.store.LoadRecentTradePrices(ctx, recentTradeCapacity)
	if err != nil {
		return errors.NewTracer(errors.RecoveryError.String()).Wrap(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, broker := range brokers {
		e.brokers[broker.ID] = broker
		e.brokersByKeyHash[broker.APIKeyHash] = broker.ID
	}

	// LoadOpenOrders returns created_at ascending, so FIFO positions within
	// each price level are restored.
	for _, order := range orders {
		e.orders[order.ID] = order
		if err := e.book(order.Symbol).ladder(order.Side).Insert(order); err != nil {
			return errors.NewTracer(errors.RecoveryError.String()).Wrap(err)
		}
	}

	for _, trade := range trades {
		e.tradesByOrder[trade.BuyOrderID] = append(e.tradesByOrder[trade.BuyOrderID], trade)
		e.tradesByOrder[trade.SellOrderID] = append(e.tradesByOrder[trade.SellOrderID], trade)
	}

	// Oldest-first per symbol, so ring order matches execution order.
	for symbol, symbolPrices := range prices {
		ring := e.ring(symbol)
		for _, price := range symbolPrices {
			ring.Append(price)
		}
	}

	e.recovered = true

	e.logger.Info("recovery complete",
		logger.Field{Key: "brokers", Value: len(brokers)},
		logger.Field{Key: "open_orders", Value: len(orders)},
		logger.Field{Key: "trades", Value: len(trades)},
		logger.Field{Key: "symbols_with_prices", Value: len(prices)},
	)

	return nil
}
