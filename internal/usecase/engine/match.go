package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/logger"
)

// SubmitRequest is an order admission request from the outer layer, already
// authenticated.
type SubmitRequest struct {
	BrokerID       uuid.UUID
	DocumentNumber string
	Side           orderv1.Side
	Type           orderv1.Type
	Symbol         string
	Price          int64
	Quantity       int64
	ValidUntil     time.Time
}

// validate applies the admission rules. No state is mutated on rejection.
func (r *SubmitRequest) validate(now time.Time) error {
	symbol := strings.TrimSpace(r.Symbol)
	if symbol == "" || len(symbol) > 10 {
		return orderv1.ErrInvalidSymbol
	}
	if r.DocumentNumber == "" || len(r.DocumentNumber) > 20 {
		return orderv1.ErrInvalidDocumentNumber
	}
	if r.Quantity <= 0 {
		return orderv1.ErrInvalidQuantity
	}

	switch r.Type {
	case orderv1.TypeLimit:
		if r.Price <= 0 {
			return orderv1.ErrInvalidPrice
		}
		if r.ValidUntil.IsZero() {
			return orderv1.ErrValidUntilRequired
		}
		if !r.ValidUntil.After(now) {
			return orderv1.ErrValidUntilPast
		}
	case orderv1.TypeMarket:
		if r.Price != 0 {
			return orderv1.ErrMarketOrderPrice
		}
	}

	return nil
}

// SubmitOrder admits and matches a new order. The pristine new-order snapshot
// is enqueued before the match loop begins, so the durable history records
// the order as submitted; trade and status events follow in FIFO order. The
// whole cascade runs under the engine lock without suspension.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*orderv1.Order, []*orderv1.Trade, error) {
	now := e.now().UTC()

	if err := req.validate(now); err != nil {
		return nil, nil, err
	}

	validUntil := req.ValidUntil
	if req.Type == orderv1.TypeMarket {
		// Never consulted, but keeps the column non-null.
		validUntil = now
	}

	order := &orderv1.Order{
		ID:                uuid.New(),
		BrokerID:          req.BrokerID,
		DocumentNumber:    req.DocumentNumber,
		Side:              req.Side,
		Type:              req.Type,
		Symbol:            strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Price:             req.Price,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Status:            orderv1.StatusOpen,
		ValidUntil:        validUntil,
		CreatedAt:         now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.orders[order.ID] = order

	e.journal.Enqueue(journal.NewOrderEvent{Order: *order})

	trades, tradeEvents := e.matchLocked(order, now)

	for _, te := range tradeEvents {
		e.journal.Enqueue(te)
	}

	// One update per order touched by the cascade, carrying its final state.
	updated := map[uuid.UUID]bool{order.ID: true}
	for _, t := range trades {
		updated[t.BuyOrderID] = true
		updated[t.SellOrderID] = true
	}
	for id := range updated {
		if o, ok := e.orders[id]; ok {
			e.journal.Enqueue(journal.OrderUpdateEvent{
				OrderID:           o.ID,
				Status:            o.Status,
				RemainingQuantity: o.RemainingQuantity,
			})
		}
	}

	e.logger.DebugContext(ctx, "order admitted",
		logger.Field{Key: "order_id", Value: order.ID},
		logger.Field{Key: "symbol", Value: order.Symbol},
		logger.Field{Key: "trades", Value: len(trades)},
	)

	return order, trades, nil
}

// matchLocked runs the match cascade for an admitted order against the
// opposite ladder, then rests or discards the remainder. It returns the
// executed trades together with their persistence snapshots.
func (e *Engine) matchLocked(order *orderv1.Order, now time.Time) ([]*orderv1.Trade, []journal.TradeEvent) {
	var trades []*orderv1.Trade
	var tradeEvents []journal.TradeEvent

	// The symbol's book is registered only once an order rests on it, so an
	// unfilled market order alone does not make the symbol known to OrderBook.
	book, known := e.books[order.Symbol]
	if !known {
		book = newSymbolBook()
	}
	opposite := book.ladder(order.Side.Opposite())

	for order.RemainingQuantity > 0 {
		candidate := opposite.PeekBest()
		if candidate == nil {
			break
		}

		// Lazy expiration on sight: stale entries are purged as the match
		// loop encounters them.
		if candidate.Expired(now) {
			e.expireLocked(candidate)
			continue
		}

		if !order.Crosses(candidate.Price) {
			break
		}

		quantity := order.RemainingQuantity
		if candidate.RemainingQuantity < quantity {
			quantity = candidate.RemainingQuantity
		}

		// Execution price is always the resting order's price.
		trade := e.executeLocked(order, candidate, quantity, candidate.Price, now)
		trades = append(trades, trade)

		buyerRemaining := order.RemainingQuantity
		sellerRemaining := candidate.RemainingQuantity
		if order.IsAsk() {
			buyerRemaining, sellerRemaining = sellerRemaining, buyerRemaining
		}
		tradeEvents = append(tradeEvents, journal.TradeEvent{
			Trade:                   *trade,
			BuyerWebhookURL:         e.webhookURLLocked(trade.BuyerBrokerID),
			SellerWebhookURL:        e.webhookURLLocked(trade.SellerBrokerID),
			BuyerRemainingQuantity:  buyerRemaining,
			SellerRemainingQuantity: sellerRemaining,
		})

		if candidate.RemainingQuantity == 0 {
			candidate.Status = orderv1.StatusFilled
			opposite.Remove(candidate)
		}
	}

	switch {
	case order.RemainingQuantity == 0:
		order.Status = orderv1.StatusFilled
	case order.Type == orderv1.TypeMarket:
		// Immediate-or-cancel: the remainder is discarded, never rested.
		order.Status = orderv1.StatusCancelled
	default:
		e.books[order.Symbol] = book
		if err := book.ladder(order.Side).Insert(order); err != nil {
			e.logger.Error(err, logger.Field{Key: "order_id", Value: order.ID})
		}
	}

	return trades, tradeEvents
}

// executeLocked emits one trade: decrements both remaining quantities,
// adjusts balances, indexes the trade on both orders, and records the price
// in the symbol's recent-trade ring.
func (e *Engine) executeLocked(aggressor, resting *orderv1.Order, quantity, price int64, now time.Time) *orderv1.Trade {
	buy, sell := aggressor, resting
	if aggressor.IsAsk() {
		buy, sell = resting, aggressor
	}

	trade := &orderv1.Trade{
		ID:             ulid.Make().String(),
		BuyOrderID:     buy.ID,
		SellOrderID:    sell.ID,
		Symbol:         aggressor.Symbol,
		Price:          price,
		Quantity:       quantity,
		ExecutedAt:     now,
		BuyerBrokerID:  buy.BrokerID,
		SellerBrokerID: sell.BrokerID,
	}

	aggressor.RemainingQuantity -= quantity
	resting.RemainingQuantity -= quantity

	cost := trade.Notional()
	if buyer, ok := e.brokers[trade.BuyerBrokerID]; ok {
		buyer.Balance -= cost
	}
	if seller, ok := e.brokers[trade.SellerBrokerID]; ok {
		seller.Balance += cost
	}

	e.tradesByOrder[buy.ID] = append(e.tradesByOrder[buy.ID], trade)
	e.tradesByOrder[sell.ID] = append(e.tradesByOrder[sell.ID], trade)
	e.ring(trade.Symbol).Append(price)

	return trade
}

// webhookURLLocked returns the broker's webhook endpoint, or empty.
func (e *Engine) webhookURLLocked(brokerID uuid.UUID) string {
	if broker, ok := e.brokers[brokerID]; ok {
		return broker.WebhookURL
	}
	return ""
}

// expireLocked transitions an open order to expired, removes it from its
// ladder, and enqueues the status update.
func (e *Engine) expireLocked(order *orderv1.Order) {
	order.Status = orderv1.StatusExpired
	e.book(order.Symbol).ladder(order.Side).Remove(order)
	e.journal.Enqueue(journal.OrderUpdateEvent{
		OrderID:           order.ID,
		Status:            order.Status,
		RemainingQuantity: order.RemainingQuantity,
	})
}

// CancelOrder cancels an open limit order owned by the broker. Cancelling a
// missing, closed, or market order is an idempotent no-op; a foreign order
// follows the configured policy and defaults to the same silence.
func (e *Engine) CancelOrder(ctx context.Context, brokerID, orderID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil
	}
	if order.BrokerID != brokerID {
		if e.cfg.CancelForeign == CancelForeignForbid {
			return ErrOrderForbidden
		}
		return nil
	}
	if order.Status != orderv1.StatusOpen || order.Type == orderv1.TypeMarket {
		return nil
	}

	e.book(order.Symbol).ladder(order.Side).Remove(order)
	order.Status = orderv1.StatusCancelled

	e.journal.Enqueue(journal.OrderUpdateEvent{
		OrderID:           order.ID,
		Status:            order.Status,
		RemainingQuantity: order.RemainingQuantity,
	})

	e.logger.DebugContext(ctx, "order cancelled",
		logger.Field{Key: "order_id", Value: orderID},
	)

	return nil
}

// LookupOrder returns an order and its trades, memory-first. An open order
// past its expiry is transitioned on sight. When the id is unknown and
// recovery has completed, a one-shot durable fetch may reconstruct a
// pre-restart record.
func (e *Engine) LookupOrder(ctx context.Context, brokerID, orderID uuid.UUID) (*orderv1.Order, []*orderv1.Trade, error) {
	e.mu.Lock()

	order, ok := e.orders[orderID]
	if ok {
		if order.BrokerID != brokerID {
			e.mu.Unlock()
			return nil, nil, ErrOrderForbidden
		}

		if order.Status == orderv1.StatusOpen && order.Expired(e.now().UTC()) {
			e.expireLocked(order)
		}

		snapshot := *order
		trades := append([]*orderv1.Trade(nil), e.tradesByOrder[orderID]...)
		e.mu.Unlock()
		return &snapshot, trades, nil
	}

	fallback := e.recovered && e.store != nil
	e.mu.Unlock()

	if !fallback {
		return nil, nil, ErrOrderNotFound
	}

	// Read-only store fallback for orders that predate the last restart.
	// Runs outside the lock; the record is terminal or unknown to memory,
	// so nothing here races the writer.
	stored, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if stored == nil {
		return nil, nil, ErrOrderNotFound
	}
	if stored.BrokerID != brokerID {
		return nil, nil, ErrOrderForbidden
	}

	trades, err := e.store.GetTradesForOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return stored, trades, nil
}
