package journal

import (
	"github.com/google/uuid"

	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
)

// Event is an immutable value snapshot captured at enqueue time. The
// in-memory records may continue to mutate independently; the snapshot is
// what gets persisted.
type Event interface {
	isEvent()
}

// NewOrderEvent carries the full order state as submitted, before matching
// began, so durable history records the order pristine rather than as left
// after trading.
type NewOrderEvent struct {
	Order orderv1.Order
}

func (NewOrderEvent) isEvent() {}

// TradeEvent carries the trade plus enough broker context to drive
// post-commit webhook dispatch without reading the broker registry later.
type TradeEvent struct {
	Trade orderv1.Trade

	BuyerWebhookURL  string
	SellerWebhookURL string

	// Remaining quantities of the participating orders immediately after
	// this trade, for the webhook payload.
	BuyerRemainingQuantity  int64
	SellerRemainingQuantity int64
}

func (TradeEvent) isEvent() {}

// OrderUpdateEvent carries a status / remaining-quantity change.
type OrderUpdateEvent struct {
	OrderID           uuid.UUID
	Status            orderv1.Status
	RemainingQuantity int64
}

func (OrderUpdateEvent) isEvent() {}

// Batch is one flush unit: events drained from the queue, grouped by kind,
// with order updates deduplicated per order id keeping the last (status
// transitions are monotonic toward terminal, so the latest is authoritative).
type Batch struct {
	Orders  []orderv1.Order
	Trades  []TradeEvent
	Updates []OrderUpdateEvent
}

// buildBatch groups and deduplicates a drained slice of events.
func buildBatch(events []Event) *Batch {
	b := &Batch{}

	updateIdx := make(map[uuid.UUID]int)
	for _, ev := range events {
		switch e := ev.(type) {
		case NewOrderEvent:
			b.Orders = append(b.Orders, e.Order)
		case TradeEvent:
			b.Trades = append(b.Trades, e)
		case OrderUpdateEvent:
			if i, ok := updateIdx[e.OrderID]; ok {
				b.Updates[i] = e // last wins
				continue
			}
			updateIdx[e.OrderID] = len(b.Updates)
			b.Updates = append(b.Updates, e)
		}
	}

	return b
}

// Empty reports whether the batch has nothing to persist.
func (b *Batch) Empty() bool {
	return len(b.Orders) == 0 && len(b.Trades) == 0 && len(b.Updates) == 0
}

// Size returns the number of grouped entries in the batch.
func (b *Batch) Size() int {
	return len(b.Orders) + len(b.Trades) + len(b.Updates)
}

// BalanceDeltas folds the batch's trades into per-broker balance deltas:
// the buyer's broker pays the notional, the seller's broker receives it.
func (b *Batch) BalanceDeltas() map[uuid.UUID]int64 {
	deltas := make(map[uuid.UUID]int64)
	for _, te := range b.Trades {
		cost := te.Trade.Notional()
		deltas[te.Trade.BuyerBrokerID] -= cost
		deltas[te.Trade.SellerBrokerID] += cost
	}
	return deltas
}
