package orderv1

import (
	"time"

	"github.com/google/uuid"
)

// Trade represents an execution between a buy and a sell order. Trades are
// immutable once emitted. The price is always the resting (passive) order's
// price, never the aggressor's.
type Trade struct {
	ID          string    `json:"id"`
	BuyOrderID  uuid.UUID `json:"buy_order_id"`
	SellOrderID uuid.UUID `json:"sell_order_id"`
	Symbol      string    `json:"symbol"`
	Price       int64     `json:"price"`
	Quantity    int64     `json:"quantity"`
	ExecutedAt  time.Time `json:"executed_at"`

	// Broker context carried so downstream consumers (persistence, webhooks,
	// feed) never have to consult the broker registry after the fact.
	BuyerBrokerID  uuid.UUID `json:"buyer_broker_id"`
	SellerBrokerID uuid.UUID `json:"seller_broker_id"`
}

// Notional returns the cash value of the trade in cents.
func (t *Trade) Notional() int64 {
	return t.Price * t.Quantity
}

// CounterpartyBroker returns the broker on the other side of the trade from
// the given order.
func (t *Trade) CounterpartyBroker(orderID uuid.UUID) uuid.UUID {
	if t.BuyOrderID == orderID {
		return t.SellerBrokerID
	}
	return t.BuyerBrokerID
}

// SideOf returns the side the given order took in this trade.
func (t *Trade) SideOf(orderID uuid.UUID) Side {
	if t.BuyOrderID == orderID {
		return SideBid
	}
	return SideAsk
}
