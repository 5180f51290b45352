package exchange

import (
	"time"

	"github.com/google/uuid"

	brokerv1 "github.com/brasaex/exchange/internal/domain/broker/v1"
	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
)

// OrderRow is the orders table shape.
type OrderRow struct {
	ID                uuid.UUID
	BrokerID          uuid.UUID
	DocumentNumber    string
	Side              string
	OrderType         string
	Symbol            string
	Price             *int64 // NULL for market orders
	Quantity          int64
	RemainingQuantity int64
	ValidUntil        time.Time
	Status            string
	CreatedAt         time.Time
}

// FromOrder converts a domain order to its row shape.
func (r *OrderRow) FromOrder(o *orderv1.Order) {
	r.ID = o.ID
	r.BrokerID = o.BrokerID
	r.DocumentNumber = o.DocumentNumber
	r.Side = string(o.Side)
	r.OrderType = string(o.Type)
	r.Symbol = o.Symbol
	r.Price = nil
	if o.Type == orderv1.TypeLimit {
		price := o.Price
		r.Price = &price
	}
	r.Quantity = o.Quantity
	r.RemainingQuantity = o.RemainingQuantity
	r.ValidUntil = o.ValidUntil
	r.Status = string(o.Status)
	r.CreatedAt = o.CreatedAt
}

// ToOrder converts the row back to a domain order.
func (r *OrderRow) ToOrder() *orderv1.Order {
	order := &orderv1.Order{
		ID:                r.ID,
		BrokerID:          r.BrokerID,
		DocumentNumber:    r.DocumentNumber,
		Side:              orderv1.Side(r.Side),
		Type:              orderv1.Type(r.OrderType),
		Symbol:            r.Symbol,
		Quantity:          r.Quantity,
		RemainingQuantity: r.RemainingQuantity,
		ValidUntil:        r.ValidUntil,
		Status:            orderv1.Status(r.Status),
		CreatedAt:         r.CreatedAt,
	}
	if r.Price != nil {
		order.Price = *r.Price
	}
	return order
}

// TradeRow is the trades table shape. Broker ids are joined from the
// participating orders, not stored on the trade itself.
type TradeRow struct {
	ID             string
	BuyOrderID     uuid.UUID
	SellOrderID    uuid.UUID
	Symbol         string
	Price          int64
	Quantity       int64
	ExecutedAt     time.Time
	BuyerBrokerID  uuid.UUID
	SellerBrokerID uuid.UUID
}

// ToTrade converts the row to a domain trade.
func (r *TradeRow) ToTrade() *orderv1.Trade {
	return &orderv1.Trade{
		ID:             r.ID,
		BuyOrderID:     r.BuyOrderID,
		SellOrderID:    r.SellOrderID,
		Symbol:         r.Symbol,
		Price:          r.Price,
		Quantity:       r.Quantity,
		ExecutedAt:     r.ExecutedAt,
		BuyerBrokerID:  r.BuyerBrokerID,
		SellerBrokerID: r.SellerBrokerID,
	}
}

// BrokerRow is the brokers table shape.
type BrokerRow struct {
	ID         uuid.UUID
	Name       string
	APIKeyHash string
	WebhookURL *string
	Balance    int64
	CreatedAt  time.Time
}

// ToBroker converts the row to a domain broker.
func (r *BrokerRow) ToBroker() *brokerv1.Broker {
	broker := &brokerv1.Broker{
		ID:         r.ID,
		Name:       r.Name,
		APIKeyHash: r.APIKeyHash,
		Balance:    r.Balance,
		CreatedAt:  r.CreatedAt,
	}
	if r.WebhookURL != nil {
		broker.WebhookURL = *r.WebhookURL
	}
	return broker
}
