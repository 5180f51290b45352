package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/errors"
	"github.com/brasaex/exchange/pkg/logger"
)

// Payload is the wire shape delivered to broker webhook endpoints. The field
// set is fixed for broker compatibility.
type Payload struct {
	Event                  string       `json:"event"`
	TradeID                string       `json:"trade_id"`
	OrderID                uuid.UUID    `json:"order_id"`
	Symbol                 string       `json:"symbol"`
	Side                   orderv1.Side `json:"side"`
	Price                  int64        `json:"price"`
	Quantity               int64        `json:"quantity"`
	OrderRemainingQuantity int64        `json:"order_remaining_quantity"`
	ExecutedAt             time.Time    `json:"executed_at"`
}

// eventTradeExecuted is the only event kind currently dispatched.
const eventTradeExecuted = "trade_executed"

// Dispatcher delivers trade notifications to broker endpoints after a batch
// commits. Delivery is at-most-once and best-effort: failures are logged,
// never retried, never surfaced to the submitting broker.
type Dispatcher struct {
	client *http.Client
	logger logger.Interface
}

// NewDispatcher creates a dispatcher with the given delivery timeout.
func NewDispatcher(timeout time.Duration, log logger.Interface) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

// CommitHook returns a journal hook that fans out webhooks for every trade in
// a committed batch: one dispatch per participating broker that has an
// endpoint. Deliveries run detached from the flusher.
func (d *Dispatcher) CommitHook() journal.CommitHook {
	return func(ctx context.Context, batch *journal.Batch) {
		for _, te := range batch.Trades {
			trade := te.Trade
			if te.BuyerWebhookURL != "" {
				go d.deliver(te.BuyerWebhookURL, Payload{
					Event:                  eventTradeExecuted,
					TradeID:                trade.ID,
					OrderID:                trade.BuyOrderID,
					Symbol:                 trade.Symbol,
					Side:                   orderv1.SideBid,
					Price:                  trade.Price,
					Quantity:               trade.Quantity,
					OrderRemainingQuantity: te.BuyerRemainingQuantity,
					ExecutedAt:             trade.ExecutedAt,
				})
			}
			if te.SellerWebhookURL != "" {
				go d.deliver(te.SellerWebhookURL, Payload{
					Event:                  eventTradeExecuted,
					TradeID:                trade.ID,
					OrderID:                trade.SellOrderID,
					Symbol:                 trade.Symbol,
					Side:                   orderv1.SideAsk,
					Price:                  trade.Price,
					Quantity:               trade.Quantity,
					OrderRemainingQuantity: te.SellerRemainingQuantity,
					ExecutedAt:             trade.ExecutedAt,
				})
			}
		}
	}
}

// deliver posts one payload, logging any failure.
func (d *Dispatcher) deliver(url string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error(errors.NewTracer(errors.WebhookDeliveryError.String()).Wrap(err),
			logger.Field{Key: "url", Value: url},
		)
		return
	}

	resp, err := d.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		d.logger.Error(errors.NewTracer(errors.WebhookDeliveryError.String()).Wrap(err),
			logger.Field{Key: "url", Value: url},
			logger.Field{Key: "trade_id", Value: payload.TradeID},
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.logger.Warn("webhook delivery failed",
			logger.Field{Key: "url", Value: url},
			logger.Field{Key: "status", Value: resp.StatusCode},
			logger.Field{Key: "trade_id", Value: payload.TradeID},
		)
	}
}
