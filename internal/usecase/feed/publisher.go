package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/errors"
	"github.com/brasaex/exchange/pkg/logger"
)

// Config is the trade-feed Kafka configuration. The feed is disabled when no
// brokers are configured.
type Config struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"trades"`
}

// Enabled reports whether the feed should be wired at all.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// TradeMessage is the market-data feed wire shape for one executed trade.
type TradeMessage struct {
	TradeID     string    `json:"trade_id"`
	Symbol      string    `json:"symbol"`
	Price       int64     `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  uuid.UUID `json:"buy_order_id"`
	SellOrderID uuid.UUID `json:"sell_order_id"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Publisher emits committed trades to the market-data topic. Publishing is
// best-effort: errors are logged and never propagated to the flusher.
type Publisher struct {
	kafkaWriter *kafka.Writer
	logger      logger.Interface
}

// NewPublisher creates a new Kafka publisher for the trade feed.
func NewPublisher(config Config, log logger.Interface) *Publisher {
	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(config.Brokers...),
		Topic:    config.Topic,
		Balancer: &kafka.Hash{},
	}

	return &Publisher{
		kafkaWriter: kafkaWriter,
		logger:      log,
	}
}

// CommitHook returns a journal hook publishing every trade in a committed
// batch, keyed by symbol so per-symbol ordering survives partitioning.
func (p *Publisher) CommitHook() journal.CommitHook {
	return func(ctx context.Context, batch *journal.Batch) {
		if len(batch.Trades) == 0 {
			return
		}

		messages := make([]kafka.Message, 0, len(batch.Trades))
		for _, te := range batch.Trades {
			t := te.Trade
			value, err := json.Marshal(TradeMessage{
				TradeID:     t.ID,
				Symbol:      t.Symbol,
				Price:       t.Price,
				Quantity:    t.Quantity,
				BuyOrderID:  t.BuyOrderID,
				SellOrderID: t.SellOrderID,
				ExecutedAt:  t.ExecutedAt,
			})
			if err != nil {
				p.logger.Error(errors.NewTracer(errors.FeedPublishError.String()).Wrap(err),
					logger.Field{Key: "trade_id", Value: t.ID},
				)
				continue
			}
			messages = append(messages, kafka.Message{
				Key:   []byte(t.Symbol),
				Value: value,
			})
		}

		if err := p.kafkaWriter.WriteMessages(ctx, messages...); err != nil {
			p.logger.Error(errors.NewTracer(errors.FeedPublishError.String()).Wrap(err),
				logger.Field{Key: "trades", Value: len(messages)},
			)
		}
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.kafkaWriter.Close()
}
