package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	brokerv1 "github.com/brasaex/exchange/internal/domain/broker/v1"
	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/postgresql"
)

// Repository is the durable store for the exchange: the write sink of the
// persistence pipeline and the read source for recovery and the lookup
// fallback.
type Repository struct {
	client postgresql.Client
}

// NewRepository creates a new repository.
func NewRepository(client postgresql.Client) *Repository {
	return &Repository{
		client: client,
	}
}

const tradeSelect = `
	SELECT t.id, t.buy_order_id, t.sell_order_id, t.symbol, t.price, t.quantity, t.executed_at,
	       bo.broker_id, so.broker_id
	FROM trades t
	JOIN orders bo ON bo.id = t.buy_order_id
	JOIN orders so ON so.id = t.sell_order_id`

// FlushBatch persists one drained batch in a single transaction, in fixed
// order: insert orders, insert trades, update orders, apply balance deltas.
// New-order events precede update events for the same id in every batch
// (queue FIFO), so the inserts always land before the updates that reference
// them.
func (r *Repository) FlushBatch(ctx context.Context, batch *journal.Batch) error {
	if batch.Empty() {
		return nil
	}

	return postgresql.WithTx(ctx, r.client, func(txCtx context.Context) error {
		if err := r.insertOrders(txCtx, batch.Orders); err != nil {
			return err
		}
		if err := r.insertTrades(txCtx, batch.Trades); err != nil {
			return err
		}
		if err := r.updateOrders(txCtx, batch.Updates); err != nil {
			return err
		}
		return r.applyBalanceDeltas(txCtx, batch.BalanceDeltas())
	})
}

func (r *Repository) insertOrders(ctx context.Context, orders []orderv1.Order) error {
	if len(orders) == 0 {
		return nil
	}

	_, err := r.client.CopyFrom(
		ctx,
		pgx.Identifier{"orders"},
		[]string{"id", "broker_id", "document_number", "side", "order_type", "symbol", "price", "quantity", "remaining_quantity", "valid_until", "status", "created_at"},
		pgx.CopyFromSlice(len(orders), func(i int) ([]any, error) {
			var row OrderRow
			row.FromOrder(&orders[i])
			return []any{
				row.ID, row.BrokerID, row.DocumentNumber, row.Side, row.OrderType,
				row.Symbol, row.Price, row.Quantity, row.RemainingQuantity,
				row.ValidUntil, row.Status, row.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy orders batch: %w", err)
	}

	return nil
}

func (r *Repository) insertTrades(ctx context.Context, trades []journal.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}

	_, err := r.client.CopyFrom(
		ctx,
		pgx.Identifier{"trades"},
		[]string{"id", "buy_order_id", "sell_order_id", "symbol", "price", "quantity", "executed_at"},
		pgx.CopyFromSlice(len(trades), func(i int) ([]any, error) {
			t := trades[i].Trade
			return []any{
				t.ID, t.BuyOrderID, t.SellOrderID, t.Symbol, t.Price, t.Quantity, t.ExecutedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy trades batch: %w", err)
	}

	return nil
}

func (r *Repository) updateOrders(ctx context.Context, updates []journal.OrderUpdateEvent) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			"UPDATE orders SET status = $1, remaining_quantity = $2 WHERE id = $3",
			string(u.Status), u.RemainingQuantity, u.OrderID,
		)
	}

	results := r.client.SendBatch(ctx, batch)
	defer results.Close()

	for range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
	}

	return results.Close()
}

func (r *Repository) applyBalanceDeltas(ctx context.Context, deltas map[uuid.UUID]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for brokerID, delta := range deltas {
		batch.Queue(
			"UPDATE brokers SET balance = balance + $1 WHERE id = $2",
			delta, brokerID,
		)
	}

	results := r.client.SendBatch(ctx, batch)
	defer results.Close()

	for range deltas {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to update broker balance: %w", err)
		}
	}

	return results.Close()
}

// InsertBroker stores a newly registered broker.
func (r *Repository) InsertBroker(ctx context.Context, broker *brokerv1.Broker) error {
	query := `INSERT INTO brokers (id, name, api_key_hash, webhook_url, balance, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`

	var webhookURL *string
	if broker.WebhookURL != "" {
		webhookURL = &broker.WebhookURL
	}

	err := r.client.Exec(ctx, query,
		broker.ID, broker.Name, broker.APIKeyHash, webhookURL, broker.Balance, broker.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert broker: %w", err)
	}

	return nil
}

// LoadBrokers loads every broker record.
func (r *Repository) LoadBrokers(ctx context.Context) ([]*brokerv1.Broker, error) {
	query := `SELECT id, name, api_key_hash, webhook_url, balance, created_at FROM brokers`

	rows, err := r.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load brokers: %w", err)
	}
	defer rows.Close()

	var brokers []*brokerv1.Broker
	for rows.Next() {
		var row BrokerRow
		if err := rows.Scan(&row.ID, &row.Name, &row.APIKeyHash, &row.WebhookURL, &row.Balance, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan broker: %w", err)
		}
		brokers = append(brokers, row.ToBroker())
	}

	return brokers, rows.Err()
}

// LoadOpenOrders loads every order that is still open and unexpired, oldest
// first so ladder FIFO positions are rebuilt in time priority.
func (r *Repository) LoadOpenOrders(ctx context.Context, now time.Time) ([]*orderv1.Order, error) {
	query := `SELECT id, broker_id, document_number, side, order_type, symbol, price, quantity, remaining_quantity, valid_until, status, created_at
			  FROM orders
			  WHERE status = $1 AND valid_until > $2
			  ORDER BY created_at ASC`

	rows, err := r.client.Query(ctx, query, string(orderv1.StatusOpen), now)
	if err != nil {
		return nil, fmt.Errorf("failed to load open orders: %w", err)
	}
	defer rows.Close()

	var orders []*orderv1.Order
	for rows.Next() {
		var row OrderRow
		if err := rows.Scan(&row.ID, &row.BrokerID, &row.DocumentNumber, &row.Side, &row.OrderType,
			&row.Symbol, &row.Price, &row.Quantity, &row.RemainingQuantity,
			&row.ValidUntil, &row.Status, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, row.ToOrder())
	}

	return orders, rows.Err()
}

// LoadTradesByOrderIDs loads every trade referencing any of the given orders.
func (r *Repository) LoadTradesByOrderIDs(ctx context.Context, ids []uuid.UUID) ([]*orderv1.Trade, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := tradeSelect + `
	WHERE t.buy_order_id = ANY($1) OR t.sell_order_id = ANY($1)
	ORDER BY t.executed_at ASC`

	rows, err := r.client.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// LoadRecentTradePrices returns up to perSymbol most recent executed prices
// for every symbol, oldest first.
func (r *Repository) LoadRecentTradePrices(ctx context.Context, perSymbol int) (map[string][]int64, error) {
	query := `SELECT symbol, price FROM (
				SELECT symbol, price, executed_at,
				       row_number() OVER (PARTITION BY symbol ORDER BY executed_at DESC) AS rn
				FROM trades
			  ) recent
			  WHERE rn <= $1
			  ORDER BY symbol, executed_at ASC`

	rows, err := r.client.Query(ctx, query, perSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent trade prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[string][]int64)
	for rows.Next() {
		var symbol string
		var price int64
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, fmt.Errorf("failed to scan trade price: %w", err)
		}
		prices[symbol] = append(prices[symbol], price)
	}

	return prices, rows.Err()
}

// GetOrder fetches a single order, returning nil when absent.
func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*orderv1.Order, error) {
	query := `SELECT id, broker_id, document_number, side, order_type, symbol, price, quantity, remaining_quantity, valid_until, status, created_at
			  FROM orders WHERE id = $1`

	var row OrderRow
	err := r.client.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.BrokerID, &row.DocumentNumber, &row.Side, &row.OrderType,
		&row.Symbol, &row.Price, &row.Quantity, &row.RemainingQuantity,
		&row.ValidUntil, &row.Status, &row.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return row.ToOrder(), nil
}

// GetTradesForOrder loads the trades one order participated in.
func (r *Repository) GetTradesForOrder(ctx context.Context, id uuid.UUID) ([]*orderv1.Trade, error) {
	query := tradeSelect + `
	WHERE t.buy_order_id = $1 OR t.sell_order_id = $1
	ORDER BY t.executed_at ASC`

	rows, err := r.client.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades for order: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// TradeCount returns the number of persisted trades.
func (r *Repository) TradeCount(ctx context.Context) (int64, error) {
	var count int64
	if err := r.client.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

func scanTrades(rows pgx.Rows) ([]*orderv1.Trade, error) {
	var trades []*orderv1.Trade
	for rows.Next() {
		var row TradeRow
		if err := rows.Scan(&row.ID, &row.BuyOrderID, &row.SellOrderID, &row.Symbol,
			&row.Price, &row.Quantity, &row.ExecutedAt,
			&row.BuyerBrokerID, &row.SellerBrokerID); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, row.ToTrade())
	}

	return trades, rows.Err()
}
