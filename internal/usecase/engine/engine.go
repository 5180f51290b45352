package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	bookv1 "github.com/brasaex/exchange/internal/domain/book/v1"
	brokerv1 "github.com/brasaex/exchange/internal/domain/broker/v1"
	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/logger"
)

var (
	// ErrOrderNotFound is returned when an order id is unknown to the engine
	// and the durable store.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderForbidden is returned when a broker probes another broker's order.
	ErrOrderForbidden = errors.New("order belongs to a different broker")
	// ErrSymbolNotFound is returned when a symbol has never traded and never
	// had a resting order.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNoTrades is returned when a price query hits an empty recent-trade ring.
	ErrNoTrades = errors.New("no trades found for symbol")
)

const (
	// recentTradeCapacity bounds the per-symbol recent-trade ring.
	recentTradeCapacity = 1000

	// DefaultBookDepth is the book aggregation depth when none is requested.
	DefaultBookDepth = 10
	// MaxBookDepth caps the book aggregation depth.
	MaxBookDepth = 50
	// DefaultPriceWindow is the average window when none is requested.
	DefaultPriceWindow = 50
	// MaxPriceWindow caps the average window.
	MaxPriceWindow = 1000
)

// CancelForeignBehavior selects what cancel does when the order belongs to a
// different broker.
type CancelForeignBehavior string

const (
	// CancelForeignSilent treats a foreign cancel as an idempotent no-op,
	// leaking nothing about the order's existence. This is the default.
	CancelForeignSilent CancelForeignBehavior = "silent"
	// CancelForeignForbid surfaces ErrOrderForbidden on a foreign cancel.
	CancelForeignForbid CancelForeignBehavior = "forbid"
)

// Config holds the engine policy knobs.
type Config struct {
	CancelForeign CancelForeignBehavior `env:"CANCEL_FOREIGN_BEHAVIOR" envDefault:"silent"`
}

// Store is the read side of the durable store the engine consults during
// recovery, broker registration, and the one-shot lookup fallback for
// pre-restart orders.
type Store interface {
	InsertBroker(ctx context.Context, broker *brokerv1.Broker) error
	LoadBrokers(ctx context.Context) ([]*brokerv1.Broker, error)
	LoadOpenOrders(ctx context.Context, now time.Time) ([]*orderv1.Order, error)
	LoadTradesByOrderIDs(ctx context.Context, ids []uuid.UUID) ([]*orderv1.Trade, error)
	LoadRecentTradePrices(ctx context.Context, perSymbol int) (map[string][]int64, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*orderv1.Order, error)
	GetTradesForOrder(ctx context.Context, id uuid.UUID) ([]*orderv1.Trade, error)
}

// symbolBook holds both ladders of one symbol, created lazily on first use.
type symbolBook struct {
	bids *bookv1.Ladder
	asks *bookv1.Ladder
}

func newSymbolBook() *symbolBook {
	return &symbolBook{
		bids: bookv1.NewLadder(orderv1.SideBid),
		asks: bookv1.NewLadder(orderv1.SideAsk),
	}
}

func (b *symbolBook) ladder(side orderv1.Side) *bookv1.Ladder {
	if side == orderv1.SideBid {
		return b.bids
	}
	return b.asks
}

// Engine owns all in-memory exchange state behind a single mutex: the order
// index, per-symbol ladders, the trade index, the broker registry, and the
// recent-trade rings. Every mutation runs to completion while holding the
// lock, so queries observe consistent snapshots between match cascades and
// there is exactly one logical writer.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	logger  logger.Interface
	journal *journal.Journal
	store   Store

	orders        map[uuid.UUID]*orderv1.Order
	books         map[string]*symbolBook
	tradesByOrder map[uuid.UUID][]*orderv1.Trade

	brokers          map[uuid.UUID]*brokerv1.Broker
	brokersByKeyHash map[string]uuid.UUID

	tradePrices map[string]*priceRing

	recovered bool

	now func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine. store may be nil, which disables broker
// registration persistence and the lookup fallback (used by tests).
func New(cfg Config, j *journal.Journal, store Store, log logger.Interface, opts ...Option) *Engine {
	e := &Engine{
		cfg:              cfg,
		logger:           log,
		journal:          j,
		store:            store,
		orders:           make(map[uuid.UUID]*orderv1.Order),
		books:            make(map[string]*symbolBook),
		tradesByOrder:    make(map[uuid.UUID][]*orderv1.Trade),
		brokers:          make(map[uuid.UUID]*brokerv1.Broker),
		brokersByKeyHash: make(map[string]uuid.UUID),
		tradePrices:      make(map[string]*priceRing),
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// book returns the symbol's book, creating it on first use.
func (e *Engine) book(symbol string) *symbolBook {
	b, ok := e.books[symbol]
	if !ok {
		b = newSymbolBook()
		e.books[symbol] = b
	}
	return b
}

// ring returns the symbol's recent-trade ring, creating it on first use.
func (e *Engine) ring(symbol string) *priceRing {
	r, ok := e.tradePrices[symbol]
	if !ok {
		r = newPriceRing(recentTradeCapacity)
		e.tradePrices[symbol] = r
	}
	return r
}

// AuthenticateKey resolves an API key to a broker id via the credential-hash
// index.
func (e *Engine) AuthenticateKey(key string) (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.brokersByKeyHash[brokerv1.HashAPIKey(key)]
	return id, ok
}

// RegisterBroker creates a broker, persists it synchronously, registers it in
// both registry maps, and returns the record together with the raw API key.
func (e *Engine) RegisterBroker(ctx context.Context, name, webhookURL string) (*brokerv1.Broker, string, error) {
	rawKey := brokerv1.NewAPIKey()

	broker := &brokerv1.Broker{
		ID:         uuid.New(),
		Name:       name,
		WebhookURL: webhookURL,
		APIKeyHash: brokerv1.HashAPIKey(rawKey),
		CreatedAt:  e.now().UTC(),
	}

	if e.store != nil {
		if err := e.store.InsertBroker(ctx, broker); err != nil {
			return nil, "", err
		}
	}

	e.mu.Lock()
	e.brokers[broker.ID] = broker
	e.brokersByKeyHash[broker.APIKeyHash] = broker.ID
	e.mu.Unlock()

	return broker, rawKey, nil
}

// Balance reads a broker's balance from the registry.
func (e *Engine) Balance(brokerID uuid.UUID) (*brokerv1.Broker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	broker, ok := e.brokers[brokerID]
	if !ok {
		return nil, brokerv1.ErrBrokerNotFound
	}

	snapshot := *broker
	return &snapshot, nil
}

// BrokerName returns the display name for a broker id, or empty when the
// broker is unknown.
func (e *Engine) BrokerName(brokerID uuid.UUID) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if broker, ok := e.brokers[brokerID]; ok {
		return broker.Name
	}
	return ""
}

// PriceLevel is one aggregated level of the book.
type PriceLevel struct {
	Price         int64 `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

// BookSnapshot is the aggregated order book for one symbol.
type BookSnapshot struct {
	Symbol string       `json:"symbol"`
	Depth  int          `json:"depth"`
	Asks   []PriceLevel `json:"asks"`
	Bids   []PriceLevel `json:"bids"`
}

// OrderBook aggregates up to depth levels per side, best-first: asks
// ascending, bids descending. Levels whose queues hold only lazily-expired
// head orders are pruned and skipped. A symbol that never traded and never
// had a resting order is not found.
func (e *Engine) OrderBook(symbol string, depth int) (*BookSnapshot, error) {
	if depth <= 0 {
		depth = DefaultBookDepth
	}
	if depth > MaxBookDepth {
		depth = MaxBookDepth
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, hasBook := e.books[symbol]
	_, hasTrades := e.tradePrices[symbol]
	if !hasBook && !hasTrades {
		return nil, ErrSymbolNotFound
	}

	snapshot := &BookSnapshot{
		Symbol: symbol,
		Depth:  depth,
		Asks:   []PriceLevel{},
		Bids:   []PriceLevel{},
	}

	if b != nil {
		now := e.now().UTC()
		snapshot.Asks = e.aggregateLocked(b.asks, depth, now)
		snapshot.Bids = e.aggregateLocked(b.bids, depth, now)
	}

	return snapshot, nil
}

// aggregateLocked walks one ladder best-first, expiring stale head orders as
// it goes, and returns up to depth non-empty levels.
func (e *Engine) aggregateLocked(ladder *bookv1.Ladder, depth int, now time.Time) []PriceLevel {
	// Collect the level pointers first: pruning mutates the ladder's level
	// tree, which must not happen mid-walk.
	var levels []*bookv1.Level
	ladder.WalkLevels(func(level *bookv1.Level) bool {
		levels = append(levels, level)
		return true
	})

	out := []PriceLevel{}
	for _, level := range levels {
		if len(out) == depth {
			break
		}

		for {
			front := level.Front()
			if front == nil || !front.Expired(now) {
				break
			}
			e.expireLocked(front)
		}

		if level.Len() == 0 {
			continue
		}
		out = append(out, PriceLevel{
			Price:         level.Price,
			TotalQuantity: level.TotalQuantity(),
			OrderCount:    level.Len(),
		})
	}
	return out
}

// PriceStats summarizes a symbol's recent executed prices.
type PriceStats struct {
	Symbol          string `json:"symbol"`
	LastPrice       int64  `json:"last_price"`
	AveragePrice    int64  `json:"average_price"`
	TradesInAverage int    `json:"trades_in_average"`
}

// Price reads the symbol's recent-trade ring: the most recent price and the
// integer mean of the last min(window, ring size) prices.
func (e *Engine) Price(symbol string, window int) (*PriceStats, error) {
	if window <= 0 {
		window = DefaultPriceWindow
	}
	if window > MaxPriceWindow {
		window = MaxPriceWindow
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ring, ok := e.tradePrices[symbol]
	if !ok || ring.Len() == 0 {
		return nil, ErrNoTrades
	}

	recent := ring.LastN(window)
	var sum int64
	for _, p := range recent {
		sum += p
	}

	last, _ := ring.Last()
	return &PriceStats{
		Symbol:          symbol,
		LastPrice:       last,
		AveragePrice:    sum / int64(len(recent)),
		TradesInAverage: len(recent),
	}, nil
}
