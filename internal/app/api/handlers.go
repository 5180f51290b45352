package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	brokerv1 "github.com/brasaex/exchange/internal/domain/broker/v1"
	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
	"github.com/brasaex/exchange/internal/usecase/engine"
	"github.com/brasaex/exchange/pkg/logger"
)

type createOrderRequest struct {
	DocumentNumber string       `json:"document_number" binding:"required,max=20"`
	Side           orderv1.Side `json:"side" binding:"required,oneof=bid ask"`
	OrderType      orderv1.Type `json:"order_type" binding:"omitempty,oneof=limit market"`
	Symbol         string       `json:"symbol" binding:"required,max=10"`
	Price          *int64       `json:"price"`
	Quantity       int64        `json:"quantity" binding:"required,gt=0"`
	ValidUntil     *time.Time   `json:"valid_until"`
}

type orderCreatedResponse struct {
	OrderID uuid.UUID `json:"order_id"`
}

type tradeInfo struct {
	TradeID            string    `json:"trade_id"`
	Price              int64     `json:"price"`
	Quantity           int64     `json:"quantity"`
	CounterpartyBroker string    `json:"counterparty_broker"`
	ExecutedAt         time.Time `json:"executed_at"`
}

type orderDetailResponse struct {
	ID                uuid.UUID      `json:"id"`
	Side              orderv1.Side   `json:"side"`
	OrderType         orderv1.Type   `json:"order_type"`
	Symbol            string         `json:"symbol"`
	Price             *int64         `json:"price"`
	Quantity          int64          `json:"quantity"`
	RemainingQuantity int64          `json:"remaining_quantity"`
	Status            orderv1.Status `json:"status"`
	ValidUntil        time.Time      `json:"valid_until"`
	CreatedAt         time.Time      `json:"created_at"`
	Trades            []tradeInfo    `json:"trades"`
}

type balanceResponse struct {
	BrokerID   uuid.UUID `json:"broker_id"`
	BrokerName string    `json:"broker_name"`
	Balance    int64     `json:"balance"`
}

type registerBrokerRequest struct {
	Name       string `json:"name" binding:"required,max=100"`
	WebhookURL string `json:"webhook_url" binding:"omitempty,url"`
}

type registerBrokerResponse struct {
	BrokerID uuid.UUID `json:"broker_id"`
	APIKey   string    `json:"api_key"`
}

func (s *Server) createOrder(c *gin.Context) {
	var body createOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	orderType := body.OrderType
	if orderType == "" {
		orderType = orderv1.TypeLimit
	}

	req := engine.SubmitRequest{
		BrokerID:       currentBroker(c),
		DocumentNumber: body.DocumentNumber,
		Side:           body.Side,
		Type:           orderType,
		Symbol:         body.Symbol,
		Quantity:       body.Quantity,
	}
	if body.Price != nil {
		req.Price = *body.Price
	}
	if body.ValidUntil != nil {
		req.ValidUntil = *body.ValidUntil
	}

	order, _, err := s.engine.SubmitOrder(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, orderCreatedResponse{OrderID: order.ID})
}

func (s *Server) getOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid order id"})
		return
	}

	order, trades, err := s.engine.LookupOrder(c.Request.Context(), currentBroker(c), orderID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"detail": "Order not found"})
		case errors.Is(err, engine.ErrOrderForbidden):
			c.JSON(http.StatusForbidden, gin.H{"detail": "Order belongs to a different broker"})
		default:
			s.logger.ErrorContext(c.Request.Context(), err,
				logger.Field{Key: "order_id", Value: orderID},
			)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
		}
		return
	}

	infos := make([]tradeInfo, 0, len(trades))
	for _, t := range trades {
		infos = append(infos, tradeInfo{
			TradeID:            t.ID,
			Price:              t.Price,
			Quantity:           t.Quantity,
			CounterpartyBroker: s.engine.BrokerName(t.CounterpartyBroker(order.ID)),
			ExecutedAt:         t.ExecutedAt,
		})
	}

	resp := orderDetailResponse{
		ID:                order.ID,
		Side:              order.Side,
		OrderType:         order.Type,
		Symbol:            order.Symbol,
		Quantity:          order.Quantity,
		RemainingQuantity: order.RemainingQuantity,
		Status:            order.Status,
		ValidUntil:        order.ValidUntil,
		CreatedAt:         order.CreatedAt,
		Trades:            infos,
	}
	if order.Type == orderv1.TypeLimit {
		price := order.Price
		resp.Price = &price
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid order id"})
		return
	}

	if err := s.engine.CancelOrder(c.Request.Context(), currentBroker(c), orderID); err != nil {
		if errors.Is(err, engine.ErrOrderForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"detail": "Order belongs to a different broker"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) getOrderBook(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	depth, ok := queryInt(c, "depth", engine.DefaultBookDepth, 1, engine.MaxBookDepth)
	if !ok {
		return
	}

	book, err := s.engine.OrderBook(symbol, depth)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Symbol not found"})
		return
	}

	c.JSON(http.StatusOK, book)
}

func (s *Server) getStockPrice(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	window, ok := queryInt(c, "trades", engine.DefaultPriceWindow, 1, engine.MaxPriceWindow)
	if !ok {
		return
	}

	stats, err := s.engine.Price(symbol, window)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No trades found for symbol"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) getBalance(c *gin.Context) {
	broker, err := s.engine.Balance(currentBroker(c))
	if err != nil {
		if errors.Is(err, brokerv1.ErrBrokerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Broker not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		BrokerID:   broker.ID,
		BrokerName: broker.Name,
		Balance:    broker.Balance,
	})
}

func (s *Server) registerBroker(c *gin.Context) {
	var body registerBrokerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	broker, apiKey, err := s.engine.RegisterBroker(c.Request.Context(), body.Name, body.WebhookURL)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), err,
			logger.Field{Key: "broker_name", Value: body.Name},
		)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to register broker"})
		return
	}

	c.JSON(http.StatusCreated, registerBrokerResponse{
		BrokerID: broker.ID,
		APIKey:   apiKey,
	})
}

func (s *Server) tradeCount(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Store not configured"})
		return
	}

	count, err := s.trades.TradeCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// queryInt parses a bounded integer query parameter, writing the error
// response itself when the value is malformed or out of range.
func queryInt(c *gin.Context, name string, def, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid " + name + " parameter"})
		return 0, false
	}
	return v, true
}
