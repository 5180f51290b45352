package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brasaex/exchange/internal/usecase/engine"
	"github.com/brasaex/exchange/pkg/logger"
	"github.com/brasaex/exchange/pkg/util"
)

// TradeCounter is the slice of the durable store the debug surface reads.
type TradeCounter interface {
	TradeCount(ctx context.Context) (int64, error)
}

// Server is the HTTP surface over the matching engine.
type Server struct {
	router      *gin.Engine
	engine      *engine.Engine
	trades      TradeCounter
	logger      logger.Interface
	adminAPIKey string
}

// NewServer wires the router, middleware, and routes. trades may be nil,
// which answers 503 on the debug surface.
func NewServer(eng *engine.Engine, trades TradeCounter, log logger.Interface, adminAPIKey string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:      router,
		engine:      eng,
		trades:      trades,
		logger:      log,
		adminAPIKey: adminAPIKey,
	}

	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	broker := router.Group("/", s.brokerAuth())
	{
		broker.POST("/orders", s.createOrder)
		broker.GET("/orders/:id", s.getOrder)
		broker.POST("/orders/:id/cancel", s.cancelOrder)
		broker.GET("/stocks/:symbol/book", s.getOrderBook)
		broker.GET("/stocks/:symbol/price", s.getStockPrice)
		broker.GET("/balance", s.getBalance)
	}

	admin := router.Group("/", s.adminAuth())
	{
		admin.POST("/register", s.registerBroker)
		admin.GET("/debug/trade-count", s.tradeCount)
	}

	return s
}

// Handler returns the underlying http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger attaches a request id to the context and logs each request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := util.WithRequestID(c.Request.Context(), c.GetHeader("X-Request-ID"))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		s.logger.InfoContext(ctx, "http_request",
			logger.Field{Key: "method", Value: c.Request.Method},
			logger.Field{Key: "path", Value: c.Request.URL.Path},
			logger.Field{Key: "status", Value: c.Writer.Status()},
			logger.Field{Key: "latency", Value: time.Since(start).String()},
		)
	}
}
