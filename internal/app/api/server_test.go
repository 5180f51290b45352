package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brasaex/exchange/internal/usecase/engine"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/logger"
)

const adminKey = "admin-secret"

type nopStore struct{}

func (nopStore) FlushBatch(context.Context, *journal.Batch) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	log, err := logger.NewLogger(logger.WithLoggingLevel(logger.ErrorLevel))
	require.NoError(t, err)

	j := journal.New(journal.Config{}, nopStore{}, log)
	eng := engine.New(engine.Config{}, j, nil, log)
	return NewServer(eng, nil, log, adminKey)
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func registerBrokerViaAPI(t *testing.T, s *Server, name string) (uuid.UUID, string) {
	t.Helper()

	rec := doJSON(t, s, http.MethodPost, "/register", adminKey, reqBody{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[registerBrokerResponse](t, rec)
	return resp.BrokerID, resp.APIKey
}

// reqBody is a free-form JSON request body.
type reqBody map[string]any

func limitOrderBody(side string, price, quantity int64) reqBody {
	return reqBody{
		"document_number": "12345678900",
		"side":            side,
		"order_type":      "limit",
		"symbol":          "PETR4",
		"price":           price,
		"quantity":        quantity,
		"valid_until":     time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_MissingOrInvalidKey(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/balance", "key-bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister_RequiresAdminKey(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/register", "wrong", reqBody{"name": "Alpha"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/register", adminKey, reqBody{"name": "Alpha"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestOrderFlow_EndToEnd(t *testing.T) {
	s := newTestServer(t)

	_, sellerKey := registerBrokerViaAPI(t, s, "Seller")
	buyerID, buyerKey := registerBrokerViaAPI(t, s, "Buyer")

	// Seller rests an ask.
	rec := doJSON(t, s, http.MethodPost, "/orders", sellerKey, limitOrderBody("ask", 3500, 100))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Buyer crosses.
	rec = doJSON(t, s, http.MethodPost, "/orders", buyerKey, limitOrderBody("bid", 3510, 100))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[orderCreatedResponse](t, rec)

	// Order detail shows the fill and the counterparty.
	rec = doJSON(t, s, http.MethodGet, "/orders/"+created.OrderID.String(), buyerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[orderDetailResponse](t, rec)
	assert.Equal(t, "filled", string(detail.Status))
	assert.Equal(t, int64(0), detail.RemainingQuantity)
	require.Len(t, detail.Trades, 1)
	assert.Equal(t, int64(3500), detail.Trades[0].Price)
	assert.Equal(t, "Seller", detail.Trades[0].CounterpartyBroker)

	// Price stats reflect the execution.
	rec = doJSON(t, s, http.MethodGet, "/stocks/PETR4/price", buyerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, float64(3500), stats["last_price"])

	// Balance moved by the notional.
	rec = doJSON(t, s, http.MethodGet, "/balance", buyerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[balanceResponse](t, rec)
	assert.Equal(t, buyerID, balance.BrokerID)
	assert.Equal(t, int64(-350000), balance.Balance)
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	s := newTestServer(t)
	_, key := registerBrokerViaAPI(t, s, "Alpha")

	tests := []struct {
		name string
		body reqBody
	}{
		{
			name: "missing quantity",
			body: reqBody{"document_number": "doc", "side": "bid", "symbol": "PETR4", "price": 3500},
		},
		{
			name: "bad side",
			body: reqBody{"document_number": "doc", "side": "buy", "symbol": "PETR4", "price": 3500, "quantity": 10},
		},
		{
			name: "limit without price",
			body: reqBody{
				"document_number": "doc", "side": "bid", "symbol": "PETR4", "quantity": 10,
				"valid_until": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
			},
		},
		{
			name: "market with price",
			body: reqBody{"document_number": "doc", "side": "bid", "order_type": "market", "symbol": "PETR4", "price": 3500, "quantity": 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/orders", key, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}
}

func TestGetOrder_ForeignAndMissing(t *testing.T) {
	s := newTestServer(t)

	_, ownerKey := registerBrokerViaAPI(t, s, "Owner")
	_, otherKey := registerBrokerViaAPI(t, s, "Other")

	rec := doJSON(t, s, http.MethodPost, "/orders", ownerKey, limitOrderBody("bid", 3400, 10))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[orderCreatedResponse](t, rec)

	rec = doJSON(t, s, http.MethodGet, "/orders/"+created.OrderID.String(), otherKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/orders/"+uuid.NewString(), ownerKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder_AlwaysNoContent(t *testing.T) {
	s := newTestServer(t)

	_, ownerKey := registerBrokerViaAPI(t, s, "Owner")
	_, otherKey := registerBrokerViaAPI(t, s, "Other")

	rec := doJSON(t, s, http.MethodPost, "/orders", ownerKey, limitOrderBody("bid", 3400, 10))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[orderCreatedResponse](t, rec)

	// Cancel by owner, by a stranger (silent), and of a missing order all
	// answer 204: the contract is idempotent and information-free.
	for _, tc := range []struct {
		key string
		id  string
	}{
		{otherKey, created.OrderID.String()},
		{ownerKey, created.OrderID.String()},
		{ownerKey, created.OrderID.String()},
		{ownerKey, uuid.NewString()},
	} {
		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/orders/%s/cancel", tc.id), tc.key, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestGetOrderBook(t *testing.T) {
	s := newTestServer(t)
	_, key := registerBrokerViaAPI(t, s, "Alpha")

	rec := doJSON(t, s, http.MethodPost, "/orders", key, limitOrderBody("bid", 3400, 100))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/stocks/petr4/book?depth=5", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	book := decode[engine.BookSnapshot](t, rec)
	assert.Equal(t, "PETR4", book.Symbol)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, engine.PriceLevel{Price: 3400, TotalQuantity: 100, OrderCount: 1}, book.Bids[0])

	// Unknown symbol and out-of-range depth.
	rec = doJSON(t, s, http.MethodGet, "/stocks/VALE3/book", key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/stocks/PETR4/book?depth=999", key, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetStockPrice_NotFoundWhenNoTrades(t *testing.T) {
	s := newTestServer(t)
	_, key := registerBrokerViaAPI(t, s, "Alpha")

	rec := doJSON(t, s, http.MethodGet, "/stocks/PETR4/price", key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTradeCount_WithoutStore(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/debug/trade-count", adminKey, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
