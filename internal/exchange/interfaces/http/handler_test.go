package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkZerker/Market-Sim/internal/exchange/application"
	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
	"github.com/BerkZerker/Market-Sim/pkg/metrics"
)

// memStore 内存版 TradingStore，接口测试用
type memStore struct {
	orders map[string]*domain.Order
	trades []*domain.Trade
	users  map[string]domain.UserSnapshot
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[string]*domain.Order),
		users:  make(map[string]domain.UserSnapshot),
	}
}

func (s *memStore) Transaction(ctx context.Context, fn func(domain.TradingStore) error) error {
	return fn(s)
}

func (s *memStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	cp := *o
	s.orders[o.OrderID] = &cp
	return nil
}

func (s *memStore) SaveOrders(ctx context.Context, orders []*domain.Order) error {
	for _, o := range orders {
		s.SaveOrder(ctx, o)
	}
	return nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *memStore) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) ListOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	return nil, nil
}

func (s *memStore) SaveTrades(ctx context.Context, trades []*domain.Trade) error {
	s.trades = append(s.trades, trades...)
	return nil
}

func (s *memStore) ListTradesByTicker(ctx context.Context, ticker string, limit int) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, t := range s.trades {
		if t.Ticker == ticker {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, t := range s.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) SaveUser(ctx context.Context, snap domain.UserSnapshot) error {
	s.users[snap.UserID] = snap
	return nil
}

func (s *memStore) SaveUsers(ctx context.Context, snaps []domain.UserSnapshot) error {
	for _, snap := range snaps {
		s.users[snap.UserID] = snap
	}
	return nil
}

func (s *memStore) GetUserByUsername(ctx context.Context, username string) (*domain.UserSnapshot, error) {
	for _, snap := range s.users {
		if snap.Username == username {
			cp := snap
			return &cp, nil
		}
	}
	return nil, domain.ErrUnknownUser
}

func (s *memStore) ListUsers(ctx context.Context) ([]domain.UserSnapshot, error) {
	return nil, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *application.Service, *domain.Exchange) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := domain.NewExchange(logger, 256)
	t.Cleanup(engine.Close)
	engine.AddMarket("FUN", decimal.NewFromInt(10))

	service := application.NewService(engine, newMemStore(), nil, metrics.New("exchange"),
		logger, "GTC", decimal.NewFromInt(10000))

	router := gin.New()
	NewExchangeHandler(service, logger).RegisterRoutes(router.Group(""))
	return router, service, engine
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func registerUser(t *testing.T, router *gin.Engine, username string) application.PortfolioResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/exchange/users",
		application.RegisterUserRequest{Username: username})
	require.Equal(t, http.StatusOK, w.Code)
	var portfolio application.PortfolioResponse
	decodeData(t, w, &portfolio)
	return portfolio
}

func TestPlaceAndCancelOrderEndpoints(t *testing.T) {
	router, _, _ := setupRouter(t)
	alice := registerUser(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/api/v1/exchange/orders", application.PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "BUY", Price: "9.00", Quantity: 10,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var placed application.PlaceOrderResponse
	decodeData(t, w, &placed)
	assert.Equal(t, "OPEN", placed.Order.Status)

	// 他人不可撤
	w = doJSON(t, router, http.MethodDelete,
		"/api/v1/exchange/orders/"+placed.Order.OrderID+"?user_id=nobody", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodDelete,
		"/api/v1/exchange/orders/"+placed.Order.OrderID+"?user_id="+alice.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled application.CancelOrderResponse
	decodeData(t, w, &cancelled)
	assert.Equal(t, "CANCELLED", cancelled.Order.Status)
	assert.Equal(t, "90.00", cancelled.RefundCash)

	// 再撤一次 404
	w = doJSON(t, router, http.MethodDelete,
		"/api/v1/exchange/orders/"+placed.Order.OrderID+"?user_id="+alice.UserID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaceOrderValidationErrors(t *testing.T) {
	router, _, _ := setupRouter(t)
	alice := registerUser(t, router, "alice")

	// 资金不足
	w := doJSON(t, router, http.MethodPost, "/api/v1/exchange/orders", application.PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "BUY", Price: "100.00", Quantity: 1000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 未知 ticker
	w = doJSON(t, router, http.MethodPost, "/api/v1/exchange/orders", application.PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "NOPE", Side: "BUY", Price: "10.00", Quantity: 10,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 缺字段
	w = doJSON(t, router, http.MethodPost, "/api/v1/exchange/orders", map[string]any{"ticker": "FUN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderBookAndStatsEndpoints(t *testing.T) {
	router, _, _ := setupRouter(t)
	alice := registerUser(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/api/v1/exchange/orders", application.PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "BUY", Price: "9.00", Quantity: 10,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/exchange/orderbook/fun?depth=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var book application.OrderBookResponse
	decodeData(t, w, &book)
	assert.Equal(t, "FUN", book.Ticker)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "9.00", book.Bids[0].Price)

	w = doJSON(t, router, http.MethodGet, "/api/v1/exchange/orderbook/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/exchange/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats []application.TickerStatsResponse
	decodeData(t, w, &stats)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].BidOrders)
}

func TestPortfolioAndLeaderboardEndpoints(t *testing.T) {
	router, _, engine := setupRouter(t)
	alice := registerUser(t, router, "alice")
	registerUser(t, router, "bob")

	user, err := engine.GetUser(alice.UserID)
	require.NoError(t, err)
	user.SetHolding("FUN", 50)

	w := doJSON(t, router, http.MethodGet, "/api/v1/exchange/users/"+alice.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var portfolio application.PortfolioResponse
	decodeData(t, w, &portfolio)
	assert.Equal(t, int64(50), portfolio.Holdings["FUN"])
	// 10000 + 50 × 10
	assert.Equal(t, "10500.00", portfolio.NetWorth)

	w = doJSON(t, router, http.MethodGet, "/api/v1/exchange/users/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/exchange/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var board []application.LeaderboardEntry
	decodeData(t, w, &board)
	require.Len(t, board, 2)
	assert.Equal(t, "alice", board[0].Username)
}
