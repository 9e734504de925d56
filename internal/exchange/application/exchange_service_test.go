package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
	"github.com/BerkZerker/Market-Sim/pkg/metrics"
)

// fakeStore 内存版 TradingStore，测试用
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	trades []*domain.Trade
	users  map[string]domain.UserSnapshot

	failTx bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[string]*domain.Order),
		users:  make(map[string]domain.UserSnapshot),
	}
}

func (s *fakeStore) Transaction(ctx context.Context, fn func(domain.TradingStore) error) error {
	if s.failTx {
		return assert.AnError
	}
	return fn(s)
}

func (s *fakeStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *fakeStore) SaveOrders(ctx context.Context, orders []*domain.Order) error {
	for _, o := range orders {
		if err := s.SaveOrder(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *fakeStore) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) ListOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusOpen || o.Status == domain.OrderStatusPartiallyFilled {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveTrades(ctx context.Context, trades []*domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
	return nil
}

func (s *fakeStore) ListTradesByTicker(ctx context.Context, ticker string, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Trade
	for _, t := range s.trades {
		if t.Ticker == ticker {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Trade
	for _, t := range s.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveUser(ctx context.Context, snap domain.UserSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[snap.UserID] = snap
	return nil
}

func (s *fakeStore) SaveUsers(ctx context.Context, snaps []domain.UserSnapshot) error {
	for _, snap := range snaps {
		if err := s.SaveUser(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) GetUserByUsername(ctx context.Context, username string) (*domain.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.users {
		if snap.Username == username {
			cp := snap
			return &cp, nil
		}
	}
	return nil, domain.ErrUnknownUser
}

func (s *fakeStore) ListUsers(ctx context.Context) ([]domain.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserSnapshot
	for _, snap := range s.users {
		out = append(out, snap)
	}
	return out, nil
}

type fixture struct {
	engine  *domain.Exchange
	store   *fakeStore
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := domain.NewExchange(logger, 256)
	t.Cleanup(engine.Close)
	engine.AddMarket("FUN", decimal.NewFromInt(10))

	store := newFakeStore()
	service := NewService(engine, store, nil, metrics.New("exchange"), logger,
		"GTC", decimal.NewFromInt(10000))
	return &fixture{engine: engine, store: store, service: service}
}

func (f *fixture) register(t *testing.T, username string) *PortfolioResponse {
	t.Helper()
	resp, err := f.service.RegisterUser(context.Background(), &RegisterUserRequest{Username: username})
	require.NoError(t, err)
	return resp
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)

	resp := f.register(t, "alice")
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "10000.00", resp.Cash)
	assert.Equal(t, "10000.00", resp.BuyingPower)

	// 用户名唯一
	_, err := f.service.RegisterUser(context.Background(), &RegisterUserRequest{Username: "alice"})
	assert.Error(t, err)

	// 已落库
	snap, err := f.store.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(10000)))
}

func TestPlaceOrderPersistsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")

	bobUser, err := f.engine.GetUser(bob.UserID)
	require.NoError(t, err)
	bobUser.SetHolding("FUN", 100)

	sell, err := f.service.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: bob.UserID, Ticker: "FUN", Side: "sell", Price: "9.50", Quantity: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderStatusOpen), sell.Order.Status)
	assert.Empty(t, sell.Trades)

	buy, err := f.service.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "fun", Side: "BUY", Price: "10.00", Quantity: 40,
	})
	require.NoError(t, err)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, "9.50", buy.Trades[0].Price)
	assert.Equal(t, string(domain.OrderStatusFilled), buy.Order.Status)

	// 进场单、被动单、成交与双方余额都已落库
	stored, err := f.store.GetOrder(ctx, buy.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)

	restingStored, err := f.store.GetOrder(ctx, sell.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, restingStored.Status)
	assert.Equal(t, int64(60), restingStored.Quantity)

	trades, err := f.store.ListTradesByTicker(ctx, "FUN", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	aliceSnap := f.store.users[alice.UserID]
	assert.True(t, aliceSnap.Cash.Equal(decimal.NewFromInt(10000).Sub(decimal.NewFromInt(380))),
		"cash = %s", aliceSnap.Cash)
	assert.Equal(t, int64(40), aliceSnap.Holdings["FUN"])
}

func TestPlaceOrderRejectionsDoNotPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	_, err := f.service.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "BUY", Price: "abc", Quantity: 10,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = f.service.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "SELL", Price: "10.00", Quantity: 10,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	assert.Empty(t, f.store.orders)
}

func TestPlaceOrderSurvivesPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	f.store.failTx = true

	// 引擎状态是权威，落库失败不影响下单结果
	resp, err := f.service.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "BUY", Price: "9.00", Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderStatusOpen), resp.Order.Status)

	book, err := f.service.GetOrderBook("FUN", 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
}

func TestCancelOrderFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	resp, err := f.service.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "BUY", Price: "9.00", Quantity: 10,
	})
	require.NoError(t, err)

	cancel, err := f.service.CancelOrder(ctx, resp.Order.OrderID, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderStatusCancelled), cancel.Order.Status)
	assert.Equal(t, "90.00", cancel.RefundCash)

	stored, err := f.store.GetOrder(ctx, resp.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)

	_, err = f.service.CancelOrder(ctx, resp.Order.OrderID, alice.UserID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestBootstrapLoadsUsers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore()
	require.NoError(t, store.SaveUser(context.Background(), domain.UserSnapshot{
		UserID:   "u1",
		Username: "carol",
		Cash:     decimal.NewFromInt(5000),
		Holdings: map[string]int64{"FUN": 25},
	}))

	engine := domain.NewExchange(logger, 64)
	defer engine.Close()
	engine.AddMarket("FUN", decimal.NewFromInt(10))
	service := NewService(engine, store, nil, metrics.New("exchange"), logger,
		"GTC", decimal.NewFromInt(10000))

	require.NoError(t, service.Bootstrap(context.Background()))

	portfolio, err := service.GetPortfolio("u1")
	require.NoError(t, err)
	assert.Equal(t, "carol", portfolio.Username)
	assert.Equal(t, "5000.00", portfolio.Cash)
	assert.Equal(t, int64(25), portfolio.Holdings["FUN"])
	// 净值 = 5000 + 25 × 10
	assert.Equal(t, "5250.00", portfolio.NetWorth)
}

func TestLeaderboardOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	f.register(t, "bob")

	_, err := f.service.EnsureUser(ctx, "mm-bot", true)
	require.NoError(t, err)

	aliceUser, err := f.engine.GetUser(alice.UserID)
	require.NoError(t, err)
	aliceUser.SetHolding("FUN", 100)

	board := f.service.GetLeaderboard()
	require.Len(t, board, 2, "market maker excluded")
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "alice", board[0].Username)
	// 10000 + 100 × 10
	assert.Equal(t, "11000.00", board[0].NetWorth)
	assert.Equal(t, "bob", board[1].Username)
}
