// Package application 交易所的应用服务层：命令、查询与做市机器人。
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
	"github.com/BerkZerker/Market-Sim/pkg/metrics"
)

// EventPublisher 领域事件发布接口，nil 表示不外发
type EventPublisher interface {
	PublishTradeExecuted(ctx context.Context, event *domain.TradeExecutedEvent) error
	PublishPriceUpdated(ctx context.Context, event *domain.PriceUpdatedEvent) error
	PublishOrderCancelled(ctx context.Context, event *domain.OrderCancelledEvent) error
}

// Manager 交易所命令服务。
// 引擎内存状态是权威，落库与事件发布在引擎返回后进行：
// 同一次下单的订单、成交、被动单更新与账户余额落在一个事务里，
// 事务提交后再发布 Kafka 事件。
type Manager struct {
	engine    *domain.Exchange
	store     domain.TradingStore
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	defaultTIF   domain.TimeInForce
	startingCash decimal.Decimal
}

// NewManager 创建命令服务
func NewManager(
	engine *domain.Exchange,
	store domain.TradingStore,
	publisher EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	defaultTIF string,
	startingCash decimal.Decimal,
) *Manager {
	tif := domain.TimeInForce(strings.ToUpper(defaultTIF))
	if !tif.Valid() {
		tif = domain.TimeInForceGTC
	}
	return &Manager{
		engine:       engine,
		store:        store,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.With("module", "exchange_manager"),
		defaultTIF:   tif,
		startingCash: startingCash,
	}
}

// PlaceOrder 下单
func (m *Manager) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: bad price %q", domain.ErrInvalidOrder, req.Price)
	}
	tif := m.defaultTIF
	if req.TimeInForce != "" {
		tif = domain.TimeInForce(strings.ToUpper(req.TimeInForce))
	}
	order := domain.NewOrder(
		uuid.NewString(),
		req.UserID,
		strings.ToUpper(req.Ticker),
		domain.OrderSide(strings.ToUpper(req.Side)),
		price,
		req.Quantity,
		tif,
	)

	start := time.Now()
	result, err := m.engine.PlaceOrder(order)
	if err != nil {
		m.metrics.OrdersRejectedTotal.Inc()
		return nil, err
	}
	m.metrics.MatchDuration.Observe(time.Since(start).Seconds())
	m.metrics.OrdersTotal.Inc()
	m.metrics.TradesTotal.Add(float64(len(result.Trades)))

	// 引擎返回的是锁内快照，簿上订单可能已被后续撮合改写
	placed := result.Order
	if placed.Status == domain.OrderStatusOpen || placed.Status == domain.OrderStatusPartiallyFilled {
		m.metrics.OrdersActive.Inc()
	}
	for _, r := range result.RestingUpdated {
		if r.Status == domain.OrderStatusFilled {
			m.metrics.OrdersActive.Dec()
		}
	}

	m.logger.Info("order placed",
		"order_id", placed.OrderID,
		"user_id", placed.UserID,
		"ticker", placed.Ticker,
		"side", placed.Side,
		"price", placed.Price,
		"quantity", placed.OriginalQuantity,
		"status", placed.Status,
		"trades", len(result.Trades))

	m.persistPlacement(ctx, result)
	m.publishTrades(ctx, result)

	return &PlaceOrderResponse{
		Order:  toOrderResponse(placed),
		Trades: toTradeResponses(result.Trades),
	}, nil
}

// persistPlacement 一次下单的全部变更落在一个事务里。
// 引擎状态是权威，落库失败只记日志不回滚撮合结果。
func (m *Manager) persistPlacement(ctx context.Context, result *domain.PlacementResult) {
	err := m.store.Transaction(ctx, func(tx domain.TradingStore) error {
		if err := tx.SaveOrder(ctx, result.Order); err != nil {
			return err
		}
		if err := tx.SaveOrders(ctx, result.RestingUpdated); err != nil {
			return err
		}
		if err := tx.SaveTrades(ctx, result.Trades); err != nil {
			return err
		}
		snapshots := make([]domain.UserSnapshot, 0, len(result.AffectedUsers))
		for _, u := range result.AffectedUsers {
			snapshots = append(snapshots, u.Snapshot())
		}
		return tx.SaveUsers(ctx, snapshots)
	})
	if err != nil {
		m.logger.Error("persist placement failed", "order_id", result.Order.OrderID, "error", err)
	}
}

// publishTrades 事务提交后发布成交与最新价事件
func (m *Manager) publishTrades(ctx context.Context, result *domain.PlacementResult) {
	if m.publisher == nil || len(result.Trades) == 0 {
		return
	}
	for _, t := range result.Trades {
		if err := m.publisher.PublishTradeExecuted(ctx, domain.NewTradeExecutedEvent(t)); err != nil {
			m.logger.Error("publish trade event failed", "trade_id", t.TradeID, "error", err)
		}
	}
	last := result.Trades[len(result.Trades)-1]
	err := m.publisher.PublishPriceUpdated(ctx, &domain.PriceUpdatedEvent{
		Ticker:    last.Ticker,
		LastPrice: last.Price,
		UpdatedAt: last.CreatedAt,
	})
	if err != nil {
		m.logger.Error("publish price event failed", "ticker", last.Ticker, "error", err)
	}
}

// CancelOrder 撤单
func (m *Manager) CancelOrder(ctx context.Context, orderID, userID string) (*CancelOrderResponse, error) {
	result, err := m.engine.CancelOrder(orderID, userID)
	if err != nil {
		return nil, err
	}
	m.metrics.CancelsTotal.Inc()
	m.metrics.OrdersActive.Dec()

	m.logger.Info("order cancelled", "order_id", orderID, "user_id", userID)
	m.persistCancel(ctx, result)
	m.publishCancel(ctx, result)

	return &CancelOrderResponse{
		Order:        toOrderResponse(result.Order),
		RefundCash:   formatDecimal(result.RefundCash),
		RefundShares: result.RefundShares,
	}, nil
}

// CancelAllForUser 撤掉用户在单个 ticker 上的全部挂单
func (m *Manager) CancelAllForUser(ctx context.Context, ticker, userID string) ([]CancelOrderResponse, error) {
	results, err := m.engine.CancelAllForUser(strings.ToUpper(ticker), userID)
	if err != nil {
		return nil, err
	}
	out := make([]CancelOrderResponse, 0, len(results))
	for _, r := range results {
		m.metrics.CancelsTotal.Inc()
		m.metrics.OrdersActive.Dec()
		m.persistCancel(ctx, r)
		m.publishCancel(ctx, r)
		out = append(out, CancelOrderResponse{
			Order:        toOrderResponse(r.Order),
			RefundCash:   formatDecimal(r.RefundCash),
			RefundShares: r.RefundShares,
		})
	}
	return out, nil
}

func (m *Manager) persistCancel(ctx context.Context, result *domain.CancelResult) {
	if err := m.store.SaveOrder(ctx, result.Order); err != nil {
		m.logger.Error("persist cancel failed", "order_id", result.Order.OrderID, "error", err)
	}
}

func (m *Manager) publishCancel(ctx context.Context, result *domain.CancelResult) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.PublishOrderCancelled(ctx, &domain.OrderCancelledEvent{
		OrderID:     result.Order.OrderID,
		UserID:      result.Order.UserID,
		Ticker:      result.Order.Ticker,
		CancelledAt: time.Now(),
	})
	if err != nil {
		m.logger.Error("publish cancel event failed", "order_id", result.Order.OrderID, "error", err)
	}
}

// RegisterUser 开户，初始资金为配置的起始现金
func (m *Manager) RegisterUser(ctx context.Context, req *RegisterUserRequest) (*PortfolioResponse, error) {
	if existing, err := m.store.GetUserByUsername(ctx, req.Username); err == nil && existing != nil {
		return nil, fmt.Errorf("username %s already taken", req.Username)
	}

	user := domain.NewUser(uuid.NewString(), req.Username, m.startingCash, false)
	if err := m.engine.RegisterUser(user); err != nil {
		return nil, err
	}
	if err := m.store.SaveUser(ctx, user.Snapshot()); err != nil {
		m.logger.Error("persist user failed", "user_id", user.UserID, "error", err)
	}

	m.logger.Info("user registered", "user_id", user.UserID, "username", user.Username)
	return &PortfolioResponse{
		UserID:      user.UserID,
		Username:    user.Username,
		Cash:        formatDecimal(user.Cash()),
		BuyingPower: formatDecimal(user.BuyingPower()),
		Holdings:    map[string]int64{},
		NetWorth:    formatDecimal(user.Cash()),
	}, nil
}

// EnsureUser 查找或创建指定用户名的账户，做市机器人启动时使用
func (m *Manager) EnsureUser(ctx context.Context, username string, isMarketMaker bool) (*domain.User, error) {
	for _, u := range m.engine.Users() {
		if u.Username == username {
			return u, nil
		}
	}
	user := domain.NewUser(uuid.NewString(), username, m.startingCash, isMarketMaker)
	if err := m.engine.RegisterUser(user); err != nil {
		return nil, err
	}
	if err := m.store.SaveUser(ctx, user.Snapshot()); err != nil {
		m.logger.Error("persist user failed", "user_id", user.UserID, "error", err)
	}
	return user, nil
}

// Bootstrap 启动时从持久层装载全部用户
func (m *Manager) Bootstrap(ctx context.Context) error {
	snapshots, err := m.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, snap := range snapshots {
		user := domain.NewUser(snap.UserID, snap.Username, snap.Cash, snap.IsMarketMaker)
		for ticker, qty := range snap.Holdings {
			user.SetHolding(ticker, qty)
		}
		if err := m.engine.RegisterUser(user); err != nil {
			return err
		}
	}
	m.logger.Info("users loaded", "count", len(snapshots))
	return nil
}
