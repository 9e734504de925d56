package domain

import "context"

// OrderRepository 订单持久化接口
type OrderRepository interface {
	// SaveOrder 按 order_id 幂等落库（新建或更新状态/剩余数量）
	SaveOrder(ctx context.Context, order *Order) error
	// SaveOrders 批量落库
	SaveOrders(ctx context.Context, orders []*Order) error
	// GetOrder 按 ID 查询
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// ListOrdersByUser 查询用户订单，倒序，limit <= 0 表示不限
	ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*Order, error)
	// ListOpenOrders 查询仍未终结的订单，崩溃恢复时重建订单簿用
	ListOpenOrders(ctx context.Context) ([]*Order, error)
}

// TradeRepository 成交持久化接口
type TradeRepository interface {
	SaveTrades(ctx context.Context, trades []*Trade) error
	// ListTradesByTicker 查询 ticker 成交历史，倒序
	ListTradesByTicker(ctx context.Context, ticker string, limit int) ([]*Trade, error)
	// ListTradesByUser 查询用户作为任一方的成交历史，倒序
	ListTradesByUser(ctx context.Context, userID string, limit int) ([]*Trade, error)
}

// UserRepository 用户账户持久化接口
type UserRepository interface {
	// SaveUser 落库用户现金与全部持仓
	SaveUser(ctx context.Context, snapshot UserSnapshot) error
	SaveUsers(ctx context.Context, snapshots []UserSnapshot) error
	// GetUserByUsername 按用户名查询
	GetUserByUsername(ctx context.Context, username string) (*UserSnapshot, error)
	// ListUsers 启动时装载全部用户
	ListUsers(ctx context.Context) ([]UserSnapshot, error)
}

// TradingStore 聚合存储接口。
// Transaction 内拿到的 store 共享同一个数据库事务，下单落库
// （订单、成交、被动单更新、账户余额）必须在一个事务内完成。
type TradingStore interface {
	OrderRepository
	TradeRepository
	UserRepository
	Transaction(ctx context.Context, fn func(TradingStore) error) error
}
