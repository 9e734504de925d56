// Package mysql 交易所的 MySQL 持久化实现
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
)

// OrderModel MySQL 订单表映射
type OrderModel struct {
	gorm.Model
	OrderID          string          `gorm:"column:order_id;type:varchar(64);uniqueIndex;not null;comment:订单ID"`
	UserID           string          `gorm:"column:user_id;type:varchar(64);index;not null;comment:用户ID"`
	Ticker           string          `gorm:"column:ticker;type:varchar(20);index;not null;comment:标的"`
	Side             string          `gorm:"column:side;type:varchar(8);not null;comment:方向"`
	Price            decimal.Decimal `gorm:"column:price;type:decimal(20,2);not null;comment:限价"`
	Quantity         int64           `gorm:"column:quantity;type:bigint;not null;comment:剩余数量"`
	OriginalQuantity int64           `gorm:"column:original_quantity;type:bigint;not null;comment:原始数量"`
	TimeInForce      string          `gorm:"column:time_in_force;type:varchar(8);not null;comment:有效期"`
	Status           string          `gorm:"column:status;type:varchar(20);index;not null;comment:状态"`
	Sequence         int64           `gorm:"column:sequence;type:bigint;not null;comment:ticker内序号"`
}

func (OrderModel) TableName() string { return "exchange_orders" }

// TradeModel MySQL 成交表映射
type TradeModel struct {
	gorm.Model
	TradeID     string          `gorm:"column:trade_id;type:varchar(64);uniqueIndex;not null;comment:成交ID"`
	Ticker      string          `gorm:"column:ticker;type:varchar(20);index;not null"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(20,2);not null"`
	Quantity    int64           `gorm:"column:quantity;type:bigint;not null"`
	BuyerID     string          `gorm:"column:buyer_id;type:varchar(64);index;not null"`
	SellerID    string          `gorm:"column:seller_id;type:varchar(64);index;not null"`
	BuyOrderID  string          `gorm:"column:buy_order_id;type:varchar(64);index;not null"`
	SellOrderID string          `gorm:"column:sell_order_id;type:varchar(64);index;not null"`
	ExecutedAt  time.Time       `gorm:"column:executed_at;not null"`
}

func (TradeModel) TableName() string { return "exchange_trades" }

// UserModel MySQL 用户表映射
type UserModel struct {
	gorm.Model
	UserID        string          `gorm:"column:user_id;type:varchar(64);uniqueIndex;not null"`
	Username      string          `gorm:"column:username;type:varchar(64);uniqueIndex;not null"`
	Cash          decimal.Decimal `gorm:"column:cash;type:decimal(20,2);not null"`
	IsMarketMaker bool            `gorm:"column:is_market_maker;not null;default:false"`
}

func (UserModel) TableName() string { return "exchange_users" }

// HoldingModel MySQL 持仓表映射，用户与 ticker 联合唯一
type HoldingModel struct {
	gorm.Model
	UserID   string `gorm:"column:user_id;type:varchar(64);uniqueIndex:idx_user_ticker;not null"`
	Ticker   string `gorm:"column:ticker;type:varchar(20);uniqueIndex:idx_user_ticker;not null"`
	Quantity int64  `gorm:"column:quantity;type:bigint;not null"`
}

func (HoldingModel) TableName() string { return "exchange_holdings" }

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &TradeModel{}, &UserModel{}, &HoldingModel{})
}

// mapping helpers

func toOrderModel(o *domain.Order) *OrderModel {
	return &OrderModel{
		OrderID:          o.OrderID,
		UserID:           o.UserID,
		Ticker:           o.Ticker,
		Side:             string(o.Side),
		Price:            o.Price,
		Quantity:         o.Quantity,
		OriginalQuantity: o.OriginalQuantity,
		TimeInForce:      string(o.TimeInForce),
		Status:           string(o.Status),
		Sequence:         o.CreatedAt,
	}
}

func toOrder(m *OrderModel) *domain.Order {
	return &domain.Order{
		OrderID:          m.OrderID,
		UserID:           m.UserID,
		Ticker:           m.Ticker,
		Side:             domain.OrderSide(m.Side),
		Price:            m.Price,
		Quantity:         m.Quantity,
		OriginalQuantity: m.OriginalQuantity,
		TimeInForce:      domain.TimeInForce(m.TimeInForce),
		Status:           domain.OrderStatus(m.Status),
		CreatedAt:        m.Sequence,
	}
}

func toTradeModel(t *domain.Trade) *TradeModel {
	return &TradeModel{
		TradeID:     t.TradeID,
		Ticker:      t.Ticker,
		Price:       t.Price,
		Quantity:    t.Quantity,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		ExecutedAt:  t.CreatedAt,
	}
}

func toTrade(m *TradeModel) *domain.Trade {
	return &domain.Trade{
		TradeID:     m.TradeID,
		Ticker:      m.Ticker,
		Price:       m.Price,
		Quantity:    m.Quantity,
		BuyerID:     m.BuyerID,
		SellerID:    m.SellerID,
		BuyOrderID:  m.BuyOrderID,
		SellOrderID: m.SellOrderID,
		CreatedAt:   m.ExecutedAt,
	}
}
