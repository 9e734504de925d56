// Package domain 交易所引擎的领域模型：订单、成交、用户、订单簿与撮合。
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide 订单方向
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Valid 方向是否合法
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite 返回对手方向
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TimeInForce 订单有效期
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancel
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill Or Kill
)

// Valid 有效期是否合法
func (t TimeInForce) Valid() bool {
	return t == TimeInForceGTC || t == TimeInForceIOC || t == TimeInForceFOK
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Order 订单实体
// Quantity 为剩余数量，撮合管线会原地递减；OriginalQuantity 保留提交时的数量。
type Order struct {
	// 订单 ID
	OrderID string
	// 所有人 ID
	UserID string
	// 股票代码
	Ticker string
	// 买卖方向
	Side OrderSide
	// 限价（保留两位小数）
	Price decimal.Decimal
	// 剩余数量
	Quantity int64
	// 提交时的原始数量
	OriginalQuantity int64
	// 有效期
	TimeInForce TimeInForce
	// 订单状态
	Status OrderStatus
	// 同一 ticker 内单调递增的序号，价格相同时按此先后撮合
	CreatedAt int64
}

// NewOrder 创建订单
func NewOrder(orderID, userID, ticker string, side OrderSide, price decimal.Decimal, quantity int64, tif TimeInForce) *Order {
	return &Order{
		OrderID:          orderID,
		UserID:           userID,
		Ticker:           ticker,
		Side:             side,
		Price:            price.Round(2),
		Quantity:         quantity,
		OriginalQuantity: quantity,
		TimeInForce:      tif,
		Status:           OrderStatusOpen,
	}
}

// Validate 校验订单字段
func (o *Order) Validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}
	if o.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: unrecognized side %q", ErrInvalidOrder, o.Side)
	}
	if !o.TimeInForce.Valid() {
		return fmt.Errorf("%w: unrecognized time in force %q", ErrInvalidOrder, o.TimeInForce)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, o.Price)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	}
	return nil
}

// FilledQuantity 已成交数量
func (o *Order) FilledQuantity() int64 {
	return o.OriginalQuantity - o.Quantity
}

// IsFilled 是否已完全成交
func (o *Order) IsFilled() bool {
	return o.Quantity == 0
}

// RemainingNotional 剩余名义金额 = 限价 × 剩余数量
func (o *Order) RemainingNotional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}
