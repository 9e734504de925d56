package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 领域事件类型，作为消息主题的 key 与 WebSocket 推送的 type 字段
const (
	TradeExecutedEventType  = "exchange.trade.executed"
	PriceUpdatedEventType   = "exchange.price.updated"
	OrderCancelledEventType = "exchange.order.cancelled"
)

// TradeEvent 引擎在成交后对外广播的事件，按 ticker 内成交顺序投递
type TradeEvent struct {
	Trade     *Trade
	LastPrice decimal.Decimal
}

// TradeExecutedEvent 成交事件的外发载荷
type TradeExecutedEvent struct {
	TradeID     string          `json:"trade_id"`
	Ticker      string          `json:"ticker"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// NewTradeExecutedEvent 从成交记录构建外发事件
func NewTradeExecutedEvent(t *Trade) *TradeExecutedEvent {
	return &TradeExecutedEvent{
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

// PriceUpdatedEvent 最新价变动事件的外发载荷
type PriceUpdatedEvent struct {
	Ticker    string          `json:"ticker"`
	LastPrice decimal.Decimal `json:"last_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OrderCancelledEvent 撤单事件的外发载荷
type OrderCancelledEvent struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Ticker      string    `json:"ticker"`
	CancelledAt time.Time `json:"cancelled_at"`
}
