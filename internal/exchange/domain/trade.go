package domain

import (
	"strconv"
	"time"

	"github.com/BerkZerker/Market-Sim/pkg/utils"
	"github.com/shopspring/decimal"
)

// tradeIDGen 成交 ID 生成器（进程内唯一即可，引擎是单进程权威）
var tradeIDGen = utils.NewSnowflakeID(1)

// Trade 成交记录，撮合产生后不可变
type Trade struct {
	// 成交 ID
	TradeID string
	// 股票代码
	Ticker string
	// 成交价（始终等于被动方挂单价）
	Price decimal.Decimal
	// 成交数量
	Quantity int64
	// 买方用户 ID
	BuyerID string
	// 卖方用户 ID
	SellerID string
	// 买方订单 ID
	BuyOrderID string
	// 卖方订单 ID
	SellOrderID string
	// 成交时间
	CreatedAt time.Time
}

// newTrade 由撮合引擎创建成交记录，买卖双方根据进场方向解析
func newTrade(incoming, resting *Order, quantity int64) *Trade {
	t := &Trade{
		TradeID:   "T-" + strconv.FormatInt(tradeIDGen.Generate(), 10),
		Ticker:    incoming.Ticker,
		Price:     resting.Price,
		Quantity:  quantity,
		CreatedAt: time.Now(),
	}
	if incoming.Side == SideBuy {
		t.BuyerID = incoming.UserID
		t.SellerID = resting.UserID
		t.BuyOrderID = incoming.OrderID
		t.SellOrderID = resting.OrderID
	} else {
		t.BuyerID = resting.UserID
		t.SellerID = incoming.UserID
		t.BuyOrderID = resting.OrderID
		t.SellOrderID = incoming.OrderID
	}
	return t
}

// Notional 成交金额 = 成交价 × 数量
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
