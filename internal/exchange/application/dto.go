package application

import (
	"github.com/shopspring/decimal"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
)

// PlaceOrderRequest 下单请求
type PlaceOrderRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Ticker      string `json:"ticker" binding:"required"`
	Side        string `json:"side" binding:"required"`
	Price       string `json:"price" binding:"required"`
	Quantity    int64  `json:"quantity" binding:"required"`
	TimeInForce string `json:"time_in_force"`
}

// OrderResponse 订单视图
type OrderResponse struct {
	OrderID          string `json:"order_id"`
	UserID           string `json:"user_id"`
	Ticker           string `json:"ticker"`
	Side             string `json:"side"`
	Price            string `json:"price"`
	Quantity         int64  `json:"quantity"`
	OriginalQuantity int64  `json:"original_quantity"`
	FilledQuantity   int64  `json:"filled_quantity"`
	TimeInForce      string `json:"time_in_force"`
	Status           string `json:"status"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		OrderID:          o.OrderID,
		UserID:           o.UserID,
		Ticker:           o.Ticker,
		Side:             string(o.Side),
		Price:            o.Price.StringFixed(2),
		Quantity:         o.Quantity,
		OriginalQuantity: o.OriginalQuantity,
		FilledQuantity:   o.FilledQuantity(),
		TimeInForce:      string(o.TimeInForce),
		Status:           string(o.Status),
	}
}

// TradeResponse 成交视图
type TradeResponse struct {
	TradeID     string `json:"trade_id"`
	Ticker      string `json:"ticker"`
	Price       string `json:"price"`
	Quantity    int64  `json:"quantity"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	ExecutedAt  int64  `json:"executed_at"`
}

func toTradeResponse(t *domain.Trade) TradeResponse {
	return TradeResponse{
		TradeID:     t.TradeID,
		Ticker:      t.Ticker,
		Price:       t.Price.StringFixed(2),
		Quantity:    t.Quantity,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		ExecutedAt:  t.CreatedAt.UnixMilli(),
	}
}

func toTradeResponses(trades []*domain.Trade) []TradeResponse {
	out := make([]TradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	return out
}

// PlaceOrderResponse 下单结果视图
type PlaceOrderResponse struct {
	Order  OrderResponse   `json:"order"`
	Trades []TradeResponse `json:"trades"`
}

// CancelOrderResponse 撤单结果视图
type CancelOrderResponse struct {
	Order        OrderResponse `json:"order"`
	RefundCash   string        `json:"refund_cash"`
	RefundShares int64         `json:"refund_shares"`
}

// RegisterUserRequest 开户请求
type RegisterUserRequest struct {
	Username string `json:"username" binding:"required"`
}

// PortfolioResponse 用户资产视图
type PortfolioResponse struct {
	UserID      string           `json:"user_id"`
	Username    string           `json:"username"`
	Cash        string           `json:"cash"`
	BuyingPower string           `json:"buying_power"`
	Holdings    map[string]int64 `json:"holdings"`
	NetWorth    string           `json:"net_worth"`
}

// PriceLevelView 深度视图的单个价位
type PriceLevelView struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

// OrderBookResponse 订单簿快照视图
type OrderBookResponse struct {
	Ticker    string           `json:"ticker"`
	Bids      []PriceLevelView `json:"bids"`
	Asks      []PriceLevelView `json:"asks"`
	LastPrice string           `json:"last_price"`
}

func toLevelViews(levels []domain.PriceLevel) []PriceLevelView {
	out := make([]PriceLevelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, PriceLevelView{Price: l.Price.StringFixed(2), Quantity: l.Quantity})
	}
	return out
}

// TickerStatsResponse 单 ticker 统计视图
type TickerStatsResponse struct {
	Ticker    string `json:"ticker"`
	LastPrice string `json:"last_price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	BidOrders int    `json:"bid_orders"`
	AskOrders int    `json:"ask_orders"`
}

// LeaderboardEntry 排行榜条目，按净值降序
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Cash     string `json:"cash"`
	NetWorth string `json:"net_worth"`
}

func formatDecimal(d decimal.Decimal) string {
	return d.StringFixed(2)
}
