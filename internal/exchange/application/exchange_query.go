package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
)

// Query 交易所查询服务。
// 订单簿、账户与排行榜读引擎内存状态，历史订单与成交读持久层。
type Query struct {
	engine *domain.Exchange
	store  domain.TradingStore
	logger *slog.Logger
}

// NewQuery 创建查询服务
func NewQuery(engine *domain.Exchange, store domain.TradingStore, logger *slog.Logger) *Query {
	return &Query{
		engine: engine,
		store:  store,
		logger: logger.With("module", "exchange_query"),
	}
}

// GetOrderBook 订单簿深度快照
func (q *Query) GetOrderBook(ticker string, maxLevels int) (*OrderBookResponse, error) {
	snap, err := q.engine.Snapshot(strings.ToUpper(ticker), maxLevels)
	if err != nil {
		return nil, err
	}
	return &OrderBookResponse{
		Ticker:    snap.Ticker,
		Bids:      toLevelViews(snap.Bids),
		Asks:      toLevelViews(snap.Asks),
		LastPrice: formatDecimal(snap.LastPrice),
	}, nil
}

// GetTickerStats 全部 ticker 的运行统计
func (q *Query) GetTickerStats() []TickerStatsResponse {
	stats := q.engine.Stats()
	out := make([]TickerStatsResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, TickerStatsResponse{
			Ticker:    s.Ticker,
			LastPrice: formatDecimal(s.LastPrice),
			BestBid:   formatDecimal(s.BestBid),
			BestAsk:   formatDecimal(s.BestAsk),
			BidOrders: s.BidOrders,
			AskOrders: s.AskOrders,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// netWorth 净值 = 现金 + Σ 持仓 × 参考价
func (q *Query) netWorth(snap domain.UserSnapshot) decimal.Decimal {
	total := snap.Cash
	for ticker, qty := range snap.Holdings {
		price, ok, err := q.engine.LastPrice(ticker)
		if err != nil || !ok {
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(qty)))
	}
	return total
}

// GetPortfolio 用户资产视图
func (q *Query) GetPortfolio(userID string) (*PortfolioResponse, error) {
	user, err := q.engine.GetUser(userID)
	if err != nil {
		return nil, err
	}
	snap := user.Snapshot()
	return &PortfolioResponse{
		UserID:      snap.UserID,
		Username:    snap.Username,
		Cash:        formatDecimal(snap.Cash),
		BuyingPower: formatDecimal(user.BuyingPower()),
		Holdings:    snap.Holdings,
		NetWorth:    formatDecimal(q.netWorth(snap)),
	}, nil
}

// GetLeaderboard 按净值降序的排行榜，做市商不参与排名
func (q *Query) GetLeaderboard() []LeaderboardEntry {
	var entries []LeaderboardEntry
	for _, user := range q.engine.Users() {
		snap := user.Snapshot()
		if snap.IsMarketMaker {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID:   snap.UserID,
			Username: snap.Username,
			Cash:     formatDecimal(snap.Cash),
			NetWorth: formatDecimal(q.netWorth(snap)),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, _ := decimal.NewFromString(entries[i].NetWorth)
		b, _ := decimal.NewFromString(entries[j].NetWorth)
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return entries[i].Username < entries[j].Username
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// GetOrder 订单查询，优先引擎内活跃订单，其次历史
func (q *Query) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	if order, err := q.engine.GetOrder(orderID); err == nil {
		resp := toOrderResponse(order)
		return &resp, nil
	} else if !errors.Is(err, domain.ErrOrderNotFound) {
		return nil, err
	}
	order, err := q.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

// GetOrdersByUser 用户历史订单
func (q *Query) GetOrdersByUser(ctx context.Context, userID string, limit int) ([]OrderResponse, error) {
	orders, err := q.store.ListOrdersByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out, nil
}

// GetTradesByTicker ticker 成交历史
func (q *Query) GetTradesByTicker(ctx context.Context, ticker string, limit int) ([]TradeResponse, error) {
	trades, err := q.store.ListTradesByTicker(ctx, strings.ToUpper(ticker), limit)
	if err != nil {
		return nil, err
	}
	return toTradeResponses(trades), nil
}

// GetTradesByUser 用户成交历史
func (q *Query) GetTradesByUser(ctx context.Context, userID string, limit int) ([]TradeResponse, error) {
	trades, err := q.store.ListTradesByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return toTradeResponses(trades), nil
}
