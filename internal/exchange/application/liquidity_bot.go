package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
	"github.com/BerkZerker/Market-Sim/pkg/utils"
)

// LiquidityBot 做市机器人。
// 周期性地对每个 ticker 撤掉自己的旧报价，围绕参考价按配置价差
// 重新双边挂单。机器人账户是做市商，绕过资金与持仓校验。
type LiquidityBot struct {
	engine  *domain.Exchange
	manager *Manager
	logger  *slog.Logger

	username string
	interval time.Duration
	spread   decimal.Decimal
	minQty   int
	maxQty   int

	user *domain.User
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewLiquidityBot 创建做市机器人
func NewLiquidityBot(
	engine *domain.Exchange,
	manager *Manager,
	logger *slog.Logger,
	username string,
	interval time.Duration,
	spread float64,
	minQty, maxQty int,
) *LiquidityBot {
	return &LiquidityBot{
		engine:   engine,
		manager:  manager,
		logger:   logger.With("module", "liquidity_bot"),
		username: username,
		interval: interval,
		spread:   decimal.NewFromFloat(spread),
		minQty:   minQty,
		maxQty:   maxQty,
		done:     make(chan struct{}),
	}
}

// Start 确保机器人账户存在并启动报价循环
func (b *LiquidityBot) Start(ctx context.Context) error {
	user, err := b.manager.EnsureUser(ctx, b.username, true)
	if err != nil {
		return err
	}
	b.user = user

	b.wg.Add(1)
	go b.run(ctx)
	b.logger.Info("liquidity bot started",
		"username", b.username, "interval", b.interval, "spread", b.spread)
	return nil
}

// Stop 停止报价循环并等待退出
func (b *LiquidityBot) Stop() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *LiquidityBot) run(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.quoteAll(ctx)
		}
	}
}

// quoteAll 对全部 ticker 重新报价
func (b *LiquidityBot) quoteAll(ctx context.Context) {
	for _, ticker := range b.engine.Tickers() {
		if err := b.Quote(ctx, ticker); err != nil {
			b.logger.Warn("quote failed", "ticker", ticker, "error", err)
		}
	}
}

// Quote 撤旧报价，围绕参考价双边重挂
func (b *LiquidityBot) Quote(ctx context.Context, ticker string) error {
	if _, err := b.manager.CancelAllForUser(ctx, ticker, b.user.UserID); err != nil {
		return err
	}

	price, ok, err := b.engine.LastPrice(ticker)
	if err != nil {
		return err
	}
	if !ok {
		// 无成交且簿空时没有参考价，跳过本轮
		return nil
	}

	half := b.spread.Div(decimal.NewFromInt(2))
	one := decimal.NewFromInt(1)
	bid := price.Mul(one.Sub(half)).Round(2)
	ask := price.Mul(one.Add(half)).Round(2)

	minPrice := decimal.NewFromFloat(0.01)
	if bid.LessThan(minPrice) {
		bid = minPrice
	}
	if !ask.GreaterThan(bid) {
		ask = bid.Add(minPrice)
	}

	qty := int64(utils.RandInt(b.minQty, b.maxQty))

	_, err = b.manager.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID:      b.user.UserID,
		Ticker:      ticker,
		Side:        string(domain.SideBuy),
		Price:       bid.StringFixed(2),
		Quantity:    qty,
		TimeInForce: string(domain.TimeInForceGTC),
	})
	if err != nil {
		return err
	}
	_, err = b.manager.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID:      b.user.UserID,
		Ticker:      ticker,
		Side:        string(domain.SideSell),
		Price:       ask.StringFixed(2),
		Quantity:    qty,
		TimeInForce: string(domain.TimeInForceGTC),
	})
	return err
}
