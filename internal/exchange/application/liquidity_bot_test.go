package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
)

func newBot(f *fixture) *LiquidityBot {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLiquidityBot(f.engine, f.service.Manager, logger,
		"mm-bot", 50*time.Millisecond, 0.01, 5, 20)
}

func TestLiquidityBotQuotesBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := newBot(f)

	user, err := f.service.EnsureUser(ctx, "mm-bot", true)
	require.NoError(t, err)
	bot.user = user

	require.NoError(t, bot.Quote(ctx, "FUN"))

	book, err := f.service.GetOrderBook("FUN", 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)

	// 参考价 10.00，价差 1% 两侧各 0.5%
	assert.Equal(t, "9.95", book.Bids[0].Price)
	assert.Equal(t, "10.05", book.Asks[0].Price)
	assert.GreaterOrEqual(t, book.Bids[0].Quantity, int64(5))
	assert.LessOrEqual(t, book.Bids[0].Quantity, int64(20))
}

func TestLiquidityBotReplacesOwnQuotesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := newBot(f)

	user, err := f.service.EnsureUser(ctx, "mm-bot", true)
	require.NoError(t, err)
	bot.user = user

	alice := f.register(t, "alice")
	_, err = f.service.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: alice.UserID, Ticker: "FUN", Side: "BUY", Price: "9.00", Quantity: 10,
	})
	require.NoError(t, err)

	require.NoError(t, bot.Quote(ctx, "FUN"))
	require.NoError(t, bot.Quote(ctx, "FUN"))

	book, err := f.service.GetOrderBook("FUN", 0)
	require.NoError(t, err)
	// 机器人的旧报价被撤掉，alice 的挂单保留
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
}

func TestLiquidityBotStartStop(t *testing.T) {
	f := newFixture(t)
	bot := newBot(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bot.Start(ctx))

	// 等足一个报价周期
	require.Eventually(t, func() bool {
		book, err := f.service.GetOrderBook("FUN", 0)
		if err != nil {
			return false
		}
		return len(book.Bids) > 0 && len(book.Asks) > 0
	}, 2*time.Second, 20*time.Millisecond)

	bot.Stop()
}
