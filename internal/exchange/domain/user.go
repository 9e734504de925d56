package domain

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// User 用户资金账户。
// 采用预留计数模型：现金与持仓只在结算时变动，挂单占用通过
// escrowedCash / escrowedShares 计数，购买力 = 现金 − 占用现金。
// 每个用户自带互斥锁：不同 ticker 的结算可以并行触及同一个用户，
// 仅靠 ticker 锁无法保证余额一致。
type User struct {
	// 用户 ID
	UserID string
	// 用户名
	Username string
	// 做市商标记，为 true 时跳过资金/持仓校验与预留记账
	IsMarketMaker bool

	mu             sync.Mutex
	cash           decimal.Decimal
	holdings       map[string]int64
	escrowedCash   decimal.Decimal
	escrowedShares map[string]int64
}

// NewUser 创建用户
func NewUser(userID, username string, cash decimal.Decimal, isMarketMaker bool) *User {
	return &User{
		UserID:         userID,
		Username:       username,
		IsMarketMaker:  isMarketMaker,
		cash:           cash,
		holdings:       make(map[string]int64),
		escrowedShares: make(map[string]int64),
	}
}

// Cash 当前现金余额
func (u *User) Cash() decimal.Decimal {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cash
}

// Holding 指定 ticker 的持仓数量
func (u *User) Holding(ticker string) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.holdings[ticker]
}

// BuyingPower 购买力 = 现金 − 占用现金
func (u *User) BuyingPower() decimal.Decimal {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cash.Sub(u.escrowedCash)
}

// AvailableShares 可卖持仓 = 持仓 − 占用持仓
func (u *User) AvailableShares(ticker string) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.holdings[ticker] - u.escrowedShares[ticker]
}

// SetHolding 直接设置持仓，仅用于启动时从持久层装载
func (u *User) SetHolding(ticker string, quantity int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.holdings[ticker] = quantity
}

// reserveCash 为买单预留资金，购买力不足时失败，状态不变
func (u *User) reserveCash(amount decimal.Decimal) error {
	if u.IsMarketMaker {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cash.Sub(u.escrowedCash).LessThan(amount) {
		return fmt.Errorf("%w: need %s, buying power %s",
			ErrInsufficientFunds, amount, u.cash.Sub(u.escrowedCash))
	}
	u.escrowedCash = u.escrowedCash.Add(amount)
	return nil
}

// releaseCash 释放买单预留资金（取消或 IOC 残余处置）
func (u *User) releaseCash(amount decimal.Decimal) {
	if u.IsMarketMaker {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.escrowedCash = u.escrowedCash.Sub(amount)
}

// reserveShares 为卖单预留持仓，可卖不足时失败，状态不变
func (u *User) reserveShares(ticker string, quantity int64) error {
	if u.IsMarketMaker {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.holdings[ticker]-u.escrowedShares[ticker] < quantity {
		return fmt.Errorf("%w: need %d %s, available %d",
			ErrInsufficientShares, quantity, ticker, u.holdings[ticker]-u.escrowedShares[ticker])
	}
	u.escrowedShares[ticker] += quantity
	return nil
}

// releaseShares 释放卖单预留持仓
func (u *User) releaseShares(ticker string, quantity int64) {
	if u.IsMarketMaker {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.escrowedShares[ticker] -= quantity
}

// applyBuyFill 结算一笔买方成交：释放 reserved 的预留、扣减 cost、入账股票。
// 主动买单 reserved 按其限价计算，cost 按成交价计算，差额即价格改善返还。
func (u *User) applyBuyFill(ticker string, quantity int64, cost, reserved decimal.Decimal) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.IsMarketMaker {
		u.escrowedCash = u.escrowedCash.Sub(reserved)
	}
	u.cash = u.cash.Sub(cost)
	u.holdings[ticker] += quantity
}

// applySellFill 结算一笔卖方成交：释放预留持仓、扣减持仓、入账货款
func (u *User) applySellFill(ticker string, quantity int64, proceeds decimal.Decimal) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.IsMarketMaker {
		u.escrowedShares[ticker] -= quantity
	}
	u.holdings[ticker] -= quantity
	u.cash = u.cash.Add(proceeds)
}

// UserSnapshot 用户状态的一致性快照，用于持久化与查询
type UserSnapshot struct {
	UserID        string
	Username      string
	IsMarketMaker bool
	Cash          decimal.Decimal
	Holdings      map[string]int64
}

// Snapshot 取一致性快照
func (u *User) Snapshot() UserSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	holdings := make(map[string]int64, len(u.holdings))
	for ticker, qty := range u.holdings {
		holdings[ticker] = qty
	}
	return UserSnapshot{
		UserID:        u.UserID,
		Username:      u.Username,
		IsMarketMaker: u.IsMarketMaker,
		Cash:          u.cash,
		Holdings:      holdings,
	}
}
