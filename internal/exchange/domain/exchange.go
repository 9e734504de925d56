package domain

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// market 单个 ticker 的交易场所，互斥锁串行化该 ticker 的全部写入
type market struct {
	mu     sync.Mutex
	book   *OrderBook
	engine *MatchingEngine

	lastPrice decimal.Decimal
	hasLast   bool
	// ticker 内单调递增序号，赋给进场订单作时间优先依据
	seq int64
}

// PlacementResult 下单结果，调用方据此持久化与广播。
// Order 与 RestingUpdated 是 ticker 锁内取的值拷贝：簿上订单随后
// 还会被并发撮合原地修改，调用方在锁外读取必须拿快照。
type PlacementResult struct {
	// 进场订单（状态与剩余数量已更新）
	Order *Order
	// 本次产生的成交
	Trades []*Trade
	// 被触及的被动订单（已成交量与状态已更新）
	RestingUpdated []*Order
	// 余额发生变动的用户
	AffectedUsers []*User
}

// CancelResult 撤单结果
type CancelResult struct {
	Order *Order
	// 返还的占用资金（买单）
	RefundCash decimal.Decimal
	// 返还的占用持仓（卖单）
	RefundShares int64
}

// TickerStats 单个 ticker 的运行统计
type TickerStats struct {
	Ticker    string          `json:"ticker"`
	LastPrice decimal.Decimal `json:"last_price"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	BidOrders int             `json:"bid_orders"`
	AskOrders int             `json:"ask_orders"`
}

// BookSnapshot 订单簿的聚合快照
type BookSnapshot struct {
	Ticker    string          `json:"ticker"`
	Bids      []PriceLevel    `json:"bids"`
	Asks      []PriceLevel    `json:"asks"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// Exchange 多 ticker 交易所聚合根。
// 托管全部订单簿、用户账户与成交事件广播。每个 ticker 独立加锁，
// 不同 ticker 的订单流可以并行撮合。
type Exchange struct {
	mu      sync.RWMutex
	markets map[string]*market
	users   map[string]*User

	// 订单 ID 到 ticker 的全局索引，撤单时定位订单簿
	ordersMu     sync.Mutex
	orderTickers map[string]string

	events      chan TradeEvent
	subsMu      sync.RWMutex
	subscribers []func(TradeEvent)

	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewExchange 创建交易所并启动事件分发协程
func NewExchange(logger *slog.Logger, eventBufferSize int) *Exchange {
	if eventBufferSize <= 0 {
		eventBufferSize = 1024
	}
	e := &Exchange{
		markets:      make(map[string]*market),
		users:        make(map[string]*User),
		orderTickers: make(map[string]string),
		events:       make(chan TradeEvent, eventBufferSize),
		logger:       logger.With("module", "exchange"),
		done:         make(chan struct{}),
	}
	go e.dispatch()
	return e
}

// AddMarket 注册一个 ticker，initialPrice 为开盘参考价
func (e *Exchange) AddMarket(ticker string, initialPrice decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book := NewOrderBook(ticker)
	m := &market{book: book, engine: NewMatchingEngine(book)}
	if initialPrice.IsPositive() {
		m.lastPrice = initialPrice.Round(2)
		m.hasLast = true
	}
	e.markets[ticker] = m
}

// Tickers 已注册的全部 ticker
func (e *Exchange) Tickers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.markets))
	for ticker := range e.markets {
		out = append(out, ticker)
	}
	return out
}

// RegisterUser 注册用户，重复 ID 报错
func (e *Exchange) RegisterUser(user *User) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.users[user.UserID]; ok {
		return fmt.Errorf("user %s already registered", user.UserID)
	}
	e.users[user.UserID] = user
	return nil
}

// GetUser 按 ID 查找用户
func (e *Exchange) GetUser(userID string) (*User, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	user, ok := e.users[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	return user, nil
}

// Users 全部已注册用户
func (e *Exchange) Users() []*User {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*User, 0, len(e.users))
	for _, u := range e.users {
		out = append(out, u)
	}
	return out
}

func (e *Exchange) getMarket(ticker string) (*market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[ticker]
	if !ok {
		return nil, ErrUnknownTicker
	}
	return m, nil
}

// PlaceOrder 下单主流程：校验、资金预留、撮合、逐笔结算、残量处置。
// 任何失败都发生在状态修改之前，失败的订单对交易所没有任何影响。
func (e *Exchange) PlaceOrder(order *Order) (*PlacementResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	m, err := e.getMarket(order.Ticker)
	if err != nil {
		return nil, err
	}
	user, err := e.GetUser(order.UserID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	order.CreatedAt = m.seq

	// FOK 预检：无法全部成交则整单拒绝，不触碰任何状态
	if order.TimeInForce == TimeInForceFOK {
		if m.engine.FillableQuantity(order) < order.Quantity {
			return nil, fmt.Errorf("%w: %s %d %s @ %s",
				ErrNotFullyFillable, order.Side, order.Quantity, order.Ticker, order.Price)
		}
	}

	// 资金/持仓预留，失败即拒单
	if order.Side == SideBuy {
		if err := user.reserveCash(order.RemainingNotional()); err != nil {
			return nil, err
		}
	} else {
		if err := user.reserveShares(order.Ticker, order.Quantity); err != nil {
			return nil, err
		}
	}

	addRemainder := order.TimeInForce == TimeInForceGTC
	trades, touched := m.engine.Match(order, addRemainder)

	result := &PlacementResult{Trades: trades}
	affected := map[string]*User{}

	for _, t := range trades {
		buyer, seller, err := e.tradeParties(t)
		if err != nil {
			// 簿上订单的所有人必然已注册，触发即是内部不一致
			e.logger.Error("trade settlement failed", "trade_id", t.TradeID, "error", err)
			continue
		}
		cost := t.Notional()

		// 主动买方按自身限价预留，按成交价扣款，差额随释放返还
		reserved := cost
		if t.BuyOrderID == order.OrderID {
			reserved = order.Price.Mul(decimal.NewFromInt(t.Quantity))
		}
		buyer.applyBuyFill(t.Ticker, t.Quantity, cost, reserved)
		seller.applySellFill(t.Ticker, t.Quantity, cost)

		affected[buyer.UserID] = buyer
		affected[seller.UserID] = seller
	}

	if len(trades) > 0 {
		m.lastPrice = trades[len(trades)-1].Price
		m.hasLast = true
	}

	// IOC 残量取消并返还预留；FOK 经预检后必然全部成交
	if order.TimeInForce != TimeInForceGTC && !order.IsFilled() {
		e.releaseRemainder(user, order)
		order.Status = OrderStatusCancelled
	}

	if addRemainder && !order.IsFilled() {
		e.ordersMu.Lock()
		e.orderTickers[order.OrderID] = order.Ticker
		e.ordersMu.Unlock()
	}
	// 完全成交的被动订单移出全局索引
	for _, r := range touched {
		if r.IsFilled() {
			e.ordersMu.Lock()
			delete(e.orderTickers, r.OrderID)
			e.ordersMu.Unlock()
		}
	}

	for _, u := range affected {
		result.AffectedUsers = append(result.AffectedUsers, u)
	}

	orderCopy := *order
	result.Order = &orderCopy
	result.RestingUpdated = snapshotOrders(touched)

	// 在 ticker 锁内入队，保证事件与成交同序；队列满时丢弃并告警
	for _, t := range trades {
		select {
		case e.events <- TradeEvent{Trade: t, LastPrice: m.lastPrice}:
		default:
			e.logger.Warn("trade event dropped, buffer full", "trade_id", t.TradeID, "ticker", t.Ticker)
		}
	}

	return result, nil
}

// snapshotOrders 簿上订单的值拷贝，调用方持有 ticker 锁
func snapshotOrders(orders []*Order) []*Order {
	out := make([]*Order, 0, len(orders))
	for _, o := range orders {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// tradeParties 解析成交双方账户
func (e *Exchange) tradeParties(t *Trade) (*User, *User, error) {
	buyer, err := e.GetUser(t.BuyerID)
	if err != nil {
		return nil, nil, fmt.Errorf("buyer %s: %w", t.BuyerID, err)
	}
	seller, err := e.GetUser(t.SellerID)
	if err != nil {
		return nil, nil, fmt.Errorf("seller %s: %w", t.SellerID, err)
	}
	return buyer, seller, nil
}

// releaseRemainder 返还订单剩余数量对应的预留
func (e *Exchange) releaseRemainder(user *User, order *Order) {
	if order.Side == SideBuy {
		user.releaseCash(order.RemainingNotional())
	} else {
		user.releaseShares(order.Ticker, order.Quantity)
	}
}

// CancelOrder 撤单。只有所有人可以撤，已成交或不存在的订单返回未找到。
func (e *Exchange) CancelOrder(orderID, userID string) (*CancelResult, error) {
	e.ordersMu.Lock()
	ticker, ok := e.orderTickers[orderID]
	e.ordersMu.Unlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	m, err := e.getMarket(ticker)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.book.Get(orderID)
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}

	m.book.Remove(orderID)
	e.ordersMu.Lock()
	delete(e.orderTickers, orderID)
	e.ordersMu.Unlock()

	return e.finishCancel(m, order)
}

// finishCancel 返还预留并落状态，调用方持有 market 锁
func (e *Exchange) finishCancel(m *market, order *Order) (*CancelResult, error) {
	user, err := e.GetUser(order.UserID)
	if err != nil {
		return nil, err
	}
	result := &CancelResult{Order: order}
	if order.Side == SideBuy {
		result.RefundCash = order.RemainingNotional()
	} else {
		result.RefundShares = order.Quantity
	}
	e.releaseRemainder(user, order)
	order.Status = OrderStatusCancelled
	return result, nil
}

// CancelAllForUser 撤掉用户在指定 ticker 上的全部挂单，做市商重报价前使用
func (e *Exchange) CancelAllForUser(ticker, userID string) ([]*CancelResult, error) {
	m, err := e.getMarket(ticker)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.book.RemoveByUser(userID)
	results := make([]*CancelResult, 0, len(removed))
	for _, order := range removed {
		e.ordersMu.Lock()
		delete(e.orderTickers, order.OrderID)
		e.ordersMu.Unlock()
		r, err := e.finishCancel(m, order)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// GetOrder 查找仍在簿上的订单，返回锁内取的值拷贝
func (e *Exchange) GetOrder(orderID string) (*Order, error) {
	e.ordersMu.Lock()
	ticker, ok := e.orderTickers[orderID]
	e.ordersMu.Unlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	m, err := e.getMarket(ticker)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order := m.book.Get(orderID)
	if order == nil {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

// BestBid 最优买价
func (e *Exchange) BestBid(ticker string) (decimal.Decimal, bool, error) {
	m, err := e.getMarket(ticker)
	if err != nil {
		return decimal.Zero, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.book.BestBid()
	return p, ok, nil
}

// BestAsk 最优卖价
func (e *Exchange) BestAsk(ticker string) (decimal.Decimal, bool, error) {
	m, err := e.getMarket(ticker)
	if err != nil {
		return decimal.Zero, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.book.BestAsk()
	return p, ok, nil
}

// LastPrice 当前参考价：优先最近成交价，无成交时取买卖中间价
func (e *Exchange) LastPrice(ticker string) (decimal.Decimal, bool, error) {
	m, err := e.getMarket(ticker)
	if err != nil {
		return decimal.Zero, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.referencePrice(m)
}

// referencePrice 调用方持有 market 锁
func (e *Exchange) referencePrice(m *market) (decimal.Decimal, bool, error) {
	if m.hasLast {
		return m.lastPrice, true, nil
	}
	bid, hasBid := m.book.BestBid()
	ask, hasAsk := m.book.BestAsk()
	if hasBid && hasAsk {
		two := decimal.NewFromInt(2)
		return bid.Add(ask).Div(two).Round(2), true, nil
	}
	return decimal.Zero, false, nil
}

// SetLastPrice 管理操作：直接设置参考价
func (e *Exchange) SetLastPrice(ticker string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, price)
	}
	m, err := e.getMarket(ticker)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrice = price.Round(2)
	m.hasLast = true
	return nil
}

// Snapshot 订单簿深度快照，maxLevels <= 0 表示全部价位
func (e *Exchange) Snapshot(ticker string, maxLevels int) (*BookSnapshot, error) {
	m, err := e.getMarket(ticker)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, _, _ := e.referencePrice(m)
	return &BookSnapshot{
		Ticker:    ticker,
		Bids:      m.book.Depth(SideBuy, maxLevels),
		Asks:      m.book.Depth(SideSell, maxLevels),
		LastPrice: last,
	}, nil
}

// Stats 全部 ticker 的运行统计
func (e *Exchange) Stats() []TickerStats {
	e.mu.RLock()
	tickers := make(map[string]*market, len(e.markets))
	for t, m := range e.markets {
		tickers[t] = m
	}
	e.mu.RUnlock()

	out := make([]TickerStats, 0, len(tickers))
	for ticker, m := range tickers {
		m.mu.Lock()
		s := TickerStats{
			Ticker:    ticker,
			BidOrders: m.book.Len(SideBuy),
			AskOrders: m.book.Len(SideSell),
		}
		if last, ok, _ := e.referencePrice(m); ok {
			s.LastPrice = last
		}
		if bid, ok := m.book.BestBid(); ok {
			s.BestBid = bid
		}
		if ask, ok := m.book.BestAsk(); ok {
			s.BestAsk = ask
		}
		m.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// Subscribe 注册成交事件回调，回调在单个分发协程内串行执行
func (e *Exchange) Subscribe(cb func(TradeEvent)) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subscribers = append(e.subscribers, cb)
}

// dispatch 事件分发协程
func (e *Exchange) dispatch() {
	for {
		select {
		case <-e.done:
			return
		case ev := <-e.events:
			e.subsMu.RLock()
			subs := e.subscribers
			e.subsMu.RUnlock()
			for _, cb := range subs {
				cb(ev)
			}
		}
	}
}

// Close 停止事件分发
func (e *Exchange) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}
