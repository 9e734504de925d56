package domain

import (
	"container/list"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceLevel 同一价格的订单队列，FIFO 保证时间优先
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

// totalQuantity 该价位的挂单总量
func (l *priceLevel) totalQuantity() int64 {
	var total int64
	for e := l.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*Order).Quantity
	}
	return total
}

// bookEntry 订单在簿中的位置索引，支持 O(logN) 撤单
type bookEntry struct {
	order *Order
	key   float64
	elem  *list.Element
	level *priceLevel
}

// PriceLevel 深度查询返回的单个价位聚合
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderBook 单个 ticker 的限价订单簿。
// 买卖两侧各用一个跳表维护价格优先：买侧以负价格为键使最高买价在前，
// 卖侧以正价格为键使最低卖价在前；同价位内部用 FIFO 队列维持时间优先。
// 本身不做并发控制，由持有它的 market 锁串行化访问。
type OrderBook struct {
	// 股票代码
	Ticker string

	bids  *skiplist.SkipList
	asks  *skiplist.SkipList
	index map[string]*bookEntry
}

// NewOrderBook 创建订单簿
func NewOrderBook(ticker string) *OrderBook {
	return &OrderBook{
		Ticker: ticker,
		bids:   skiplist.New(skiplist.Float64),
		asks:   skiplist.New(skiplist.Float64),
		index:  make(map[string]*bookEntry),
	}
}

// levelKey 跳表键：买侧取负价格，使 Front 始终是最优价
func levelKey(side OrderSide, price decimal.Decimal) float64 {
	f := price.InexactFloat64()
	if side == SideBuy {
		return -f
	}
	return f
}

func (b *OrderBook) sideList(side OrderSide) *skiplist.SkipList {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

// Add 将订单挂入簿中，同价位追加到队尾
func (b *OrderBook) Add(order *Order) {
	sl := b.sideList(order.Side)
	key := levelKey(order.Side, order.Price)

	var level *priceLevel
	if elem := sl.Get(key); elem != nil {
		level = elem.Value.(*priceLevel)
	} else {
		level = newPriceLevel(order.Price)
		sl.Set(key, level)
	}
	elem := level.orders.PushBack(order)
	b.index[order.OrderID] = &bookEntry{order: order, key: key, elem: elem, level: level}
}

// Get 按 ID 查找簿上订单，不存在返回 nil
func (b *OrderBook) Get(orderID string) *Order {
	entry, ok := b.index[orderID]
	if !ok {
		return nil
	}
	return entry.order
}

// Remove 将订单从簿中摘除并返回，不存在返回 nil（幂等）
func (b *OrderBook) Remove(orderID string) *Order {
	entry, ok := b.index[orderID]
	if !ok {
		return nil
	}
	delete(b.index, orderID)
	entry.level.orders.Remove(entry.elem)
	if entry.level.orders.Len() == 0 {
		b.sideList(entry.order.Side).Remove(entry.key)
	}
	return entry.order
}

// RemoveByUser 摘除指定用户的全部挂单并返回
func (b *OrderBook) RemoveByUser(userID string) []*Order {
	var ids []string
	for id, entry := range b.index {
		if entry.order.UserID == userID {
			ids = append(ids, id)
		}
	}
	removed := make([]*Order, 0, len(ids))
	for _, id := range ids {
		if o := b.Remove(id); o != nil {
			removed = append(removed, o)
		}
	}
	return removed
}

// peek 最优价位队首订单，空侧返回 nil
func (b *OrderBook) peek(side OrderSide) *Order {
	elem := b.sideList(side).Front()
	if elem == nil {
		return nil
	}
	level := elem.Value.(*priceLevel)
	front := level.orders.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*Order)
}

// BestBid 最优买价
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	o := b.peek(SideBuy)
	if o == nil {
		return decimal.Zero, false
	}
	return o.Price, true
}

// BestAsk 最优卖价
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	o := b.peek(SideSell)
	if o == nil {
		return decimal.Zero, false
	}
	return o.Price, true
}

// Depth 按价格优先返回一侧的聚合深度，maxLevels <= 0 表示不限
func (b *OrderBook) Depth(side OrderSide, maxLevels int) []PriceLevel {
	var out []PriceLevel
	for elem := b.sideList(side).Front(); elem != nil; elem = elem.Next() {
		if maxLevels > 0 && len(out) >= maxLevels {
			break
		}
		level := elem.Value.(*priceLevel)
		out = append(out, PriceLevel{Price: level.price, Quantity: level.totalQuantity()})
	}
	return out
}

// Orders 按价格/时间优先顺序返回一侧的全部挂单
func (b *OrderBook) Orders(side OrderSide) []*Order {
	var out []*Order
	for elem := b.sideList(side).Front(); elem != nil; elem = elem.Next() {
		level := elem.Value.(*priceLevel)
		for e := level.orders.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(*Order))
		}
	}
	return out
}

// Len 一侧的挂单数量
func (b *OrderBook) Len(side OrderSide) int {
	n := 0
	for elem := b.sideList(side).Front(); elem != nil; elem = elem.Next() {
		n += elem.Value.(*priceLevel).orders.Len()
	}
	return n
}
