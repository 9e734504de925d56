package domain

// MatchingEngine 价格时间优先的连续撮合引擎，绑定单个订单簿。
// 撮合循环中对双方订单原地递减剩余数量，成交价始终取被动方挂单价。
type MatchingEngine struct {
	book *OrderBook
}

// NewMatchingEngine 创建撮合引擎
func NewMatchingEngine(book *OrderBook) *MatchingEngine {
	return &MatchingEngine{book: book}
}

// crosses 进场订单能否与对手方最优价成交
func crosses(incoming, resting *Order) bool {
	if incoming.Side == SideBuy {
		return incoming.Price.GreaterThanOrEqual(resting.Price)
	}
	return incoming.Price.LessThanOrEqual(resting.Price)
}

// Match 对进场订单执行撮合。
// 返回产生的成交与被触及的被动订单（含状态更新，调用方据此持久化）。
// addRemainderToBook 为 true 时未成交残量挂入簿中（GTC），否则留给调用方处置。
func (m *MatchingEngine) Match(incoming *Order, addRemainderToBook bool) ([]*Trade, []*Order) {
	var trades []*Trade
	var touched []*Order

	for incoming.Quantity > 0 {
		resting := m.book.peek(incoming.Side.Opposite())
		if resting == nil || !crosses(incoming, resting) {
			break
		}

		fill := incoming.Quantity
		if resting.Quantity < fill {
			fill = resting.Quantity
		}

		trades = append(trades, newTrade(incoming, resting, fill))
		incoming.Quantity -= fill
		resting.Quantity -= fill

		if resting.IsFilled() {
			resting.Status = OrderStatusFilled
			m.book.Remove(resting.OrderID)
		} else {
			resting.Status = OrderStatusPartiallyFilled
		}
		touched = append(touched, resting)
	}

	if incoming.IsFilled() {
		incoming.Status = OrderStatusFilled
	} else if incoming.FilledQuantity() > 0 {
		incoming.Status = OrderStatusPartiallyFilled
	}

	if addRemainderToBook && !incoming.IsFilled() {
		m.book.Add(incoming)
	}
	return trades, touched
}

// FillableQuantity 不改动任何状态，计算进场订单当前立即可成交的数量。
// 用于 FOK 预检：小于订单数量即整单拒绝。
func (m *MatchingEngine) FillableQuantity(incoming *Order) int64 {
	var fillable int64
	for elem := m.book.sideList(incoming.Side.Opposite()).Front(); elem != nil; elem = elem.Next() {
		level := elem.Value.(*priceLevel)
		probe := &Order{Side: incoming.Side, Price: incoming.Price}
		if !crosses(probe, &Order{Price: level.price}) {
			break
		}
		fillable += level.totalQuantity()
		if fillable >= incoming.Quantity {
			return incoming.Quantity
		}
	}
	return fillable
}
