package domain

import "errors"

// 引擎的失败类型，全部以返回值形式暴露，调用方通过 errors.Is 判别。
// 所有失败都发生在任何状态被修改之前。
var (
	// ErrUnknownTicker 股票代码不在配置的集合内
	ErrUnknownTicker = errors.New("unknown ticker")
	// ErrUnknownUser 用户未在交易所注册
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidOrder 订单字段非法（价格/数量非正、方向或 TIF 不识别）
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInsufficientFunds 买入时购买力不足
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares 卖出时可用持仓不足
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrNotFullyFillable FOK 订单在提交时无法全部成交
	ErrNotFullyFillable = errors.New("order not fully fillable")
	// ErrOrderNotFound 取消的订单不存在或已不在订单簿上
	ErrOrderNotFound = errors.New("order not found")
	// ErrForbidden 取消的订单属于其他用户
	ErrForbidden = errors.New("order owned by another user")
)
