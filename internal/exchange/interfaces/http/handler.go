// Package http 交易所的 HTTP 接口层
package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/BerkZerker/Market-Sim/internal/exchange/application"
)

// ExchangeHandler 负责处理 HTTP 请求
type ExchangeHandler struct {
	service *application.Service
	logger  *slog.Logger
}

// NewExchangeHandler 创建 HTTP 处理器
func NewExchangeHandler(service *application.Service, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{service: service, logger: logger.With("module", "http")}
}

// RegisterRoutes 注册路由
func (h *ExchangeHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/exchange")
	{
		api.POST("/users", h.RegisterUser)
		api.GET("/users/:id", h.GetPortfolio)
		api.GET("/users/:id/orders", h.GetUserOrders)
		api.GET("/users/:id/trades", h.GetUserTrades)

		api.POST("/orders", h.PlaceOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.DELETE("/orders/:id", h.CancelOrder)

		api.GET("/orderbook/:ticker", h.GetOrderBook)
		api.GET("/trades/:ticker", h.GetTrades)
		api.GET("/stats", h.GetStats)
		api.GET("/leaderboard", h.GetLeaderboard)
	}
}

// RegisterUser 开户
func (h *ExchangeHandler) RegisterUser(c *gin.Context) {
	var req application.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request data")
		return
	}
	resp, err := h.service.RegisterUser(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("register user failed", "username", req.Username, "error", err)
		fail(c, http.StatusConflict, err.Error())
		return
	}
	success(c, resp)
}

// GetPortfolio 用户资产
func (h *ExchangeHandler) GetPortfolio(c *gin.Context) {
	resp, err := h.service.GetPortfolio(c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, resp)
}

// GetUserOrders 用户历史订单
func (h *ExchangeHandler) GetUserOrders(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	orders, err := h.service.GetOrdersByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, orders)
}

// GetUserTrades 用户成交历史
func (h *ExchangeHandler) GetUserTrades(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	trades, err := h.service.GetTradesByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, trades)
}

// PlaceOrder 下单
func (h *ExchangeHandler) PlaceOrder(c *gin.Context) {
	var req application.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request data")
		return
	}
	resp, err := h.service.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("place order failed",
			"user_id", req.UserID, "ticker", req.Ticker, "error", err)
		failWith(c, err)
		return
	}
	success(c, resp)
}

// GetOrder 订单查询
func (h *ExchangeHandler) GetOrder(c *gin.Context) {
	resp, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, resp)
}

// CancelOrder 撤单，user_id 由查询参数给出并校验归属
func (h *ExchangeHandler) CancelOrder(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		fail(c, http.StatusBadRequest, "user_id parameter is required")
		return
	}
	resp, err := h.service.CancelOrder(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, resp)
}

// GetOrderBook 订单簿深度
func (h *ExchangeHandler) GetOrderBook(c *gin.Context) {
	depth := queryInt(c, "depth", 20)
	resp, err := h.service.GetOrderBook(c.Param("ticker"), depth)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, resp)
}

// GetTrades ticker 成交历史
func (h *ExchangeHandler) GetTrades(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	trades, err := h.service.GetTradesByTicker(c.Request.Context(), c.Param("ticker"), limit)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, trades)
}

// GetStats 全部 ticker 统计
func (h *ExchangeHandler) GetStats(c *gin.Context) {
	success(c, h.service.GetTickerStats())
}

// GetLeaderboard 排行榜
func (h *ExchangeHandler) GetLeaderboard(c *gin.Context) {
	success(c, h.service.GetLeaderboard())
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}
