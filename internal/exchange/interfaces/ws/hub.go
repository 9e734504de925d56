// Package ws 通过 WebSocket 向客户端推送成交与行情事件
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 模拟盘对所有来源开放
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message 推送信封
type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub 管理全部 WebSocket 连接并向它们广播事件
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast chan []byte
	logger    *slog.Logger
	done      chan struct{}
	once      sync.Once
}

// NewHub 创建连接管理器
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, 256),
		logger:    logger.With("module", "ws"),
		done:      make(chan struct{}),
	}
}

// Run 广播循环，阻塞直到 Close
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case data := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// 慢客户端跟不上就断开
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close 停止广播并断开全部连接
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
		}
		h.clients = make(map[*client]struct{})
		h.mu.Unlock()
	})
}

// BroadcastTrade 推送成交与最新价，接到引擎的事件订阅上
func (h *Hub) BroadcastTrade(ev domain.TradeEvent) {
	h.publish(domain.TradeExecutedEventType, domain.NewTradeExecutedEvent(ev.Trade))
	h.publish(domain.PriceUpdatedEventType, &domain.PriceUpdatedEvent{
		Ticker:    ev.Trade.Ticker,
		LastPrice: ev.LastPrice,
		UpdatedAt: ev.Trade.CreatedAt,
	})
}

func (h *Hub) publish(eventType string, payload any) {
	data, err := json.Marshal(message{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("marshal ws message failed", "type", eventType, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("ws broadcast dropped, buffer full", "type", eventType)
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS gin 路由入口，把 HTTP 连接升级为 WebSocket
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	cl := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go cl.writePump()
	go cl.readPump()
}

// client 单个 WebSocket 连接
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump 只消费控制帧，收到任何错误即清理连接
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
