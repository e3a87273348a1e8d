package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"apiguard/internal/logger"
	"apiguard/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamMessage 告警推送消息
type StreamMessage struct {
	Kind  string `json:"kind"` // raised, cleared
	Alert Alert  `json:"alert"`
}

type streamConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// AlertHub 告警 WebSocket 推送
// 实现 AlertSink，把抬升/恢复事件广播给所有订阅连接
type AlertHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*streamConn
	log     *zap.Logger
}

// NewAlertHub 创建告警推送 Hub
func NewAlertHub() *AlertHub {
	return &AlertHub{
		clients: make(map[*websocket.Conn]*streamConn),
		log:     logger.Named("gateway.stream"),
	}
}

// Register 注册订阅连接
func (h *AlertHub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &streamConn{conn: conn}
	h.mu.Unlock()
	metrics.AlertStreamConnections.Inc()
}

// Unregister 移除订阅连接
func (h *AlertHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		metrics.AlertStreamConnections.Dec()
	}
	h.mu.Unlock()
}

// AlertRaised 实现 AlertSink
func (h *AlertHub) AlertRaised(a Alert) {
	h.broadcast(StreamMessage{Kind: "raised", Alert: a})
}

// AlertCleared 实现 AlertSink
func (h *AlertHub) AlertCleared(a Alert) {
	h.broadcast(StreamMessage{Kind: "cleared", Alert: a})
}

// broadcast 广播消息，写失败的连接直接摘除
func (h *AlertHub) broadcast(msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("告警消息序列化失败", zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*streamConn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			h.log.Debug("推送失败，摘除连接", zap.Error(err))
			h.Unregister(c.conn)
			c.conn.Close()
		}
	}
}

// ConnectionCount 当前订阅连接数
func (h *AlertHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
