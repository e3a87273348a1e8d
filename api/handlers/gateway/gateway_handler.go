package gateway

import (
	"net/http"
	"strconv"

	"apiguard/internal/common"
	gatewaypkg "apiguard/internal/gateway"
	"apiguard/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// GatewayHandler 网关健康监控接口
type GatewayHandler struct {
	monitor  *gatewaypkg.Monitor
	hub      *gatewaypkg.AlertHub
	upgrader websocket.Upgrader
}

// NewGatewayHandler 创建网关监控处理器
func NewGatewayHandler(monitor *gatewaypkg.Monitor, hub *gatewaypkg.AlertHub) *GatewayHandler {
	return &GatewayHandler{
		monitor: monitor,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 跨域策略由 CORS 中间件统一处理
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Health 当前健康摘要
// GET /api/v1/gateway/health
func (h *GatewayHandler) Health(c *gin.Context) {
	common.ResponseSuccess(c, h.monitor.GetHealthSummary())
}

// Performance 窗口期性能聚合
// GET /api/v1/gateway/performance?hours=24
func (h *GatewayHandler) Performance(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	common.ResponseSuccess(c, h.monitor.GetPerformanceMetrics(hours))
}

// Alerts 活跃告警与历史
// GET /api/v1/gateway/alerts?history_limit=50
func (h *GatewayHandler) Alerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("history_limit", "50"))
	common.ResponseSuccess(c, gin.H{
		"active":  h.monitor.ActiveAlerts(),
		"history": h.monitor.AlertHistory(limit),
	})
}

// Stream 告警 WebSocket 推送
// GET /api/v1/gateway/alerts/stream
func (h *GatewayHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Get().Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	h.hub.Register(conn)
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()

	// 读循环只用于感知客户端断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
