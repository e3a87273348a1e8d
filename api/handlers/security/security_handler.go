package security

import (
	"strconv"
	"time"

	"apiguard/internal/audit"
	"apiguard/internal/common"

	"github.com/gin-gonic/gin"
)

// SecurityHandler 安全事件只读接口
type SecurityHandler struct {
	engine   *audit.Engine
	archiver *audit.DBArchiver // 可为 nil（未启用归档库）
}

// NewSecurityHandler 创建安全事件处理器
func NewSecurityHandler(engine *audit.Engine, archiver *audit.DBArchiver) *SecurityHandler {
	return &SecurityHandler{engine: engine, archiver: archiver}
}

// Dashboard 安全看板摘要
// GET /api/v1/security/dashboard?window_hours=24
func (h *SecurityHandler) Dashboard(c *gin.Context) {
	windowHours, _ := strconv.Atoi(c.DefaultQuery("window_hours", "24"))
	common.ResponseSuccess(c, h.engine.Dashboard(windowHours))
}

// ListEvents 最近事件列表（最新在前）
// GET /api/v1/security/events?window_hours=24&limit=100
func (h *SecurityHandler) ListEvents(c *gin.Context) {
	windowHours, _ := strconv.Atoi(c.DefaultQuery("window_hours", "24"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if windowHours <= 0 {
		windowHours = 24
	}

	events := h.engine.RecentEvents(windowHours, limit)
	common.ResponseSuccess(c, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GetEvent 按 ID 查询事件
// GET /api/v1/security/events/:id
func (h *SecurityHandler) GetEvent(c *gin.Context) {
	ev, ok := h.engine.GetEvent(c.Param("id"))
	if !ok {
		common.ResponseError(c, common.CodeEventNotFound, "")
		return
	}
	common.ResponseSuccess(c, ev)
}

// UpdateStatusRequest 事件状态流转请求
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus 事件状态流转
// PUT /api/v1/security/events/:id/status
func (h *SecurityHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseError(c, common.CodeInvalidRequest, "参数错误: "+err.Error())
		return
	}

	if err := h.engine.UpdateStatus(c.Param("id"), audit.EventStatus(req.Status)); err != nil {
		common.ResponseError(c, common.CodeIllegalTransition, err.Error())
		return
	}
	common.ResponseSuccess(c, gin.H{"id": c.Param("id"), "status": req.Status})
}

// Compliance 合规报告
// GET /api/v1/security/compliance?category=injection
func (h *SecurityHandler) Compliance(c *gin.Context) {
	common.ResponseSuccess(c, h.engine.Compliance(c.Query("category")))
}

// ArchiveQuery 归档事件范围查询（合规导出）
// GET /api/v1/security/archive?from=RFC3339&to=RFC3339&category=&limit=
func (h *SecurityHandler) ArchiveQuery(c *gin.Context) {
	if h.archiver == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "归档库未启用")
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.ResponseError(c, common.CodeInvalidRequest, "from 时间格式非法")
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.ResponseError(c, common.CodeInvalidRequest, "to 时间格式非法")
			return
		}
		to = t
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))

	events, err := h.archiver.QueryRange(c.Request.Context(), from, to, c.Query("category"), limit)
	if err != nil {
		common.ResponseError(c, common.CodeArchiveFailed, err.Error())
		return
	}
	common.ResponseSuccess(c, gin.H{
		"events": events,
		"count":  len(events),
		"from":   from,
		"to":     to,
	})
}
