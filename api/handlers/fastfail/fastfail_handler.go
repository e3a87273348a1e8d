package fastfail

import (
	"time"

	"apiguard/internal/common"
	fastfailpkg "apiguard/internal/fastfail"

	"github.com/gin-gonic/gin"
)

// FastFailHandler 快速失败判定接口
type FastFailHandler struct {
	matcher *fastfailpkg.Matcher
}

// NewFastFailHandler 创建快速失败处理器
func NewFastFailHandler(matcher *fastfailpkg.Matcher) *FastFailHandler {
	return &FastFailHandler{matcher: matcher}
}

// Statistics 判定统计
// GET /api/v1/fastfail/statistics
func (h *FastFailHandler) Statistics(c *gin.Context) {
	common.ResponseSuccess(c, h.matcher.GetStatistics())
}

// EvaluateRequest 判定请求
type EvaluateRequest struct {
	ErrorMessage   string `json:"error_message" binding:"required"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	UserID         string `json:"user_id"`
	Endpoint       string `json:"endpoint"`
}

// Evaluate 执行一次判定（供包装代码与运维排障调用）
// POST /api/v1/fastfail/evaluate
func (h *FastFailHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseError(c, common.CodeInvalidRequest, "参数错误: "+err.Error())
		return
	}

	decision := h.matcher.Evaluate(
		c.Request.Context(),
		req.ErrorMessage,
		time.Duration(req.ResponseTimeMS)*time.Millisecond,
		&fastfailpkg.CallContext{UserID: req.UserID, Endpoint: req.Endpoint},
	)
	common.ResponseSuccess(c, decision)
}

// RecordSuccessRequest 成功上报请求
type RecordSuccessRequest struct {
	FailureType string `json:"failure_type" binding:"required"`
}

// RecordSuccess 上报一次成功，关闭 half_open 熔断
// POST /api/v1/fastfail/success
func (h *FastFailHandler) RecordSuccess(c *gin.Context) {
	var req RecordSuccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseError(c, common.CodeInvalidRequest, "参数错误: "+err.Error())
		return
	}

	h.matcher.RecordSuccess(fastfailpkg.FailureType(req.FailureType))
	common.ResponseSuccess(c, gin.H{
		"failure_type": req.FailureType,
		"state":        h.matcher.BreakerState(fastfailpkg.FailureType(req.FailureType)),
	})
}
