package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse(data))
}

// ResponseError 返回错误响应
func ResponseError(c *gin.Context, code int, message string) {
	httpStatus := http.StatusOK // 业务错误也返回200

	switch code {
	case CodeNotFound, CodeEventNotFound:
		httpStatus = http.StatusNotFound
	case CodeInvalidRequest, CodeIllegalTransition, CodeQueryRejected:
		httpStatus = http.StatusBadRequest
	case CodeInternalError, CodeArchiveFailed:
		httpStatus = http.StatusInternalServerError
	case CodeServiceUnavailable:
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, ErrorResponse(code, message))
}
