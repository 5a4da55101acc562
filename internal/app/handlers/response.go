package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"prompt-compiler/internal/app/middleware"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/eino/flows"
	"prompt-compiler/pkg/status"
)

// APIResponse 统一的API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationError 验证错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// respondWithSuccess 返回成功响应
func respondWithSuccess(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Code:      int(status.CodeOK),
		Message:   message,
		Data:      data,
		RequestID: middleware.GetRequestID(c),
		Timestamp: time.Now().Unix(),
	})
}

// respondWithError 返回错误响应，业务状态码放在 code 字段中
func respondWithError(c *gin.Context, code status.StatusCode, message string, err error) {
	response := APIResponse{
		Success:   false,
		Code:      int(code),
		Message:   message,
		RequestID: middleware.GetRequestID(c),
		Timestamp: time.Now().Unix(),
	}

	if err != nil {
		detail := ErrorDetail{Message: err.Error(), Code: code.String()}
		var ve *ValidationError
		if errors.As(err, &ve) {
			detail.Field = ve.Field
		}
		response.Data = detail
	}

	c.JSON(http.StatusOK, response)
}

// classifyError 将领域错误映射为业务状态码
func classifyError(err error) status.StatusCode {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, flows.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidTemplate),
		errors.Is(err, services.ErrInvalidRetention):
		return status.ErrCodeInvalidParam
	case errors.Is(err, repositories.ErrNotFound):
		return status.ErrCodeNotFound
	case errors.Is(err, flows.ErrPersistence):
		return status.ErrCodePersistence
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.ErrCodeUnavailable
	default:
		return status.ErrCodeInternal
	}
}

// queryInt 读取整数查询参数，缺省时返回 def
func queryInt(c *gin.Context, name string, def, min, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || (max > 0 && v > max) {
		msg := name + " 必须是不小于 " + strconv.Itoa(min) + " 的整数"
		if max > 0 {
			msg = name + " 必须在 " + strconv.Itoa(min) + "-" + strconv.Itoa(max) + " 之间"
		}
		return 0, &ValidationError{Field: name, Message: msg}
	}
	return v, nil
}
