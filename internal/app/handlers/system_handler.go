package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"prompt-compiler/internal/app/middleware"
	"prompt-compiler/pkg/logger"
	"prompt-compiler/pkg/status"
)

// PipelineMetrics 流程回调指标快照
type PipelineMetrics interface {
	GetMetrics() map[string]interface{}
}

// HealthChecker 依赖健康检查，返回 nil 表示正常
type HealthChecker func(ctx context.Context) error

// SystemHandler 健康检查与运行统计
type SystemHandler struct {
	metrics   PipelineMetrics
	checks    map[string]HealthChecker
	startedAt time.Time
	logger    logger.Logger
}

// NewSystemHandler 创建系统处理器，metrics 为空表示未开启指标回调
func NewSystemHandler(metrics PipelineMetrics, checks map[string]HealthChecker, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		metrics:   metrics,
		checks:    checks,
		startedAt: time.Now(),
		logger:    log,
	}
}

// Health 健康检查
// GET /api/health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	components := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "依赖健康检查失败", "component", name, "error", err)
			components[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		components[name] = "healthy"
	}

	info := gin.H{
		"status":         "healthy",
		"components":     components,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().Unix(),
	}
	if !healthy {
		info["status"] = "degraded"
		c.JSON(http.StatusOK, APIResponse{
			Success:   false,
			Code:      int(status.ErrCodeUnavailable),
			Message:   "部分依赖不可用",
			Data:      info,
			RequestID: middleware.GetRequestID(c),
			Timestamp: time.Now().Unix(),
		})
		return
	}
	respondWithSuccess(c, info, "服务正常")
}

// PipelineStats 流程回调指标
// GET /api/stats/pipeline
func (h *SystemHandler) PipelineStats(c *gin.Context) {
	if h.metrics == nil {
		respondWithError(c, status.ErrCodeUnavailable, "流程指标未启用", nil)
		return
	}
	respondWithSuccess(c, h.metrics.GetMetrics(), "查询成功")
}
