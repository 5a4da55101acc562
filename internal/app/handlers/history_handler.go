package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/eino/flows"
	"prompt-compiler/internal/eino/nodes"
	"prompt-compiler/pkg/logger"
	"prompt-compiler/pkg/status"
)

// SimilaritySearcher 相似版本检索
type SimilaritySearcher interface {
	Search(ctx context.Context, q *flows.SimilarityQuery) (*flows.SimilarityResult, error)
}

// HistoryHandler 历史版本接口
type HistoryHandler struct {
	history    *services.HistoryService
	similarity SimilaritySearcher
	formatter  *nodes.Formatter
	logger     logger.Logger
}

// NewHistoryHandler 创建历史处理器，similarity 为空时相似检索接口返回服务不可用
func NewHistoryHandler(history *services.HistoryService, similarity SimilaritySearcher, log logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		history:    history,
		similarity: similarity,
		formatter:  nodes.NewFormatter(),
		logger:     log,
	}
}

// HistoryList 历史版本分页结果
type HistoryList struct {
	Versions []*models.CompiledPrompt `json:"versions"`
	Total    int                      `json:"total"`
	Skip     int                      `json:"skip"`
	Limit    int                      `json:"limit"`
}

// ExportResult 导出结果
type ExportResult struct {
	VersionID string `json:"version_id"`
	Format    string `json:"format"`
	Content   string `json:"content"`
}

// List 分页列出历史版本
// GET /api/history
func (h *HistoryHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	skip, err := queryInt(c, "skip", 0, 0, 0)
	if err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}
	limit, err := queryInt(c, "limit", 20, 1, 100)
	if err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}
	filter, err := parseVersionFilter(c)
	if err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	items, total, err := h.history.List(ctx, filter, skip, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "历史列表查询失败", "error", err)
		respondWithError(c, classifyError(err), "历史列表查询失败", err)
		return
	}
	if items == nil {
		items = []*models.CompiledPrompt{}
	}
	respondWithSuccess(c, &HistoryList{Versions: items, Total: total, Skip: skip, Limit: limit}, "查询成功")
}

// Search 按关键字搜索历史版本
// GET /api/history/search
func (h *HistoryHandler) Search(c *gin.Context) {
	ctx := c.Request.Context()

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败",
			&ValidationError{Field: "q", Message: "搜索关键字不能为空"})
		return
	}
	limit, err := queryInt(c, "limit", 20, 1, 100)
	if err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	items, err := h.history.Search(ctx, q, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "历史搜索失败", "query", q, "error", err)
		respondWithError(c, classifyError(err), "历史搜索失败", err)
		return
	}
	respondWithSuccess(c, gin.H{"query": q, "versions": items, "count": len(items)}, "搜索成功")
}

// Statistics 版本统计
// GET /api/history/stats
func (h *HistoryHandler) Statistics(c *gin.Context) {
	stats, err := h.history.Statistics(c.Request.Context())
	if err != nil {
		respondWithError(c, classifyError(err), "统计查询失败", err)
		return
	}
	respondWithSuccess(c, stats, "查询成功")
}

// Similar 语义相似版本检索
// GET /api/history/similar
func (h *HistoryHandler) Similar(c *gin.Context) {
	ctx := c.Request.Context()

	if h.similarity == nil {
		respondWithError(c, status.ErrCodeUnavailable, "相似检索未启用", nil)
		return
	}

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败",
			&ValidationError{Field: "q", Message: "查询文本不能为空"})
		return
	}
	topK, err := queryInt(c, "top_k", 0, 1, 100)
	if err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	result, err := h.similarity.Search(ctx, &flows.SimilarityQuery{Query: q, TopK: topK})
	if err != nil {
		h.logger.ErrorContext(ctx, "相似检索失败", "error", err)
		code := classifyError(err)
		if code == status.ErrCodeInternal {
			code = status.ErrCodeUnavailable
		}
		respondWithError(c, code, "相似检索失败", err)
		return
	}
	respondWithSuccess(c, result, "检索成功")
}

// Cleanup 删除超过保留天数的版本
// DELETE /api/history/cleanup
func (h *HistoryHandler) Cleanup(c *gin.Context) {
	ctx := c.Request.Context()

	days, err := queryInt(c, "days", services.DefaultRetentionDays, 1, 0)
	if err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	deleted, err := h.history.DeleteOlderThan(ctx, days)
	if err != nil {
		h.logger.ErrorContext(ctx, "历史清理失败", "days", days, "error", err)
		respondWithError(c, classifyError(err), "历史清理失败", err)
		return
	}
	respondWithSuccess(c, gin.H{"deleted": deleted, "retention_days": days}, "清理完成")
}

// Get 获取版本详情
// GET /api/history/:version_id
func (h *HistoryHandler) Get(c *gin.Context) {
	detail, err := h.history.Get(c.Request.Context(), c.Param("version_id"))
	if err != nil {
		respondWithError(c, classifyError(err), "版本查询失败", err)
		return
	}
	respondWithSuccess(c, detail, "查询成功")
}

// Export 按指定格式导出版本
// GET /api/history/:version_id/export
func (h *HistoryHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()

	format, err := nodes.ParseOutputFormat(c.Query("format"))
	if err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败",
			&ValidationError{Field: "format", Message: err.Error()})
		return
	}

	detail, err := h.history.Get(ctx, c.Param("version_id"))
	if err != nil {
		respondWithError(c, classifyError(err), "版本查询失败", err)
		return
	}

	var metrics *models.QualityMetrics
	if detail.Evaluation != nil {
		m := detail.Evaluation.Metrics
		metrics = &m
	}
	content, err := h.formatter.Format(detail.Version, metrics, format)
	if err != nil {
		h.logger.ErrorContext(ctx, "版本导出失败", "format", format, "error", err)
		respondWithError(c, status.ErrCodeInternal, "版本导出失败", err)
		return
	}
	respondWithSuccess(c, &ExportResult{
		VersionID: detail.Version.VersionID,
		Format:    string(format),
		Content:   content,
	}, "导出成功")
}

func parseVersionFilter(c *gin.Context) (models.VersionFilter, error) {
	var filter models.VersionFilter

	if raw := c.Query("optimization_level"); raw != "" {
		level, err := models.ParseOptimizationLevel(raw)
		if err != nil {
			return filter, &ValidationError{Field: "optimization_level", Message: err.Error()}
		}
		filter.OptimizationLevel = level
	}
	if raw := strings.TrimSpace(c.Query("task_type")); raw != "" {
		filter.TaskType = models.ParseTaskType(raw)
	}
	filter.TemplateID = strings.TrimSpace(c.Query("template_id"))
	if raw := c.Query("optimized"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, &ValidationError{Field: "optimized", Message: "optimized 必须是布尔值"}
		}
		filter.Optimized = &v
	}
	return filter, nil
}
