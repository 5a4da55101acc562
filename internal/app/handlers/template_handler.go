package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/pkg/logger"
	"prompt-compiler/pkg/status"
)

// TemplateHandler 模板管理接口
type TemplateHandler struct {
	catalog *services.TemplateCatalog
	logger  logger.Logger
}

// NewTemplateHandler 创建模板处理器
func NewTemplateHandler(catalog *services.TemplateCatalog, log logger.Logger) *TemplateHandler {
	return &TemplateHandler{catalog: catalog, logger: log}
}

// TemplateList 模板列表
type TemplateList struct {
	Templates []*models.Template `json:"templates"`
	Count     int                `json:"count"`
	Skip      int                `json:"skip"`
	Limit     int                `json:"limit"`
}

// Create 创建模板，统计字段由服务端初始化
// POST /api/templates
func (h *TemplateHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.Template
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}

	created, err := h.catalog.Create(ctx, &req)
	if err != nil {
		h.logger.WarnContext(ctx, "模板创建失败", "error", err)
		respondWithError(c, classifyError(err), "模板创建失败", err)
		return
	}
	respondWithSuccess(c, created, "模板创建成功")
}

// List 按任务类型与领域列出模板
// GET /api/templates
func (h *TemplateHandler) List(c *gin.Context) {
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

	filter := models.TemplateFilter{Domain: strings.TrimSpace(c.Query("domain"))}
	if raw := strings.TrimSpace(c.Query("task_type")); raw != "" {
		tt := models.ParseTaskType(raw)
		if string(tt) != strings.ToLower(raw) {
			respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败",
				&ValidationError{Field: "task_type", Message: "未知的任务类型: " + raw})
			return
		}
		filter.TaskType = tt
	}

	items, err := h.catalog.List(ctx, filter, skip, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "模板列表查询失败", "error", err)
		respondWithError(c, classifyError(err), "模板列表查询失败", err)
		return
	}
	if items == nil {
		items = []*models.Template{}
	}
	respondWithSuccess(c, &TemplateList{Templates: items, Count: len(items), Skip: skip, Limit: limit}, "查询成功")
}

// Get 获取模板
// GET /api/templates/:id
func (h *TemplateHandler) Get(c *gin.Context) {
	t, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, classifyError(err), "模板查询失败", err)
		return
	}
	respondWithSuccess(c, t, "查询成功")
}

// Update 部分更新模板
// PUT /api/templates/:id
func (h *TemplateHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	var patch models.TemplatePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}

	updated, err := h.catalog.Update(ctx, c.Param("id"), &patch)
	if err != nil {
		h.logger.WarnContext(ctx, "模板更新失败", "template_id", c.Param("id"), "error", err)
		respondWithError(c, classifyError(err), "模板更新失败", err)
		return
	}
	respondWithSuccess(c, updated, "模板更新成功")
}

// Delete 删除模板
// DELETE /api/templates/:id
func (h *TemplateHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.catalog.Delete(c.Request.Context(), id); err != nil {
		respondWithError(c, classifyError(err), "模板删除失败", err)
		return
	}
	respondWithSuccess(c, gin.H{"template_id": id}, "模板删除成功")
}
