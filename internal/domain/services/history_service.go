package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/pkg/logger"
)

// ErrInvalidRetention 保留天数不合法
var ErrInvalidRetention = errors.New("retention days must be positive")

// DefaultRetentionDays 默认保留天数
const DefaultRetentionDays = 30

// IndexCleaner 相似索引清理接口，历史记录被删除后同步删除向量
type IndexCleaner interface {
	Remove(ctx context.Context, versionIDs []string) error
}

// VersionDetail 版本及其评估记录
type VersionDetail struct {
	Version    *models.CompiledPrompt   `json:"version"`
	Evaluation *models.EvaluationRecord `json:"evaluation,omitempty"`
}

// HistoryService 历史版本服务
type HistoryService struct {
	repo    repositories.VersionRepository
	cleaner IndexCleaner
	log     logger.Logger
	now     func() time.Time
}

// NewHistoryService 创建历史版本服务，cleaner 可以为空
func NewHistoryService(repo repositories.VersionRepository, cleaner IndexCleaner, log logger.Logger) *HistoryService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &HistoryService{repo: repo, cleaner: cleaner, log: log, now: time.Now}
}

// Get 获取版本详情，评估记录缺失不视为错误
func (h *HistoryService) Get(ctx context.Context, versionID string) (*VersionDetail, error) {
	version, err := h.repo.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}

	detail := &VersionDetail{Version: version}
	eval, err := h.repo.GetEvaluation(ctx, versionID)
	switch {
	case err == nil:
		detail.Evaluation = eval
	case errors.Is(err, repositories.ErrNotFound):
	default:
		return nil, fmt.Errorf("get evaluation for %s: %w", versionID, err)
	}
	return detail, nil
}

// List 分页列出版本并返回满足条件的总数
func (h *HistoryService) List(ctx context.Context, filter models.VersionFilter, skip, limit int) ([]*models.CompiledPrompt, int, error) {
	items, err := h.repo.List(ctx, filter, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list versions: %w", err)
	}
	total, err := h.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count versions: %w", err)
	}
	return items, total, nil
}

// Search 在原始输入和完整文本中搜索
func (h *HistoryService) Search(ctx context.Context, query string, limit int) ([]*models.CompiledPrompt, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*models.CompiledPrompt{}, nil
	}
	return h.repo.Search(ctx, query, limit)
}

// Statistics 统计版本数量、优化级别与任务类型分布
func (h *HistoryService) Statistics(ctx context.Context) (*models.VersionStatistics, error) {
	total, err := h.repo.Count(ctx, models.VersionFilter{})
	if err != nil {
		return nil, fmt.Errorf("count versions: %w", err)
	}

	stats := &models.VersionStatistics{
		Total:      total,
		ByLevel:    make(map[models.OptimizationLevel]int),
		ByTaskType: make(map[models.TaskType]int),
	}

	for _, level := range []models.OptimizationLevel{models.LevelLow, models.LevelMedium, models.LevelHigh} {
		n, err := h.repo.Count(ctx, models.VersionFilter{OptimizationLevel: level})
		if err != nil {
			return nil, fmt.Errorf("count level %s: %w", level, err)
		}
		stats.ByLevel[level] = n
	}

	for _, tt := range []models.TaskType{
		models.TaskGeneration, models.TaskAnalysis, models.TaskConversation, models.TaskExtraction,
		models.TaskTransformation, models.TaskReasoning, models.TaskOther,
	} {
		n, err := h.repo.Count(ctx, models.VersionFilter{TaskType: tt})
		if err != nil {
			return nil, fmt.Errorf("count task type %s: %w", tt, err)
		}
		if n > 0 {
			stats.ByTaskType[tt] = n
		}
	}

	optimized := true
	stats.OptimizedCount, err = h.repo.Count(ctx, models.VersionFilter{Optimized: &optimized})
	if err != nil {
		return nil, fmt.Errorf("count optimized versions: %w", err)
	}
	if total > 0 {
		stats.OptimizedRatio = float64(stats.OptimizedCount) / float64(total)
	}
	return stats, nil
}

// DeleteOlderThan 删除超过保留天数的版本及评估记录，并同步清理相似索引
func (h *HistoryService) DeleteOlderThan(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := h.now().UTC().AddDate(0, 0, -retentionDays)
	ids, err := h.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete versions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if len(ids) > 0 && h.cleaner != nil {
		// 向量清理失败不影响已删除的记录
		if err := h.cleaner.Remove(ctx, ids); err != nil {
			h.log.WarnContext(ctx, "相似索引清理失败", "count", len(ids), "error", err)
		}
	}

	h.log.InfoContext(ctx, "历史版本清理完成",
		"retention_days", retentionDays,
		"deleted", len(ids))
	return len(ids), nil
}
