package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/internal/eino/nodes"
	"prompt-compiler/pkg/logger"
)

// ErrInvalidTemplate 模板内容不合法
var ErrInvalidTemplate = errors.New("invalid template")

// TemplateCatalog 模板目录服务
// 负责模板的增删改查、最佳模板匹配以及使用统计的原子更新
type TemplateCatalog struct {
	repo repositories.TemplateRepository
	log  logger.Logger
	now  func() time.Time
}

// NewTemplateCatalog 创建模板目录
func NewTemplateCatalog(repo repositories.TemplateRepository, log logger.Logger) *TemplateCatalog {
	if log == nil {
		log = logger.GetDefault()
	}
	return &TemplateCatalog{repo: repo, log: log, now: time.Now}
}

// Create 新建模板，未指定 ID 时自动生成
func (c *TemplateCatalog) Create(ctx context.Context, t *models.Template) (*models.Template, error) {
	if err := validateTemplate(t); err != nil {
		return nil, err
	}

	created := t.Clone()
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	now := c.now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now
	created.UsageCount = 0
	created.AvgQualityScore = 0
	created.QualitySamples = 0
	if created.ContextVars == nil {
		created.ContextVars = map[string]string{}
	}

	if err := c.repo.Create(ctx, created); err != nil {
		return nil, fmt.Errorf("create template %s: %w", created.ID, err)
	}

	c.log.InfoContext(ctx, "模板创建成功", "template_id", created.ID, "name", created.Name)
	return created, nil
}

// Get 获取模板
func (c *TemplateCatalog) Get(ctx context.Context, id string) (*models.Template, error) {
	return c.repo.Get(ctx, id)
}

// Update 部分更新模板，统计字段不受影响
func (c *TemplateCatalog) Update(ctx context.Context, id string, patch *models.TemplatePatch) (*models.Template, error) {
	current, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	patch.Apply(updated)
	if err := validateTemplate(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = c.now().UTC()

	if err := c.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update template %s: %w", id, err)
	}

	c.log.InfoContext(ctx, "模板更新成功", "template_id", id)
	return updated, nil
}

// Delete 删除模板，只能由显式调用触发
func (c *TemplateCatalog) Delete(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "模板删除成功", "template_id", id)
	return nil
}

// List 按条件分页列出模板
func (c *TemplateCatalog) List(ctx context.Context, filter models.TemplateFilter, skip, limit int) ([]*models.Template, error) {
	return c.repo.List(ctx, filter, skip, limit)
}

// FindBest 为意图选择最佳模板，没有匹配时返回 nil
func (c *TemplateCatalog) FindBest(ctx context.Context, intent *models.Intent) (*models.Template, error) {
	if intent == nil {
		return nil, nil
	}

	candidates, err := c.repo.List(ctx, models.TemplateFilter{TaskType: intent.TaskType}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list templates for %s: %w", intent.TaskType, err)
	}

	best := nodes.SelectBestTemplate(candidates, intent)
	if best != nil {
		c.log.DebugContext(ctx, "匹配到模板",
			"template_id", best.ID,
			"avg_quality_score", best.AvgQualityScore,
			"usage_count", best.UsageCount)
	}
	return best, nil
}

// IncrementUsage 原子地增加模板使用次数
func (c *TemplateCatalog) IncrementUsage(ctx context.Context, id string) (*models.Template, error) {
	return c.repo.UpdateStats(ctx, id, func(t *models.Template) error {
		t.UsageCount++
		return nil
	})
}

// UpdateQualityScore 原子地更新模板平均质量分。
// 评分次数与平均分在同一次更新中计算，与 UsageCount 的增长相互独立。
func (c *TemplateCatalog) UpdateQualityScore(ctx context.Context, id string, score float64) (*models.Template, error) {
	score = models.Clamp01(score)
	return c.repo.UpdateStats(ctx, id, func(t *models.Template) error {
		t.QualitySamples++
		n := float64(t.QualitySamples)
		t.AvgQualityScore = models.Clamp01((t.AvgQualityScore*(n-1) + score) / n)
		return nil
	})
}

// Seed 目录为空时导入预置模板，返回导入数量
func (c *TemplateCatalog) Seed(ctx context.Context, templates []*models.Template) (int, error) {
	count, err := c.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	if count > 0 {
		c.log.DebugContext(ctx, "模板目录非空，跳过预置模板导入", "count", count)
		return 0, nil
	}

	seeded := 0
	for _, t := range templates {
		if _, err := c.Create(ctx, t); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				continue
			}
			return seeded, fmt.Errorf("seed template %q: %w", t.Name, err)
		}
		seeded++
	}

	c.log.InfoContext(ctx, "预置模板导入完成", "count", seeded)
	return seeded, nil
}

func validateTemplate(t *models.Template) error {
	if t == nil {
		return fmt.Errorf("%w: template is nil", ErrInvalidTemplate)
	}

	var missing []string
	if strings.TrimSpace(t.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(t.Role) == "" {
		missing = append(missing, "role")
	}
	if strings.TrimSpace(t.Objective) == "" {
		missing = append(missing, "objective")
	}
	if strings.TrimSpace(t.OutputFormat) == "" {
		missing = append(missing, "output_format")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidTemplate, strings.Join(missing, ", "))
	}

	if len(t.ApplicableTaskTypes) == 0 {
		return fmt.Errorf("%w: applicable_task_types must not be empty", ErrInvalidTemplate)
	}
	for _, tt := range t.ApplicableTaskTypes {
		if models.ParseTaskType(string(tt)) != tt {
			return fmt.Errorf("%w: unknown task type %q", ErrInvalidTemplate, tt)
		}
	}

	if undeclared := nodes.UndeclaredPlaceholders(t); len(undeclared) > 0 {
		return fmt.Errorf("%w: undeclared variables %s", ErrInvalidTemplate, strings.Join(undeclared, ", "))
	}
	return nil
}
