package repositories

import (
	"context"
	"errors"
	"time"

	"prompt-compiler/internal/domain/models"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 主键冲突
	ErrDuplicate = errors.New("duplicate record id")
	// ErrConflict 乐观并发更新多次重试后仍冲突
	ErrConflict = errors.New("concurrent update conflict")
)

// StatsMutator 在一次原子更新中修改模板统计信息。
// 存储实现可能因并发冲突多次调用它，函数必须只依赖传入的模板。
type StatsMutator func(t *models.Template) error

// TemplateRepository 模板仓储接口
// 模板按 ID 唯一存储，可按适用任务类型和领域查询
type TemplateRepository interface {
	// Create 新建模板，ID 已存在时返回 ErrDuplicate
	Create(ctx context.Context, t *models.Template) error

	// Get 获取模板，不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*models.Template, error)

	// Update 覆盖模板的非统计字段
	Update(ctx context.Context, t *models.Template) error

	// Delete 删除模板
	Delete(ctx context.Context, id string) error

	// List 按条件列出模板，按创建时间升序，limit <= 0 表示不限制
	List(ctx context.Context, filter models.TemplateFilter, skip, limit int) ([]*models.Template, error)

	// Count 模板总数
	Count(ctx context.Context) (int, error)

	// UpdateStats 原子地读取、修改并写回模板统计信息
	// 返回修改后的模板
	UpdateStats(ctx context.Context, id string, fn StatsMutator) (*models.Template, error)
}

// VersionRepository 版本仓储接口
// 对编译流程而言是以 version_id 为键的只追加日志
type VersionRepository interface {
	// Save 保存版本，version_id 已存在时返回 ErrDuplicate
	Save(ctx context.Context, p *models.CompiledPrompt) error

	// Get 获取版本，不存在时返回 ErrNotFound
	Get(ctx context.Context, versionID string) (*models.CompiledPrompt, error)

	// List 按创建时间倒序列出版本，limit <= 0 表示不限制
	List(ctx context.Context, filter models.VersionFilter, skip, limit int) ([]*models.CompiledPrompt, error)

	// Count 统计满足条件的版本数
	Count(ctx context.Context, filter models.VersionFilter) (int, error)

	// Search 在原始输入和完整文本中做不区分大小写的子串匹配
	Search(ctx context.Context, text string, limit int) ([]*models.CompiledPrompt, error)

	// DeleteBefore 删除 cutoff 之前创建的版本及其评估记录，返回被删除的 version_id
	DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// SaveEvaluation 保存评估记录
	SaveEvaluation(ctx context.Context, r *models.EvaluationRecord) error

	// GetEvaluation 获取版本最近一次评估，不存在时返回 ErrNotFound
	GetEvaluation(ctx context.Context, versionID string) (*models.EvaluationRecord, error)
}
