// Package memory 提供进程内的模板与版本存储，用于本地开发和测试
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
)

var _ repositories.TemplateRepository = (*TemplateStore)(nil)

// TemplateStore 进程内模板仓储
// 统计信息更新在同一把锁内完成读取、修改和写回
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*models.Template
}

// NewTemplateStore 创建进程内模板仓储
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[string]*models.Template)}
}

func (s *TemplateStore) Create(ctx context.Context, t *models.Template) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.ID]; ok {
		return fmt.Errorf("template %s: %w", t.ID, repositories.ErrDuplicate)
	}
	s.templates[t.ID] = t.Clone()
	return nil
}

func (s *TemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, repositories.ErrNotFound)
	}
	return t.Clone(), nil
}

// Update 覆盖非统计字段，保留已有的使用次数和平均分
func (s *TemplateStore) Update(ctx context.Context, t *models.Template) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.templates[t.ID]
	if !ok {
		return fmt.Errorf("template %s: %w", t.ID, repositories.ErrNotFound)
	}
	updated := t.Clone()
	updated.UsageCount = current.UsageCount
	updated.AvgQualityScore = current.AvgQualityScore
	updated.QualitySamples = current.QualitySamples
	updated.CreatedAt = current.CreatedAt
	s.templates[t.ID] = updated
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, repositories.ErrNotFound)
	}
	delete(s.templates, id)
	return nil
}

func (s *TemplateStore) List(ctx context.Context, filter models.TemplateFilter, skip, limit int) ([]*models.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]*models.Template, 0, len(s.templates))
	for _, t := range s.templates {
		if matchTemplate(t, filter) {
			matched = append(matched, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, skip, limit), nil
}

func (s *TemplateStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates), nil
}

// UpdateStats 在写锁内执行 fn，修改只作用于副本，fn 返回错误时不落盘
func (s *TemplateStore) UpdateStats(ctx context.Context, id string, fn repositories.StatsMutator) (*models.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, repositories.ErrNotFound)
	}

	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	current.UsageCount = updated.UsageCount
	current.AvgQualityScore = updated.AvgQualityScore
	current.QualitySamples = updated.QualitySamples
	return current.Clone(), nil
}

func matchTemplate(t *models.Template, filter models.TemplateFilter) bool {
	if filter.TaskType != "" {
		found := false
		for _, tt := range t.ApplicableTaskTypes {
			if tt == filter.TaskType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Domain != "" {
		for _, d := range t.ApplicableDomains {
			if d == filter.Domain {
				return true
			}
		}
		return false
	}
	return true
}

func paginate[T any](items []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
