// Package redis 基于 Redis 的模板与版本存储
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/pkg/logger"
)

// DefaultMaxCASRetries 乐观锁冲突时的最大重试次数
const DefaultMaxCASRetries = 16

var _ repositories.TemplateRepository = (*TemplateStore)(nil)

// TemplateStore Redis 模板仓储
//
// 存储布局:
//   - {prefix}template:{id}  模板 JSON
//   - {prefix}templates      按创建时间排序的模板 ID 有序集合
//
// 统计更新使用 WATCH/MULTI 乐观锁，冲突时重试，超过上限返回 ErrConflict。
type TemplateStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	logger     logger.Logger
}

// NewTemplateStore 创建 Redis 模板仓储
func NewTemplateStore(client redis.UniversalClient, prefix string, log logger.Logger) *TemplateStore {
	if log == nil {
		log = logger.GetDefault()
	}
	return &TemplateStore{
		client:     client,
		prefix:     prefix,
		maxRetries: DefaultMaxCASRetries,
		logger:     log,
	}
}

func (s *TemplateStore) templateKey(id string) string {
	return s.prefix + "template:" + id
}

func (s *TemplateStore) indexKey() string {
	return s.prefix + "templates"
}

func (s *TemplateStore) Create(ctx context.Context, t *models.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template %s: %w", t.ID, err)
	}

	ok, err := s.client.SetNX(ctx, s.templateKey(t.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create template %s: %w", t.ID, err)
	}
	if !ok {
		return fmt.Errorf("template %s: %w", t.ID, repositories.ErrDuplicate)
	}

	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(t.CreatedAt.UnixMilli()),
		Member: t.ID,
	}).Err(); err != nil {
		return fmt.Errorf("index template %s: %w", t.ID, err)
	}
	return nil
}

func (s *TemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	data, err := s.client.Get(ctx, s.templateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("template %s: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return decodeTemplate(data)
}

// Update 覆盖非统计字段，统计字段和创建时间保持存储中的值
func (s *TemplateStore) Update(ctx context.Context, t *models.Template) error {
	_, err := s.compareAndSwap(ctx, t.ID, func(current *models.Template) (*models.Template, error) {
		updated := t.Clone()
		updated.UsageCount = current.UsageCount
		updated.AvgQualityScore = current.AvgQualityScore
		updated.QualitySamples = current.QualitySamples
		updated.CreatedAt = current.CreatedAt
		return updated, nil
	})
	return err
}

func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.templateKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("template %s: %w", id, repositories.ErrNotFound)
	}
	return nil
}

func (s *TemplateStore) List(ctx context.Context, filter models.TemplateFilter, skip, limit int) ([]*models.Template, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Template, 0, len(all))
	for _, t := range all {
		if filter.TaskType != "" && !t.Matches(filter.TaskType, filter.Domain) {
			continue
		}
		if filter.TaskType == "" && filter.Domain != "" && !containsString(t.ApplicableDomains, filter.Domain) {
			continue
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, skip, limit), nil
}

func (s *TemplateStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return int(n), nil
}

// UpdateStats 在乐观锁事务内读取模板、执行 fn 并写回统计字段
func (s *TemplateStore) UpdateStats(ctx context.Context, id string, fn repositories.StatsMutator) (*models.Template, error) {
	return s.compareAndSwap(ctx, id, func(current *models.Template) (*models.Template, error) {
		updated := current.Clone()
		if err := fn(updated); err != nil {
			return nil, err
		}
		result := current.Clone()
		result.UsageCount = updated.UsageCount
		result.AvgQualityScore = updated.AvgQualityScore
		result.QualitySamples = updated.QualitySamples
		return result, nil
	})
}

// compareAndSwap WATCH 模板键，读取后由 mutate 计算新值并在 MULTI 中写回
func (s *TemplateStore) compareAndSwap(ctx context.Context, id string, mutate func(current *models.Template) (*models.Template, error)) (*models.Template, error) {
	key := s.templateKey(id)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var result *models.Template

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("template %s: %w", id, repositories.ErrNotFound)
			}
			if err != nil {
				return err
			}

			current, err := decodeTemplate(data)
			if err != nil {
				return err
			}
			next, err := mutate(current)
			if err != nil {
				return err
			}
			encoded, err := json.Marshal(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err == nil {
				result = next
			}
			return err
		}, key)

		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}

		s.logger.DebugContext(ctx, "模板更新冲突，重试", "template_id", id, "attempt", attempt+1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("template %s after %d attempts: %w", id, s.maxRetries, repositories.ErrConflict)
}

func (s *TemplateStore) loadAll(ctx context.Context) ([]*models.Template, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list template ids: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Template{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.templateKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	out := make([]*models.Template, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// 索引残留，模板已被删除
			continue
		}
		t, err := decodeTemplate([]byte(raw))
		if err != nil {
			s.logger.WarnContext(ctx, "模板数据解析失败", "template_id", ids[i], "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTemplate(data []byte) (*models.Template, error) {
	var t models.Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &t, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
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
