package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/pkg/logger"
)

var _ repositories.VersionRepository = (*VersionStore)(nil)

// VersionStore Redis 版本仓储
//
// 存储布局:
//   - {prefix}version:{id}     版本 JSON
//   - {prefix}evaluation:{id}  评估记录 JSON，id 为版本 ID
//   - {prefix}versions         按创建时间（毫秒）排序的版本 ID 有序集合
type VersionStore struct {
	client redis.UniversalClient
	prefix string
	logger logger.Logger
}

// NewVersionStore 创建 Redis 版本仓储
func NewVersionStore(client redis.UniversalClient, prefix string, log logger.Logger) *VersionStore {
	if log == nil {
		log = logger.GetDefault()
	}
	return &VersionStore{client: client, prefix: prefix, logger: log}
}

func (s *VersionStore) versionKey(id string) string {
	return s.prefix + "version:" + id
}

func (s *VersionStore) evaluationKey(versionID string) string {
	return s.prefix + "evaluation:" + versionID
}

func (s *VersionStore) indexKey() string {
	return s.prefix + "versions"
}

func (s *VersionStore) Save(ctx context.Context, p *models.CompiledPrompt) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal version %s: %w", p.VersionID, err)
	}

	ok, err := s.client.SetNX(ctx, s.versionKey(p.VersionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("save version %s: %w", p.VersionID, err)
	}
	if !ok {
		return fmt.Errorf("version %s: %w", p.VersionID, repositories.ErrDuplicate)
	}

	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(p.CreatedAt.UnixMilli()),
		Member: p.VersionID,
	}).Err(); err != nil {
		return fmt.Errorf("index version %s: %w", p.VersionID, err)
	}
	return nil
}

func (s *VersionStore) Get(ctx context.Context, versionID string) (*models.CompiledPrompt, error) {
	data, err := s.client.Get(ctx, s.versionKey(versionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("version %s: %w", versionID, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", versionID, err)
	}

	var p models.CompiledPrompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode version %s: %w", versionID, err)
	}
	return &p, nil
}

func (s *VersionStore) List(ctx context.Context, filter models.VersionFilter, skip, limit int) ([]*models.CompiledPrompt, error) {
	matched, err := s.collect(ctx, filter.Match)
	if err != nil {
		return nil, err
	}
	return paginate(matched, skip, limit), nil
}

func (s *VersionStore) Count(ctx context.Context, filter models.VersionFilter) (int, error) {
	if filter == (models.VersionFilter{}) {
		n, err := s.client.ZCard(ctx, s.indexKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("count versions: %w", err)
		}
		return int(n), nil
	}

	matched, err := s.collect(ctx, filter.Match)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Search 大小写不敏感地匹配原始输入和完整文本
func (s *VersionStore) Search(ctx context.Context, text string, limit int) ([]*models.CompiledPrompt, error) {
	needle := strings.ToLower(text)
	matched, err := s.collect(ctx, func(p *models.CompiledPrompt) bool {
		return strings.Contains(strings.ToLower(p.OriginalInput), needle) ||
			strings.Contains(strings.ToLower(p.FullText), needle)
	})
	if err != nil {
		return nil, err
	}
	return paginate(matched, 0, limit), nil
}

// DeleteBefore 删除创建时间早于 cutoff 的版本及其评估记录
func (s *VersionStore) DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("find versions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.versionKey(id), s.evaluationKey(id))
		}
		members := make([]any, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete versions: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

// SaveEvaluation 保存评估记录，版本不存在时返回 ErrNotFound
func (s *VersionStore) SaveEvaluation(ctx context.Context, r *models.EvaluationRecord) error {
	exists, err := s.client.Exists(ctx, s.versionKey(r.VersionID)).Result()
	if err != nil {
		return fmt.Errorf("check version %s: %w", r.VersionID, err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s: %w", r.VersionID, repositories.ErrNotFound)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal evaluation %s: %w", r.EvaluationID, err)
	}
	if err := s.client.Set(ctx, s.evaluationKey(r.VersionID), data, 0).Err(); err != nil {
		return fmt.Errorf("save evaluation %s: %w", r.EvaluationID, err)
	}
	return nil
}

func (s *VersionStore) GetEvaluation(ctx context.Context, versionID string) (*models.EvaluationRecord, error) {
	data, err := s.client.Get(ctx, s.evaluationKey(versionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("evaluation for %s: %w", versionID, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation for %s: %w", versionID, err)
	}

	var r models.EvaluationRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode evaluation for %s: %w", versionID, err)
	}
	return &r, nil
}

// collect 加载全部版本并按创建时间倒序返回匹配项
func (s *VersionStore) collect(ctx context.Context, match func(p *models.CompiledPrompt) bool) ([]*models.CompiledPrompt, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list version ids: %w", err)
	}
	if len(ids) == 0 {
		return []*models.CompiledPrompt{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.versionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}

	out := make([]*models.CompiledPrompt, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p models.CompiledPrompt
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.WarnContext(ctx, "版本数据解析失败", "version_id", ids[i], "error", err)
			continue
		}
		if match(&p) {
			out = append(out, &p)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].VersionID < out[j].VersionID
	})
	return out, nil
}
