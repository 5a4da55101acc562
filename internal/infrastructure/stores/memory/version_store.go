package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
)

var _ repositories.VersionRepository = (*VersionStore)(nil)

// VersionStore 进程内版本仓储
type VersionStore struct {
	mu          sync.RWMutex
	versions    map[string]*models.CompiledPrompt
	evaluations map[string]*models.EvaluationRecord // key: version_id
}

// NewVersionStore 创建进程内版本仓储
func NewVersionStore() *VersionStore {
	return &VersionStore{
		versions:    make(map[string]*models.CompiledPrompt),
		evaluations: make(map[string]*models.EvaluationRecord),
	}
}

func (s *VersionStore) Save(ctx context.Context, p *models.CompiledPrompt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[p.VersionID]; ok {
		return fmt.Errorf("version %s: %w", p.VersionID, repositories.ErrDuplicate)
	}
	cp := *p
	s.versions[p.VersionID] = &cp
	return nil
}

func (s *VersionStore) Get(ctx context.Context, versionID string) (*models.CompiledPrompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("version %s: %w", versionID, repositories.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *VersionStore) List(ctx context.Context, filter models.VersionFilter, skip, limit int) ([]*models.CompiledPrompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return paginate(s.collect(func(p *models.CompiledPrompt) bool { return filter.Match(p) }), skip, limit), nil
}

func (s *VersionStore) Count(ctx context.Context, filter models.VersionFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.versions {
		if filter.Match(p) {
			n++
		}
	}
	return n, nil
}

func (s *VersionStore) Search(ctx context.Context, text string, limit int) ([]*models.CompiledPrompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	matched := s.collect(func(p *models.CompiledPrompt) bool {
		return strings.Contains(strings.ToLower(p.OriginalInput), needle) ||
			strings.Contains(strings.ToLower(p.FullText), needle)
	})
	return paginate(matched, 0, limit), nil
}

func (s *VersionStore) DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []string
	for id, p := range s.versions {
		if p.CreatedAt.Before(cutoff) {
			delete(s.versions, id)
			delete(s.evaluations, id)
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// SaveEvaluation 保存评估记录，同一版本重复评估时覆盖旧记录
func (s *VersionStore) SaveEvaluation(ctx context.Context, r *models.EvaluationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[r.VersionID]; !ok {
		return fmt.Errorf("version %s: %w", r.VersionID, repositories.ErrNotFound)
	}
	cp := *r
	s.evaluations[r.VersionID] = &cp
	return nil
}

func (s *VersionStore) GetEvaluation(ctx context.Context, versionID string) (*models.EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.evaluations[versionID]
	if !ok {
		return nil, fmt.Errorf("evaluation for %s: %w", versionID, repositories.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// collect 返回按创建时间倒序排列的匹配版本副本
func (s *VersionStore) collect(match func(p *models.CompiledPrompt) bool) []*models.CompiledPrompt {
	s.mu.RLock()
	out := make([]*models.CompiledPrompt, 0)
	for _, p := range s.versions {
		if match(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].VersionID < out[j].VersionID
	})
	return out
}
