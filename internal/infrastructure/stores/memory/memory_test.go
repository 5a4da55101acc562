package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
)

func TestTemplateStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()

	tmpl := &models.Template{
		ID:                  "t1",
		Name:                "分析模板",
		ApplicableTaskTypes: []models.TaskType{models.TaskAnalysis},
		ApplicableDomains:   []string{"金融"},
		CreatedAt:           time.Now(),
	}
	if err := s.Create(ctx, tmpl); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, tmpl); !errors.Is(err, repositories.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Name = "changed"
	again, _ := s.Get(ctx, "t1")
	if again.Name != "分析模板" {
		t.Error("store must return copies")
	}

	if _, err := s.UpdateStats(ctx, "t1", func(t *models.Template) error {
		t.UsageCount = 5
		return nil
	}); err != nil {
		t.Fatalf("update stats: %v", err)
	}

	update := tmpl.Clone()
	update.Name = "新名称"
	update.UsageCount = 0
	if err := s.Update(ctx, update); err != nil {
		t.Fatalf("update: %v", err)
	}
	after, _ := s.Get(ctx, "t1")
	if after.Name != "新名称" || after.UsageCount != 5 {
		t.Errorf("update must keep stats, got %+v", after)
	}

	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "t1"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplateStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		id      string
		task    models.TaskType
		domains []string
	}{
		{"a", models.TaskAnalysis, []string{"金融"}},
		{"b", models.TaskAnalysis, []string{"医疗"}},
		{"c", models.TaskGeneration, []string{"金融"}},
	} {
		_ = s.Create(ctx, &models.Template{
			ID:                  tc.id,
			ApplicableTaskTypes: []models.TaskType{tc.task},
			ApplicableDomains:   tc.domains,
			CreatedAt:           base.Add(time.Duration(i) * time.Hour),
		})
	}

	tests := []struct {
		name   string
		filter models.TemplateFilter
		skip   int
		limit  int
		want   []string
	}{
		{"all", models.TemplateFilter{}, 0, 0, []string{"a", "b", "c"}},
		{"task type", models.TemplateFilter{TaskType: models.TaskAnalysis}, 0, 0, []string{"a", "b"}},
		{"task type and domain", models.TemplateFilter{TaskType: models.TaskAnalysis, Domain: "金融"}, 0, 0, []string{"a"}},
		{"domain only", models.TemplateFilter{Domain: "金融"}, 0, 0, []string{"a", "c"}},
		{"paged", models.TemplateFilter{}, 1, 1, []string{"b"}},
		{"skip past end", models.TemplateFilter{}, 10, 5, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.List(ctx, tt.filter, tt.skip, tt.limit)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			ids := make([]string, 0, len(list))
			for _, tmpl := range list {
				ids = append(ids, tmpl.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTemplateStoreConcurrentStats(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()
	_ = s.Create(ctx, &models.Template{ID: "t"})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateStats(ctx, "t", func(t *models.Template) error {
				t.UsageCount++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "t")
	if got.UsageCount != 100 {
		t.Errorf("expected 100 increments, got %d", got.UsageCount)
	}
}

func TestTemplateStoreStatsMutatorError(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()
	_ = s.Create(ctx, &models.Template{ID: "t", UsageCount: 1})

	_, err := s.UpdateStats(ctx, "t", func(t *models.Template) error {
		t.UsageCount = 99
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected mutator error")
	}
	got, _ := s.Get(ctx, "t")
	if got.UsageCount != 1 {
		t.Errorf("failed mutation must not be applied, got %d", got.UsageCount)
	}
}

func newVersion(id string, created time.Time, level models.OptimizationLevel, optimized bool) *models.CompiledPrompt {
	return &models.CompiledPrompt{
		VersionID:         id,
		OriginalInput:     "输入 " + id,
		FullText:          "Full Text " + id,
		Intent:            models.Intent{TaskType: models.TaskAnalysis},
		OptimizationLevel: level,
		Optimized:         optimized,
		CreatedAt:         created,
	}
}

func TestVersionStore(t *testing.T) {
	ctx := context.Background()
	s := NewVersionStore()
	now := time.Now().UTC()

	_ = s.Save(ctx, newVersion("v1", now.Add(-48*time.Hour), models.LevelLow, false))
	_ = s.Save(ctx, newVersion("v2", now.Add(-1*time.Hour), models.LevelMedium, true))
	_ = s.Save(ctx, newVersion("v3", now, models.LevelMedium, true))

	if err := s.Save(ctx, newVersion("v1", now, models.LevelLow, false)); !errors.Is(err, repositories.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	list, _ := s.List(ctx, models.VersionFilter{}, 0, 0)
	ids := []string{}
	for _, p := range list {
		ids = append(ids, p.VersionID)
	}
	if diff := cmp.Diff([]string{"v3", "v2", "v1"}, ids); diff != "" {
		t.Errorf("list must be newest first (-want +got):\n%s", diff)
	}

	optimized := true
	if n, _ := s.Count(ctx, models.VersionFilter{Optimized: &optimized}); n != 2 {
		t.Errorf("expected 2 optimized, got %d", n)
	}
	if n, _ := s.Count(ctx, models.VersionFilter{OptimizationLevel: models.LevelLow}); n != 1 {
		t.Errorf("expected 1 low level, got %d", n)
	}

	found, _ := s.Search(ctx, "full text v2", 10)
	if len(found) != 1 || found[0].VersionID != "v2" {
		t.Errorf("expected case-insensitive match on v2, got %v", found)
	}

	if err := s.SaveEvaluation(ctx, &models.EvaluationRecord{EvaluationID: "e1", VersionID: "v1"}); err != nil {
		t.Fatalf("save evaluation: %v", err)
	}
	if err := s.SaveEvaluation(ctx, &models.EvaluationRecord{EvaluationID: "e2", VersionID: "missing"}); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown version, got %v", err)
	}

	deleted, err := s.DeleteBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if diff := cmp.Diff([]string{"v1"}, deleted); diff != "" {
		t.Errorf("deleted ids mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.GetEvaluation(ctx, "v1"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("evaluation must be removed with its version, got %v", err)
	}
}
