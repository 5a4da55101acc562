package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/internal/infrastructure/stores/memory"
	"prompt-compiler/pkg/logger"
)

func newCatalog(t *testing.T) *TemplateCatalog {
	t.Helper()
	c := NewTemplateCatalog(memory.NewTemplateStore(), logger.Default())
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return c
}

func analysisTemplate(name string, domains ...string) *models.Template {
	return &models.Template{
		Name:                name,
		Role:                "你是一位{{domain}}分析师",
		Objective:           "{{objective}}",
		Constraints:         []string{"引用数据来源"},
		OutputFormat:        "Markdown 报告",
		ApplicableTaskTypes: []models.TaskType{models.TaskAnalysis},
		ApplicableDomains:   domains,
	}
}

func TestTemplateCatalogCreate(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	in := analysisTemplate("财报分析", "金融")
	in.UsageCount = 42
	in.AvgQualityScore = 0.99

	created, err := c.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("template id should be generated")
	}
	if created.UsageCount != 0 || created.AvgQualityScore != 0 {
		t.Errorf("stats should be reset on create, got usage=%d avg=%v", created.UsageCount, created.AvgQualityScore)
	}
	if created.ContextVars == nil {
		t.Error("context_vars should be initialized")
	}
	if in.ID != "" {
		t.Error("create must not mutate the caller's template")
	}

	got, err := c.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "财报分析" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestTemplateCatalogCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Template)
	}{
		{"missing name", func(t *models.Template) { t.Name = " " }},
		{"missing role", func(t *models.Template) { t.Role = "" }},
		{"missing output format", func(t *models.Template) { t.OutputFormat = "" }},
		{"no task types", func(t *models.Template) { t.ApplicableTaskTypes = nil }},
		{"unknown task type", func(t *models.Template) { t.ApplicableTaskTypes = []models.TaskType{"poetry"} }},
		{"undeclared variable", func(t *models.Template) { t.Objective = "分析{{company}}的财报" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCatalog(t)
			tpl := analysisTemplate("模板")
			tt.mutate(tpl)
			if _, err := c.Create(context.Background(), tpl); !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("err = %v, want ErrInvalidTemplate", err)
			}
		})
	}
}

func TestTemplateCatalogCreateDuplicateID(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	tpl := analysisTemplate("模板")
	tpl.ID = "tpl-1"
	if _, err := c.Create(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Create(ctx, tpl); !errors.Is(err, repositories.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestTemplateCatalogUpdateKeepsStats(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	created, err := c.Create(ctx, analysisTemplate("模板"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.IncrementUsage(ctx, created.ID); err != nil {
		t.Fatalf("increment: %v", err)
	}

	name := "新名称"
	updated, err := c.Update(ctx, created.ID, &models.TemplatePatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || updated.Role != created.Role {
		t.Errorf("patch applied incorrectly: %+v", updated)
	}
	if updated.UsageCount != 1 {
		t.Errorf("usage = %d, update must not reset stats", updated.UsageCount)
	}
	if _, err := c.UpdateQualityScore(ctx, created.ID, 0.7); err != nil {
		t.Fatalf("score: %v", err)
	}
	updated, err = c.Update(ctx, created.ID, &models.TemplatePatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.QualitySamples != 1 || updated.AvgQualityScore != 0.7 {
		t.Errorf("samples=%d avg=%v, update must not reset stats", updated.QualitySamples, updated.AvgQualityScore)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Error("updated_at should advance")
	}

	empty := ""
	if _, err := c.Update(ctx, created.ID, &models.TemplatePatch{Role: &empty}); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("invalid patch err = %v", err)
	}
	if _, err := c.Update(ctx, "missing", &models.TemplatePatch{Name: &name}); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("missing template err = %v", err)
	}
}

func TestTemplateCatalogDelete(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	created, err := c.Create(ctx, analysisTemplate("模板"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, created.ID); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if err := c.Delete(ctx, created.ID); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestTemplateCatalogFindBest(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	general, _ := c.Create(ctx, analysisTemplate("通用分析"))
	finance, _ := c.Create(ctx, analysisTemplate("财报分析", "金融"))
	if _, err := c.UpdateQualityScore(ctx, general.ID, 0.9); err != nil {
		t.Fatalf("score: %v", err)
	}

	tests := []struct {
		name   string
		intent *models.Intent
		want   string
	}{
		{"domain match wins over score", &models.Intent{TaskType: models.TaskAnalysis, Domain: "金融"}, finance.ID},
		{"falls back to task type", &models.Intent{TaskType: models.TaskAnalysis, Domain: "医疗"}, general.ID},
		{"no template for task type", &models.Intent{TaskType: models.TaskReasoning}, ""},
		{"nil intent", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.FindBest(ctx, tt.intent)
			if err != nil {
				t.Fatalf("find best: %v", err)
			}
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.want {
				t.Errorf("FindBest() = %q, want %q", gotID, tt.want)
			}
		})
	}
}

func TestTemplateCatalogQualityScoreAverage(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	created, _ := c.Create(ctx, analysisTemplate("模板"))
	for _, score := range []float64{0.6, 0.9, 1.5} {
		if _, err := c.IncrementUsage(ctx, created.ID); err != nil {
			t.Fatalf("increment: %v", err)
		}
		if _, err := c.UpdateQualityScore(ctx, created.ID, score); err != nil {
			t.Fatalf("score: %v", err)
		}
	}

	got, _ := c.Get(ctx, created.ID)
	// 1.5 截断为 1.0
	want := (0.6 + 0.9 + 1.0) / 3
	if got.UsageCount != 3 || math.Abs(got.AvgQualityScore-want) > 1e-9 {
		t.Errorf("usage=%d avg=%v, want 3 and %v", got.UsageCount, got.AvgQualityScore, want)
	}
}

func TestTemplateCatalogQualityScoreInterleaved(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()
	created, _ := c.Create(ctx, analysisTemplate("模板"))

	// 两个请求先后完成组装，再先后完成评估
	for i := 0; i < 2; i++ {
		if _, err := c.IncrementUsage(ctx, created.ID); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := c.UpdateQualityScore(ctx, created.ID, 0.8); err != nil {
			t.Fatalf("score: %v", err)
		}
	}

	got, _ := c.Get(ctx, created.ID)
	if got.UsageCount != 2 || got.QualitySamples != 2 {
		t.Errorf("usage=%d samples=%d, want 2 and 2", got.UsageCount, got.QualitySamples)
	}
	if math.Abs(got.AvgQualityScore-0.8) > 1e-9 {
		t.Errorf("avg = %v, want 0.8", got.AvgQualityScore)
	}
}

func TestTemplateCatalogQualityScoreConcurrent(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()
	created, _ := c.Create(ctx, analysisTemplate("模板"))

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.IncrementUsage(ctx, created.ID); err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			score := 0.5
			if i%2 == 1 {
				score = 0.9
			}
			if _, err := c.UpdateQualityScore(ctx, created.ID, score); err != nil {
				t.Errorf("score: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := c.Get(ctx, created.ID)
	if got.UsageCount != workers || got.QualitySamples != workers {
		t.Errorf("usage=%d samples=%d, want %d", got.UsageCount, got.QualitySamples, workers)
	}
	if math.Abs(got.AvgQualityScore-0.7) > 1e-9 {
		t.Errorf("avg = %v, want 0.7", got.AvgQualityScore)
	}
}

func TestTemplateCatalogConcurrentUsage(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()
	created, _ := c.Create(ctx, analysisTemplate("模板"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.IncrementUsage(ctx, created.ID); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := c.Get(ctx, created.ID)
	if got.UsageCount != 50 {
		t.Errorf("usage = %d, want 50", got.UsageCount)
	}
}

func TestTemplateCatalogSeed(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	seeds := []*models.Template{analysisTemplate("一"), analysisTemplate("二")}
	n, err := c.Seed(ctx, seeds)
	if err != nil || n != 2 {
		t.Fatalf("seed = %d, %v; want 2", n, err)
	}

	n, err = c.Seed(ctx, seeds)
	if err != nil || n != 0 {
		t.Errorf("second seed = %d, %v; non-empty catalog should be left alone", n, err)
	}

	bad := newCatalog(t)
	if _, err := bad.Seed(ctx, []*models.Template{{Name: "坏模板"}}); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("invalid seed err = %v", err)
	}
}
