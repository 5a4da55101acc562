package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/internal/infrastructure/stores/memory"
	"prompt-compiler/pkg/logger"
)

type recordingCleaner struct {
	removed []string
	err     error
}

func (r *recordingCleaner) Remove(ctx context.Context, ids []string) error {
	r.removed = append(r.removed, ids...)
	return r.err
}

var historyNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func seedVersions(t *testing.T, store *memory.VersionStore) {
	t.Helper()
	versions := []*models.CompiledPrompt{
		{
			VersionID:         "v-old",
			OriginalInput:     "分析去年的财报",
			Intent:            models.Intent{TaskType: models.TaskAnalysis},
			FullText:          "# 角色\n财务分析师",
			OptimizationLevel: models.LevelLow,
			CreatedAt:         historyNow.AddDate(0, 0, -45),
		},
		{
			VersionID:         "v-mid",
			OriginalInput:     "写一首关于春天的诗",
			Intent:            models.Intent{TaskType: models.TaskGeneration},
			TemplateID:        "tpl-poem",
			FullText:          "# 角色\n诗人",
			OptimizationLevel: models.LevelMedium,
			Optimized:         true,
			CreatedAt:         historyNow.AddDate(0, 0, -10),
		},
		{
			VersionID:         "v-new",
			OriginalInput:     "提取合同中的甲方名称",
			Intent:            models.Intent{TaskType: models.TaskExtraction},
			FullText:          "# 角色\n信息抽取专家，关注财报附注",
			OptimizationLevel: models.LevelHigh,
			Optimized:         true,
			CreatedAt:         historyNow.AddDate(0, 0, -1),
		},
	}
	for _, v := range versions {
		if err := store.Save(context.Background(), v); err != nil {
			t.Fatalf("save %s: %v", v.VersionID, err)
		}
	}
}

func newHistory(t *testing.T, cleaner IndexCleaner) (*HistoryService, *memory.VersionStore) {
	t.Helper()
	store := memory.NewVersionStore()
	seedVersions(t, store)
	h := NewHistoryService(store, cleaner, logger.Default())
	h.now = func() time.Time { return historyNow }
	return h, store
}

func TestHistoryGet(t *testing.T) {
	h, store := newHistory(t, nil)
	ctx := context.Background()

	detail, err := h.Get(ctx, "v-mid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Evaluation != nil {
		t.Error("missing evaluation should not be an error")
	}

	rec := &models.EvaluationRecord{
		EvaluationID: "e-1",
		VersionID:    "v-mid",
		Metrics:      models.NewQualityMetrics(0.8, 0.8, 0.8, 0.8),
	}
	if err := store.SaveEvaluation(ctx, rec); err != nil {
		t.Fatalf("save evaluation: %v", err)
	}
	detail, err = h.Get(ctx, "v-mid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Evaluation == nil || detail.Evaluation.EvaluationID != "e-1" {
		t.Errorf("evaluation = %+v", detail.Evaluation)
	}

	if _, err := h.Get(ctx, "missing"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("missing version err = %v", err)
	}
}

func TestHistoryList(t *testing.T) {
	h, _ := newHistory(t, nil)
	optimized := true

	tests := []struct {
		name      string
		filter    models.VersionFilter
		skip      int
		limit     int
		wantIDs   []string
		wantTotal int
	}{
		{"all newest first", models.VersionFilter{}, 0, 10, []string{"v-new", "v-mid", "v-old"}, 3},
		{"paged", models.VersionFilter{}, 1, 1, []string{"v-mid"}, 3},
		{"by level", models.VersionFilter{OptimizationLevel: models.LevelLow}, 0, 10, []string{"v-old"}, 1},
		{"by template", models.VersionFilter{TemplateID: "tpl-poem"}, 0, 10, []string{"v-mid"}, 1},
		{"optimized only", models.VersionFilter{Optimized: &optimized}, 0, 10, []string{"v-new", "v-mid"}, 2},
		{"no match", models.VersionFilter{TaskType: models.TaskReasoning}, 0, 10, []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := h.List(context.Background(), tt.filter, tt.skip, tt.limit)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			ids := make([]string, 0, len(items))
			for _, p := range items {
				ids = append(ids, p.VersionID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
		})
	}
}

func TestHistorySearch(t *testing.T) {
	h, _ := newHistory(t, nil)
	ctx := context.Background()

	items, err := h.Search(ctx, "财报", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("matches = %d, want 2 (original input and full text)", len(items))
	}

	items, err = h.Search(ctx, "   ", 10)
	if err != nil || len(items) != 0 {
		t.Errorf("blank query = %v, %v; want empty", items, err)
	}
}

func TestHistoryStatistics(t *testing.T) {
	h, _ := newHistory(t, nil)

	stats, err := h.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	want := &models.VersionStatistics{
		Total: 3,
		ByLevel: map[models.OptimizationLevel]int{
			models.LevelLow: 1, models.LevelMedium: 1, models.LevelHigh: 1,
		},
		ByTaskType: map[models.TaskType]int{
			models.TaskAnalysis: 1, models.TaskGeneration: 1, models.TaskExtraction: 1,
		},
		OptimizedCount: 2,
		OptimizedRatio: 2.0 / 3.0,
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryDeleteOlderThan(t *testing.T) {
	cleaner := &recordingCleaner{}
	h, store := newHistory(t, cleaner)
	ctx := context.Background()

	deleted, err := h.DeleteOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if diff := cmp.Diff([]string{"v-old"}, cleaner.removed); diff != "" {
		t.Errorf("cleaner ids mismatch (-want +got):\n%s", diff)
	}
	if _, err := store.Get(ctx, "v-old"); !errors.Is(err, repositories.ErrNotFound) {
		t.Error("expired version should be gone")
	}
	if _, err := store.Get(ctx, "v-mid"); err != nil {
		t.Errorf("recent version should survive: %v", err)
	}
}

func TestHistoryDeleteOlderThanCleanerFailure(t *testing.T) {
	cleaner := &recordingCleaner{err: errors.New("vector store down")}
	h, _ := newHistory(t, cleaner)

	deleted, err := h.DeleteOlderThan(context.Background(), 5)
	if err != nil {
		t.Fatalf("cleaner failure should not fail the cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

func TestHistoryDeleteOlderThanInvalidDays(t *testing.T) {
	h, _ := newHistory(t, nil)
	for _, days := range []int{0, -3} {
		if _, err := h.DeleteOlderThan(context.Background(), days); !errors.Is(err, ErrInvalidRetention) {
			t.Errorf("days=%d err = %v, want ErrInvalidRetention", days, err)
		}
	}
}
