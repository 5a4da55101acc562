package nodes

import (
	"sort"

	"prompt-compiler/internal/domain/models"
)

// RankTemplates 按 (平均质量分, 使用次数) 降序排序。
// 两者都相同时创建时间早的优先，最后按 ID 排序，保证结果确定。
func RankTemplates(templates []*models.Template) []*models.Template {
	ranked := append([]*models.Template(nil), templates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.AvgQualityScore != b.AvgQualityScore {
			return a.AvgQualityScore > b.AvgQualityScore
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ranked
}

// SelectBestTemplate 两级匹配：先匹配任务类型和领域，为空时退化为只匹配任务类型
func SelectBestTemplate(templates []*models.Template, intent *models.Intent) *models.Template {
	if intent == nil {
		return nil
	}

	var exact, typeOnly []*models.Template
	for _, t := range templates {
		if t.Matches(intent.TaskType, intent.Domain) {
			exact = append(exact, t)
		}
		if t.Matches(intent.TaskType, "") {
			typeOnly = append(typeOnly, t)
		}
	}

	if len(exact) > 0 {
		return RankTemplates(exact)[0]
	}
	if len(typeOnly) > 0 {
		return RankTemplates(typeOnly)[0]
	}
	return nil
}
