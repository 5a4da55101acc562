package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	TaskGeneration     TaskType = "generation"
	TaskAnalysis       TaskType = "analysis"
	TaskConversation   TaskType = "conversation"
	TaskExtraction     TaskType = "extraction"
	TaskTransformation TaskType = "transformation"
	TaskReasoning      TaskType = "reasoning"
	TaskOther          TaskType = "other"
)

// ParseTaskType 解析任务类型，未知值归为 other
func ParseTaskType(s string) TaskType {
	switch t := TaskType(strings.ToLower(strings.TrimSpace(s))); t {
	case TaskGeneration, TaskAnalysis, TaskConversation, TaskExtraction,
		TaskTransformation, TaskReasoning, TaskOther:
		return t
	default:
		return TaskOther
	}
}

// OptimizationLevel 优化级别
type OptimizationLevel string

const (
	LevelLow    OptimizationLevel = "low"
	LevelMedium OptimizationLevel = "medium"
	LevelHigh   OptimizationLevel = "high"
)

// ParseOptimizationLevel 解析优化级别，空值默认为 medium
func ParseOptimizationLevel(s string) (OptimizationLevel, error) {
	switch l := OptimizationLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LevelMedium, nil
	case LevelLow, LevelMedium, LevelHigh:
		return l, nil
	default:
		return "", fmt.Errorf("unknown optimization level: %q", s)
	}
}

// FocusAreas 返回该级别对应的重写关注点
func (l OptimizationLevel) FocusAreas() []string {
	switch l {
	case LevelLow:
		return []string{"clarity"}
	case LevelHigh:
		return []string{"clarity", "structure", "specificity", "effectiveness"}
	default:
		return []string{"clarity", "structure"}
	}
}

// Intent 用户输入的结构化意图。
// Confidence 为意图服务自报的置信度，不做独立校验。
type Intent struct {
	// TaskType 任务类型
	TaskType TaskType `json:"task_type"`

	// Domain 领域，如 金融、医疗
	Domain string `json:"domain"`

	// Objective 核心目标
	Objective string `json:"objective"`

	// Constraints 约束条件
	Constraints []string `json:"constraints"`

	// Keywords 关键词
	Keywords []string `json:"keywords"`

	// Context 上下文信息
	Context map[string]any `json:"context"`

	// Confidence 置信度 [0,1]
	Confidence float64 `json:"confidence"`
}

// DefaultIntent 意图提取失败时使用的默认意图
func DefaultIntent(text string) *Intent {
	return &Intent{
		TaskType:    TaskOther,
		Domain:      "general",
		Objective:   text,
		Constraints: []string{},
		Keywords:    []string{},
		Context:     map[string]any{},
		Confidence:  0.5,
	}
}

// Template 可复用的 Prompt 模板
type Template struct {
	ID          string `json:"template_id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Role         string   `json:"role"`
	Objective    string   `json:"objective"`
	Constraints  []string `json:"constraints"`
	OutputFormat string   `json:"output_format"`

	// ContextVars 模板声明的变量集合，值为默认值
	ContextVars map[string]string `json:"context_vars"`

	ApplicableTaskTypes []TaskType `json:"applicable_task_types"`
	ApplicableDomains   []string   `json:"applicable_domains"`
	Tags                []string   `json:"tags"`

	// 统计信息，只能通过 UpdateStats 修改
	UsageCount      int     `json:"usage_count"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	// QualitySamples 已计入平均分的评分次数
	QualitySamples  int     `json:"quality_samples"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches 判断模板是否适用于给定任务类型和领域，domain 为空时只匹配任务类型
func (t *Template) Matches(taskType TaskType, domain string) bool {
	typeOK := false
	for _, tt := range t.ApplicableTaskTypes {
		if tt == taskType {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}
	if domain == "" {
		return true
	}
	for _, d := range t.ApplicableDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// Clone 深拷贝模板
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	c.Constraints = append([]string(nil), t.Constraints...)
	c.ApplicableTaskTypes = append([]TaskType(nil), t.ApplicableTaskTypes...)
	c.ApplicableDomains = append([]string(nil), t.ApplicableDomains...)
	c.Tags = append([]string(nil), t.Tags...)
	if t.ContextVars != nil {
		c.ContextVars = make(map[string]string, len(t.ContextVars))
		for k, v := range t.ContextVars {
			c.ContextVars[k] = v
		}
	}
	return &c
}

// TemplateFilter 模板列表过滤条件
type TemplateFilter struct {
	TaskType TaskType
	Domain   string
}

// TemplatePatch 模板部分更新，nil 字段保持不变
type TemplatePatch struct {
	Name                *string           `json:"name,omitempty"`
	Description         *string           `json:"description,omitempty"`
	Role                *string           `json:"role,omitempty"`
	Objective           *string           `json:"objective,omitempty"`
	Constraints         []string          `json:"constraints,omitempty"`
	OutputFormat        *string           `json:"output_format,omitempty"`
	ContextVars         map[string]string `json:"context_vars,omitempty"`
	ApplicableTaskTypes []TaskType        `json:"applicable_task_types,omitempty"`
	ApplicableDomains   []string          `json:"applicable_domains,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
}

// Apply 将补丁应用到模板上
func (p *TemplatePatch) Apply(t *Template) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Role != nil {
		t.Role = *p.Role
	}
	if p.Objective != nil {
		t.Objective = *p.Objective
	}
	if p.Constraints != nil {
		t.Constraints = append([]string(nil), p.Constraints...)
	}
	if p.OutputFormat != nil {
		t.OutputFormat = *p.OutputFormat
	}
	if p.ContextVars != nil {
		t.ContextVars = make(map[string]string, len(p.ContextVars))
		for k, v := range p.ContextVars {
			t.ContextVars[k] = v
		}
	}
	if p.ApplicableTaskTypes != nil {
		t.ApplicableTaskTypes = append([]TaskType(nil), p.ApplicableTaskTypes...)
	}
	if p.ApplicableDomains != nil {
		t.ApplicableDomains = append([]string(nil), p.ApplicableDomains...)
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), p.Tags...)
	}
}

// CompiledPrompt 一次编译产出的不可变版本
type CompiledPrompt struct {
	// VersionID 版本唯一标识
	VersionID string `json:"version_id"`

	// OriginalInput 用户原始输入
	OriginalInput string `json:"original_input"`

	// Intent 意图
	Intent Intent `json:"intent"`

	// TemplateID 使用的模板，模板无关组合时为空
	TemplateID string `json:"template_id,omitempty"`

	Role         string         `json:"role"`
	Objective    string         `json:"objective"`
	Constraints  []string       `json:"constraints"`
	OutputFormat string         `json:"output_format"`
	Context      map[string]any `json:"context"`

	// FullText 最终 Prompt 文本
	FullText string `json:"full_text"`

	OptimizationLevel OptimizationLevel `json:"optimization_level"`
	Optimized         bool              `json:"optimized"`

	CreatedAt time.Time `json:"created_at"`
}

// VersionFilter 版本查询过滤条件，零值字段不参与过滤
type VersionFilter struct {
	OptimizationLevel OptimizationLevel
	TemplateID        string
	TaskType          TaskType
	Optimized         *bool
}

// Match 判断版本是否满足过滤条件
func (f VersionFilter) Match(p *CompiledPrompt) bool {
	if f.OptimizationLevel != "" && p.OptimizationLevel != f.OptimizationLevel {
		return false
	}
	if f.TemplateID != "" && p.TemplateID != f.TemplateID {
		return false
	}
	if f.TaskType != "" && p.Intent.TaskType != f.TaskType {
		return false
	}
	if f.Optimized != nil && p.Optimized != *f.Optimized {
		return false
	}
	return true
}

// VersionStatistics 版本统计
type VersionStatistics struct {
	Total          int                       `json:"total"`
	ByLevel        map[OptimizationLevel]int `json:"by_level"`
	ByTaskType     map[TaskType]int          `json:"by_task_type"`
	OptimizedCount int                       `json:"optimized_count"`
	OptimizedRatio float64                   `json:"optimized_ratio"`
}
