package models

import (
	"math"
	"time"
)

// 综合得分权重
const (
	WeightStructure    = 0.25
	WeightConsistency  = 0.30
	WeightCompleteness = 0.25
	WeightClarity      = 0.20
)

// QualityMetrics 质量指标。
// Overall 由四个子分数按固定权重计算，不允许单独设置。
type QualityMetrics struct {
	Structure    float64 `json:"structure_score"`
	Consistency  float64 `json:"consistency_score"`
	Completeness float64 `json:"completeness_score"`
	Clarity      float64 `json:"clarity_score"`
	Overall      float64 `json:"overall_score"`
}

// NewQualityMetrics 由四个子分数构造指标，子分数截断到 [0,1]
func NewQualityMetrics(structure, consistency, completeness, clarity float64) QualityMetrics {
	m := QualityMetrics{
		Structure:    Clamp01(structure),
		Consistency:  Clamp01(consistency),
		Completeness: Clamp01(completeness),
		Clarity:      Clamp01(clarity),
	}
	m.Recompute()
	return m
}

// Recompute 重新计算综合得分
func (m *QualityMetrics) Recompute() {
	m.Overall = Clamp01(WeightStructure*m.Structure +
		WeightConsistency*m.Consistency +
		WeightCompleteness*m.Completeness +
		WeightClarity*m.Clarity)
}

// Clamp01 将分数限制在 [0,1]，NaN 视为 0
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ValidationOutcome 规则校验结果，Passed 为 false 当且仅当存在错误
type ValidationOutcome struct {
	Passed      bool     `json:"passed"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// NewValidationOutcome 创建空的校验结果
func NewValidationOutcome() *ValidationOutcome {
	return &ValidationOutcome{
		Passed:      true,
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}
}

func (v *ValidationOutcome) AddError(msg string) {
	v.Passed = false
	v.Errors = append(v.Errors, msg)
}

func (v *ValidationOutcome) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

func (v *ValidationOutcome) AddSuggestion(msg string) {
	v.Suggestions = append(v.Suggestions, msg)
}

// Evaluation 评估服务返回的结果
type Evaluation struct {
	Metrics     QualityMetrics `json:"metrics"`
	Strengths   []string       `json:"strengths"`
	Weaknesses  []string       `json:"weaknesses"`
	Suggestions []string       `json:"suggestions"`
	Analysis    string         `json:"analysis"`

	// Fallback 表示评估失败后使用了默认值
	Fallback bool `json:"fallback,omitempty"`
}

// DefaultEvaluation 评估失败时的默认结果
func DefaultEvaluation() *Evaluation {
	return &Evaluation{
		Metrics:     NewQualityMetrics(0.5, 0.5, 0.5, 0.5),
		Strengths:   []string{},
		Weaknesses:  []string{"评估过程出现错误"},
		Suggestions: []string{"请检查 Prompt 格式"},
		Analysis:    "无法完成详细分析",
		Fallback:    true,
	}
}

// EvaluationRecord 持久化的评估记录，通过 VersionID 关联版本
type EvaluationRecord struct {
	EvaluationID string         `json:"evaluation_id"`
	VersionID    string         `json:"version_id"`
	Metrics      QualityMetrics `json:"metrics"`
	Strengths    []string       `json:"strengths"`
	Weaknesses   []string       `json:"weaknesses"`
	Suggestions  []string       `json:"suggestions"`
	Analysis     string         `json:"analysis_text"`
	EvaluatedAt  time.Time      `json:"evaluated_at"`
}

// RewriteResult 重写服务返回的结果。
// 当重写服务返回结构化对象时 Sections 非空，由调用方展开为固定五段布局。
type RewriteResult struct {
	Text         string           `json:"optimized_prompt"`
	Sections     *RewriteSections `json:"sections,omitempty"`
	Improvements []string         `json:"improvements"`
	Explanation  string           `json:"explanation"`

	// Fallback 表示重写失败，Text 为原文
	Fallback  bool `json:"fallback,omitempty"`
	// Unchanged 表示重写成功但文本没有变化
	Unchanged bool `json:"unchanged,omitempty"`
}

// RewriteSections 结构化的重写结果
type RewriteSections struct {
	Role         string         `json:"role"`
	Objective    string         `json:"objective"`
	Constraints  []string       `json:"constraints"`
	OutputFormat string         `json:"output_format"`
	Context      map[string]any `json:"context,omitempty"`
}

// DimensionComparison 单个维度的对比
type DimensionComparison struct {
	VersionA float64 `json:"version_a"`
	VersionB float64 `json:"version_b"`
	Diff     float64 `json:"diff"`
}

// Comparison 两个版本的对比结果
type Comparison struct {
	Dimensions map[string]DimensionComparison `json:"comparison"`
	Winner     string                         `json:"winner"`
	Analysis   string                         `json:"analysis"`
}
