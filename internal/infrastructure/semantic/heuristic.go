package semantic

import (
	"context"
	"fmt"
	"strings"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/eino/nodes"
)

const heuristicConfidence = 0.6

// 约束句的标志词
var constraintMarkers = []string{"必须", "不能", "不要", "需要", "禁止", "不超过", "至少"}

var (
	_ services.IntentService     = (*HeuristicIntentService)(nil)
	_ services.RewriteService    = (*HeuristicRewriteService)(nil)
	_ services.EvaluationService = (*HeuristicEvaluationService)(nil)
)

// HeuristicIntentService 基于关键词词典的意图提取
type HeuristicIntentService struct {
	keywords *nodes.KeywordExtractor
}

// NewHeuristicIntentService 创建启发式意图提取服务
func NewHeuristicIntentService() *HeuristicIntentService {
	return &HeuristicIntentService{keywords: nodes.NewKeywordExtractor(10)}
}

func (s *HeuristicIntentService) Extract(ctx context.Context, text string) (*models.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &models.Intent{
		TaskType:    nodes.DetectTaskType(text),
		Domain:      nodes.DetectDomain(text),
		Objective:   text,
		Constraints: extractConstraints(text),
		Keywords:    s.keywords.Extract(text),
		Context:     map[string]any{},
		Confidence:  heuristicConfidence,
	}, nil
}

// extractConstraints 按句切分，保留含约束标志词的句子
func extractConstraints(text string) []string {
	constraints := []string{}
	pieces := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '；', ';', '\n', '!', '！', '?', '？', ',', '，':
			return true
		}
		return false
	})
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p != "" && containsAnyWord(p, constraintMarkers) {
			constraints = append(constraints, p)
		}
	}
	return constraints
}

// HeuristicRewriteService 规则修复加五段重组的重写实现
type HeuristicRewriteService struct {
	rules    *nodes.RuleEngine
	composer *nodes.Composer
}

// NewHeuristicRewriteService 创建启发式重写服务
func NewHeuristicRewriteService(rules *nodes.RuleEngine) *HeuristicRewriteService {
	if rules == nil {
		rules = nodes.NewRuleEngine(nil)
	}
	return &HeuristicRewriteService{rules: rules, composer: nodes.NewComposer()}
}

// Rewrite 修复常见格式问题，缺少标准段落时按意图重新组合
func (s *HeuristicRewriteService) Rewrite(ctx context.Context, text string, intent *models.Intent, focusAreas []string) (*models.RewriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fixed := s.rules.FixCommonIssues(text)
	improvements := []string{}
	if fixed != text {
		improvements = append(improvements, "修正了空白与标题格式")
	}

	if !nodes.HasStandardSections(fixed) && containsAnyWord(strings.Join(focusAreas, " "), []string{"structure", "specificity"}) {
		if intent == nil {
			intent = models.DefaultIntent(fixed)
		}
		fixed = s.composer.ComposeFromIntent(intent, fixed).Text
		improvements = append(improvements, "按角色、目标、约束、输出格式和上下文重组结构")
	}

	return &models.RewriteResult{
		Text:         fixed,
		Improvements: improvements,
		Explanation:  fmt.Sprintf("基于规则的优化，关注点: %s", strings.Join(focusAreas, ", ")),
		Unchanged:    fixed == text,
	}, nil
}

// HeuristicEvaluationService 基于指标计算器的评估实现
type HeuristicEvaluationService struct {
	metrics *nodes.MetricsCalculator
}

// NewHeuristicEvaluationService 创建启发式评估服务
func NewHeuristicEvaluationService() *HeuristicEvaluationService {
	return &HeuristicEvaluationService{metrics: nodes.NewMetricsCalculator()}
}

type dimension struct {
	name       string
	score      float64
	suggestion string
}

func (s *HeuristicEvaluationService) Evaluate(ctx context.Context, text string, intent *models.Intent) (*models.Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := s.metrics.Calculate(text)
	ev := &models.Evaluation{
		Metrics:     m,
		Strengths:   []string{},
		Weaknesses:  []string{},
		Suggestions: []string{},
	}

	for _, d := range []dimension{
		{"结构", m.Structure, "补充角色、目标和输出格式等结构部分"},
		{"一致性", m.Consistency, "消除相互矛盾的要求"},
		{"完整度", m.Completeness, "补充上下文和背景信息"},
		{"清晰度", m.Clarity, "减少模糊词汇，使用明确的动作词"},
	} {
		switch {
		case d.score >= 0.7:
			ev.Strengths = append(ev.Strengths, fmt.Sprintf("%s良好 (%.2f)", d.name, d.score))
		case d.score < 0.5:
			ev.Weaknesses = append(ev.Weaknesses, fmt.Sprintf("%s不足 (%.2f)", d.name, d.score))
			ev.Suggestions = append(ev.Suggestions, d.suggestion)
		}
	}

	ev.Analysis = fmt.Sprintf("基于规则的评估，综合得分 %.2f", m.Overall)
	return ev, nil
}

func containsAnyWord(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
