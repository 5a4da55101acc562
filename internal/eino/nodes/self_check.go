package nodes

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/pkg/logger"
)

// Evaluator 质量评估能力
type Evaluator interface {
	Evaluate(ctx context.Context, text string, intent *models.Intent) (*models.Evaluation, error)
}

// 自检推荐语
const (
	RecommendSeriousIssues = "优化后的 Prompt 存在严重问题，建议使用原始版本或重新优化"
	RecommendLowQuality    = "优化后的 Prompt 质量偏低，建议进一步优化"
	RecommendNoImprovement = "优化效果不明显，建议使用原始版本或尝试不同的优化策略"
	RecommendExcellent     = "优化后的 Prompt 质量优秀，推荐使用"
	RecommendGood          = "优化后的 Prompt 质量良好，可以使用"
)

const (
	passThreshold      = 0.7
	lowQualityScore    = 0.6
	excellentThreshold = 0.8
)

// SelfCheckResult 自检结果
type SelfCheckResult struct {
	Passed           bool                      `json:"passed"`
	Validation       *models.ValidationOutcome `json:"validation"`
	CandidateMetrics models.QualityMetrics     `json:"optimized_metrics"`
	BaselineMetrics  models.QualityMetrics     `json:"original_metrics"`
	Improvements     map[string]float64        `json:"improvements"`
	IsBetter         bool                      `json:"is_better"`
	Recommendation   string                    `json:"recommendation"`
}

// SelfChecker 比较重写前后的 Prompt
type SelfChecker struct {
	rules     *RuleEngine
	evaluator Evaluator
	log       logger.Logger
}

// NewSelfChecker 创建自检器
func NewSelfChecker(rules *RuleEngine, evaluator Evaluator, log logger.Logger) *SelfChecker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &SelfChecker{rules: rules, evaluator: evaluator, log: log}
}

// Check 对候选版本做规则校验，并发评估候选与基线。
// 单侧评估失败时使用默认评估结果，只有 ctx 被取消才返回错误。
func (s *SelfChecker) Check(ctx context.Context, candidate, baseline string, intent *models.Intent) (*SelfCheckResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	validation := s.rules.Validate(candidate)

	var candEval, baseEval *models.Evaluation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ev, err := s.evaluate(gctx, candidate, intent, "candidate")
		candEval = ev
		return err
	})
	g.Go(func() error {
		ev, err := s.evaluate(gctx, baseline, intent, "baseline")
		baseEval = ev
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cand, base := candEval.Metrics, baseEval.Metrics
	improvements := map[string]float64{
		"structure":    cand.Structure - base.Structure,
		"consistency":  cand.Consistency - base.Consistency,
		"completeness": cand.Completeness - base.Completeness,
		"clarity":      cand.Clarity - base.Clarity,
		"overall":      cand.Overall - base.Overall,
	}

	result := &SelfCheckResult{
		Passed:           validation.Passed && cand.Overall > passThreshold,
		Validation:       validation,
		CandidateMetrics: cand,
		BaselineMetrics:  base,
		Improvements:     improvements,
		IsBetter:         cand.Overall > base.Overall,
		Recommendation:   Recommendation(validation.Passed, cand.Overall, base.Overall),
	}

	s.log.DebugContext(ctx, "自检完成",
		"passed", result.Passed,
		"candidate_overall", cand.Overall,
		"baseline_overall", base.Overall)

	return result, nil
}

func (s *SelfChecker) evaluate(ctx context.Context, text string, intent *models.Intent, side string) (*models.Evaluation, error) {
	ev, err := s.evaluator.Evaluate(ctx, text, intent)
	if err == nil && ev != nil {
		return ev, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	s.log.WarnContext(ctx, "自检评估失败，使用默认评估结果", "side", side, "error", err)
	return models.DefaultEvaluation(), nil
}

// Recommendation 按固定决策表生成推荐语，先匹配者优先
func Recommendation(validationPassed bool, candidate, baseline float64) string {
	switch {
	case !validationPassed:
		return RecommendSeriousIssues
	case candidate < lowQualityScore:
		return RecommendLowQuality
	case candidate <= baseline:
		return RecommendNoImprovement
	case candidate >= excellentThreshold:
		return RecommendExcellent
	default:
		return RecommendGood
	}
}

// LogValue 实现 slog.LogValuer
func (r *SelfCheckResult) LogValue() slog.Value {
	if r == nil {
		return slog.StringValue("")
	}
	return slog.GroupValue(
		slog.Bool("passed", r.Passed),
		slog.Float64("overall_diff", r.Improvements["overall"]),
		slog.String("recommendation", r.Recommendation),
	)
}
