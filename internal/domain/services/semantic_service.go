package services

import (
	"context"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/pkg/logger"
)

// IntentService 意图理解服务接口
// 从标准化后的用户输入中提取结构化意图
type IntentService interface {
	// Extract 提取意图
	//
	// 参数:
	//   ctx: 上下文，用于控制请求生命周期
	//   text: 标准化后的用户输入
	//
	// 返回:
	//   *models.Intent: 结构化意图，Confidence 为服务自报的置信度
	//   error: 调用失败或响应无法解析
	Extract(ctx context.Context, text string) (*models.Intent, error)
}

// RewriteService Prompt 重写服务接口
type RewriteService interface {
	// Rewrite 按关注点重写 Prompt
	//
	// 参数:
	//   ctx: 上下文
	//   text: 待重写的 Prompt
	//   intent: 意图，可以为空
	//   focusAreas: 重写关注点，由优化级别决定
	//
	// 返回:
	//   *models.RewriteResult: 重写结果，Sections 非空表示结构化输出
	//   error: 调用失败或响应无法解析
	Rewrite(ctx context.Context, text string, intent *models.Intent, focusAreas []string) (*models.RewriteResult, error)
}

// EvaluationService 质量评估服务接口
type EvaluationService interface {
	// Evaluate 评估 Prompt 质量
	//
	// 参数:
	//   ctx: 上下文
	//   text: 待评估的 Prompt
	//   intent: 预期意图，可以为空
	//
	// 返回:
	//   *models.Evaluation: 四项子分数及定性分析，Overall 总是由子分数重新计算
	//   error: 调用失败或响应无法解析
	Evaluate(ctx context.Context, text string, intent *models.Intent) (*models.Evaluation, error)
}

// FallbackSemantics 为三个语义服务提供降级包装。
// 调用失败时返回文档约定的默认结果，只有 ctx 被取消时才把错误返回给调用方。
type FallbackSemantics struct {
	intent  IntentService
	rewrite RewriteService
	eval    EvaluationService
	log     logger.Logger
}

// NewFallbackSemantics 创建降级包装
func NewFallbackSemantics(intent IntentService, rewrite RewriteService, eval EvaluationService, log logger.Logger) *FallbackSemantics {
	if log == nil {
		log = logger.GetDefault()
	}
	return &FallbackSemantics{intent: intent, rewrite: rewrite, eval: eval, log: log}
}

// Extract 提取意图，失败时返回默认意图
func (f *FallbackSemantics) Extract(ctx context.Context, text string) (*models.Intent, error) {
	intent, err := f.intent.Extract(ctx, text)
	if err == nil && intent != nil {
		return intent, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	f.log.WarnContext(ctx, "意图提取失败，使用默认意图", "error", err)
	return models.DefaultIntent(text), nil
}

// Rewrite 重写 Prompt，失败时原样返回并标记 Fallback
func (f *FallbackSemantics) Rewrite(ctx context.Context, text string, intent *models.Intent, focusAreas []string) (*models.RewriteResult, error) {
	result, err := f.rewrite.Rewrite(ctx, text, intent, focusAreas)
	if err == nil && result != nil && (result.Text != "" || result.Sections != nil) {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	f.log.WarnContext(ctx, "Prompt 重写失败，保留原文", "error", err)
	return &models.RewriteResult{
		Text:         text,
		Improvements: []string{},
		Explanation:  "优化过程出现错误，返回原始 Prompt",
		Fallback:     true,
	}, nil
}

// Evaluate 评估 Prompt，失败时返回默认评估结果
func (f *FallbackSemantics) Evaluate(ctx context.Context, text string, intent *models.Intent) (*models.Evaluation, error) {
	ev, err := f.eval.Evaluate(ctx, text, intent)
	if err == nil && ev != nil {
		m := ev.Metrics
		ev.Metrics = models.NewQualityMetrics(m.Structure, m.Consistency, m.Completeness, m.Clarity)
		return ev, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	f.log.WarnContext(ctx, "质量评估失败，使用默认评估结果", "error", err)
	return models.DefaultEvaluation(), nil
}
