// Package semantic 提供意图理解、Prompt 重写和质量评估三个语义服务的实现：
// 基于大模型的实现，以及不依赖外部服务的启发式实现
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/infrastructure/llm"
	"prompt-compiler/pkg/logger"
)

// Completer 大模型文本补全接口
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

const (
	intentTemperature   = 0.3
	rewriteTemperature  = 0.5
	evaluateTemperature = 0.3

	defaultConfidence = 0.8
	defaultSubScore   = 0.7
)

const intentSystemPrompt = `你是一个专业的意图分析专家。
分析用户输入，提取以下信息并以 JSON 格式返回：
{
    "task_type": "任务类型（generation/analysis/conversation/extraction/transformation/reasoning/other）",
    "domain": "领域分类（如：金融、医疗、教育、技术等）",
    "objective": "核心目标的简洁描述",
    "constraints": ["约束条件1", "约束条件2"],
    "keywords": ["关键词1", "关键词2"],
    "context": {"key": "value"},
    "confidence": 0.95
}

请确保返回的是纯 JSON 格式，不要包含其他文字。`

const rewriteSystemPrompt = `你是一个专业的 Prompt 工程专家。
你的任务是优化用户提供的 Prompt，使其更清晰、更具体、更有效。

优化要点：
1. 明确角色定义
2. 清晰的任务目标
3. 具体的约束条件
4. 明确的输出格式要求
5. 必要的上下文信息

重要：optimized_prompt 必须是纯文本字符串，不能是 JSON 对象，而是一个完整的、可直接使用的 Prompt 文本。

请返回 JSON 格式：
{
    "optimized_prompt": "角色：xxx\n\n目标：xxx\n\n约束条件：\n- xxx\n- xxx\n\n输出格式：xxx",
    "improvements": ["改进点1", "改进点2", "改进点3"],
    "explanation": "优化思路的简要说明"
}`

const evaluateSystemPrompt = `你是一个专业的 Prompt 质量评估专家。
请从以下维度评估 Prompt 的质量（每项 0-1 分）：

1. structure_score（结构合规率）：是否包含角色、目标、约束、输出格式等完整结构
2. consistency_score（目标一致性）：各部分是否围绕核心目标，无矛盾
3. completeness_score（语义完整度）：信息是否完整，无歧义
4. clarity_score（表达清晰度）：语言是否清晰、简洁、易懂

请返回 JSON 格式：
{
    "structure_score": 0.85,
    "consistency_score": 0.90,
    "completeness_score": 0.80,
    "clarity_score": 0.88,
    "strengths": ["优点1", "优点2"],
    "weaknesses": ["不足1", "不足2"],
    "suggestions": ["建议1", "建议2"],
    "analysis": "详细分析说明"
}`

var (
	_ services.IntentService     = (*LLMIntentService)(nil)
	_ services.RewriteService    = (*LLMRewriteService)(nil)
	_ services.EvaluationService = (*LLMEvaluationService)(nil)
)

// LLMIntentService 基于大模型的意图提取
type LLMIntentService struct {
	client Completer
	logger logger.Logger
}

// NewLLMIntentService 创建意图提取服务
func NewLLMIntentService(client Completer, log logger.Logger) *LLMIntentService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LLMIntentService{client: client, logger: log}
}

type intentPayload struct {
	TaskType    string         `json:"task_type"`
	Domain      string         `json:"domain"`
	Objective   string         `json:"objective"`
	Constraints []string       `json:"constraints"`
	Keywords    []string       `json:"keywords"`
	Context     map[string]any `json:"context"`
	Confidence  *float64       `json:"confidence"`
}

// Extract 调用大模型提取意图，未知任务类型归为 other
func (s *LLMIntentService) Extract(ctx context.Context, text string) (*models.Intent, error) {
	content, err := s.client.Complete(ctx, intentSystemPrompt, "请分析以下用户输入：\n"+text, intentTemperature)
	if err != nil {
		return nil, fmt.Errorf("intent extraction: %w", err)
	}

	var payload intentPayload
	if err := llm.DecodeJSON(content, &payload); err != nil {
		return nil, fmt.Errorf("intent extraction: %w", err)
	}

	intent := &models.Intent{
		TaskType:    models.ParseTaskType(strings.ToLower(strings.TrimSpace(payload.TaskType))),
		Domain:      payload.Domain,
		Objective:   payload.Objective,
		Constraints: nonNilStrings(payload.Constraints),
		Keywords:    nonNilStrings(payload.Keywords),
		Context:     payload.Context,
		Confidence:  defaultConfidence,
	}
	if intent.Domain == "" {
		intent.Domain = "general"
	}
	if intent.Objective == "" {
		intent.Objective = text
	}
	if intent.Context == nil {
		intent.Context = map[string]any{}
	}
	if payload.Confidence != nil {
		intent.Confidence = models.Clamp01(*payload.Confidence)
	}

	s.logger.InfoContext(ctx, "意图提取成功",
		"task_type", intent.TaskType,
		"domain", intent.Domain,
		"confidence", intent.Confidence)
	return intent, nil
}

// LLMRewriteService 基于大模型的 Prompt 重写
type LLMRewriteService struct {
	client Completer
	logger logger.Logger
}

// NewLLMRewriteService 创建重写服务
func NewLLMRewriteService(client Completer, log logger.Logger) *LLMRewriteService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LLMRewriteService{client: client, logger: log}
}

type rewritePayload struct {
	OptimizedPrompt json.RawMessage `json:"optimized_prompt"`
	Improvements    []string        `json:"improvements"`
	Explanation     string          `json:"explanation"`
}

// Rewrite 调用大模型重写 Prompt。
// optimized_prompt 为对象时解析为结构化片段，由调用方展开。
func (s *LLMRewriteService) Rewrite(ctx context.Context, text string, intent *models.Intent, focusAreas []string) (*models.RewriteResult, error) {
	var b strings.Builder
	b.WriteString("请优化以下 Prompt：\n\n")
	b.WriteString(text)
	if intent != nil {
		fmt.Fprintf(&b, "\n\n任务类型：%s\n领域：%s\n目标：%s", intent.TaskType, intent.Domain, intent.Objective)
	}
	if len(focusAreas) > 0 {
		fmt.Fprintf(&b, "\n\n重点优化方面：%s", strings.Join(focusAreas, ", "))
	}

	content, err := s.client.Complete(ctx, rewriteSystemPrompt, b.String(), rewriteTemperature)
	if err != nil {
		return nil, fmt.Errorf("prompt rewrite: %w", err)
	}

	var payload rewritePayload
	if err := llm.DecodeJSON(content, &payload); err != nil {
		return nil, fmt.Errorf("prompt rewrite: %w", err)
	}

	result := &models.RewriteResult{
		Improvements: nonNilStrings(payload.Improvements),
		Explanation:  payload.Explanation,
	}

	raw := strings.TrimSpace(string(payload.OptimizedPrompt))
	switch {
	case raw == "" || raw == "null":
		return nil, fmt.Errorf("prompt rewrite: missing optimized_prompt")
	case strings.HasPrefix(raw, "{"):
		var sections models.RewriteSections
		if err := json.Unmarshal(payload.OptimizedPrompt, &sections); err != nil {
			return nil, fmt.Errorf("prompt rewrite: decode sections: %w", err)
		}
		result.Sections = &sections
	default:
		if err := json.Unmarshal(payload.OptimizedPrompt, &result.Text); err != nil {
			return nil, fmt.Errorf("prompt rewrite: decode text: %w", err)
		}
		if strings.TrimSpace(result.Text) == "" {
			return nil, fmt.Errorf("prompt rewrite: empty optimized_prompt")
		}
	}

	s.logger.InfoContext(ctx, "Prompt 优化成功",
		"improvements", len(result.Improvements),
		"structured", result.Sections != nil)
	return result, nil
}

// LLMEvaluationService 基于大模型的质量评估
type LLMEvaluationService struct {
	client Completer
	logger logger.Logger
}

// NewLLMEvaluationService 创建评估服务
func NewLLMEvaluationService(client Completer, log logger.Logger) *LLMEvaluationService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LLMEvaluationService{client: client, logger: log}
}

type evaluationPayload struct {
	Structure    *float64 `json:"structure_score"`
	Consistency  *float64 `json:"consistency_score"`
	Completeness *float64 `json:"completeness_score"`
	Clarity      *float64 `json:"clarity_score"`
	Strengths    []string `json:"strengths"`
	Weaknesses   []string `json:"weaknesses"`
	Suggestions  []string `json:"suggestions"`
	Analysis     string   `json:"analysis"`
}

// Evaluate 调用大模型评估质量，缺失的子分数按 0.7 处理，综合分总是重新计算
func (s *LLMEvaluationService) Evaluate(ctx context.Context, text string, intent *models.Intent) (*models.Evaluation, error) {
	user := "请评估以下 Prompt 的质量：\n\n" + text
	if intent != nil {
		user += fmt.Sprintf("\n\n预期任务类型：%s\n预期目标：%s", intent.TaskType, intent.Objective)
	}

	content, err := s.client.Complete(ctx, evaluateSystemPrompt, user, evaluateTemperature)
	if err != nil {
		return nil, fmt.Errorf("quality evaluation: %w", err)
	}

	var payload evaluationPayload
	if err := llm.DecodeJSON(content, &payload); err != nil {
		return nil, fmt.Errorf("quality evaluation: %w", err)
	}

	ev := &models.Evaluation{
		Metrics: models.NewQualityMetrics(
			scoreOrDefault(payload.Structure),
			scoreOrDefault(payload.Consistency),
			scoreOrDefault(payload.Completeness),
			scoreOrDefault(payload.Clarity),
		),
		Strengths:   nonNilStrings(payload.Strengths),
		Weaknesses:  nonNilStrings(payload.Weaknesses),
		Suggestions: nonNilStrings(payload.Suggestions),
		Analysis:    payload.Analysis,
	}

	s.logger.InfoContext(ctx, "质量评估成功", "overall_score", ev.Metrics.Overall)
	return ev, nil
}

func scoreOrDefault(v *float64) float64 {
	if v == nil {
		return defaultSubScore
	}
	return *v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
