package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/eino/flows"
	"prompt-compiler/internal/eino/nodes"
	"prompt-compiler/pkg/logger"
	"prompt-compiler/pkg/status"
)

// maxPromptLength 单个请求文本的最大字符数
const maxPromptLength = 20000

// Compiler 编译流水线
type Compiler interface {
	Compile(ctx context.Context, in *flows.CompileInput) (*flows.CompileOutput, error)
}

// Optimizer 独立优化流程
type Optimizer interface {
	Optimize(ctx context.Context, in *flows.OptimizeInput) (*flows.OptimizeOutput, error)
}

// PromptHandler 编译、优化与评估接口
type PromptHandler struct {
	compiler   Compiler
	optimizer  Optimizer
	evaluator  services.EvaluationService
	rules      *nodes.RuleEngine
	metrics    *nodes.MetricsCalculator
	comparator *nodes.Comparator
	logger     logger.Logger
}

// NewPromptHandler 创建处理器，evaluator 应当是带降级的语义服务
func NewPromptHandler(compiler Compiler, optimizer Optimizer, evaluator services.EvaluationService, rules *nodes.RuleEngine, log logger.Logger) *PromptHandler {
	if rules == nil {
		rules = nodes.NewRuleEngine(nil)
	}
	return &PromptHandler{
		compiler:   compiler,
		optimizer:  optimizer,
		evaluator:  evaluator,
		rules:      rules,
		metrics:    nodes.NewMetricsCalculator(),
		comparator: nodes.NewComparator(),
		logger:     log,
	}
}

// CompileRequest 编译请求
type CompileRequest struct {
	UserInput         string         `json:"user_input"`
	TemplateID        string         `json:"template_id,omitempty"`
	OptimizationLevel string         `json:"optimization_level,omitempty"`
	AutoEvaluate      *bool          `json:"auto_evaluate,omitempty"`
	ExtraContext      map[string]any `json:"extra_context,omitempty"`
}

// OptimizeRequest 优化请求
type OptimizeRequest struct {
	PromptText        string         `json:"prompt_text"`
	OptimizationLevel string         `json:"optimization_level,omitempty"`
	FocusAreas        []string       `json:"focus_areas,omitempty"`
	Intent            *models.Intent `json:"intent,omitempty"`
}

// EvaluateRequest 评估请求
type EvaluateRequest struct {
	PromptText string         `json:"prompt_text"`
	Intent     *models.Intent `json:"intent,omitempty"`
}

// EvaluateResponse 评估结果，同时给出语义评估与启发式指标
type EvaluateResponse struct {
	Evaluation       *models.Evaluation        `json:"evaluation"`
	HeuristicMetrics models.QualityMetrics     `json:"heuristic_metrics"`
	Validation       *models.ValidationOutcome `json:"validation"`
}

// CompareRequest 对比请求
type CompareRequest struct {
	PromptA string         `json:"prompt_a"`
	PromptB string         `json:"prompt_b"`
	Intent  *models.Intent `json:"intent,omitempty"`
}

// CompareResponse 对比结果
type CompareResponse struct {
	VersionA   *models.Evaluation `json:"version_a"`
	VersionB   *models.Evaluation `json:"version_b"`
	Comparison *models.Comparison `json:"comparison"`
}

// Compile 编译用户需求
// POST /api/compile
func (h *PromptHandler) Compile(c *gin.Context) {
	ctx := c.Request.Context()

	var req CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "编译请求参数解析失败", "error", err)
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}
	if err := validateText("user_input", req.UserInput); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	start := time.Now()
	out, err := h.compiler.Compile(ctx, &flows.CompileInput{
		UserInput:         req.UserInput,
		TemplateID:        req.TemplateID,
		OptimizationLevel: req.OptimizationLevel,
		AutoEvaluate:      req.AutoEvaluate,
		ExtraContext:      req.ExtraContext,
	})
	if err != nil {
		code := classifyError(err)
		h.logger.ErrorContext(ctx, "编译请求处理失败",
			"duration_ms", time.Since(start).Milliseconds(),
			"code", code.String(),
			"error", err)
		respondWithError(c, code, "Prompt 编译失败", err)
		return
	}

	respondWithSuccess(c, out, "Prompt 编译成功")
}

// Optimize 优化已有 Prompt
// POST /api/optimize
func (h *PromptHandler) Optimize(c *gin.Context) {
	ctx := c.Request.Context()

	var req OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "优化请求参数解析失败", "error", err)
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}
	if err := validateText("prompt_text", req.PromptText); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	out, err := h.optimizer.Optimize(ctx, &flows.OptimizeInput{
		PromptText:        req.PromptText,
		OptimizationLevel: req.OptimizationLevel,
		FocusAreas:        req.FocusAreas,
		Intent:            req.Intent,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "优化请求处理失败", "error", err)
		respondWithError(c, classifyError(err), "Prompt 优化失败", err)
		return
	}

	respondWithSuccess(c, out, "Prompt 优化成功")
}

// Evaluate 评估 Prompt 质量
// POST /api/evaluate
func (h *PromptHandler) Evaluate(c *gin.Context) {
	ctx := c.Request.Context()

	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}
	if err := validateText("prompt_text", req.PromptText); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	ev, err := h.evaluator.Evaluate(ctx, req.PromptText, req.Intent)
	if err != nil {
		h.logger.ErrorContext(ctx, "评估请求处理失败", "error", err)
		respondWithError(c, classifyError(err), "Prompt 评估失败", err)
		return
	}

	respondWithSuccess(c, &EvaluateResponse{
		Evaluation:       ev,
		HeuristicMetrics: h.metrics.Calculate(req.PromptText),
		Validation:       h.rules.Validate(req.PromptText),
	}, "Prompt 评估成功")
}

// Compare 对比两个 Prompt 的质量
// POST /api/evaluate/compare
func (h *PromptHandler) Compare(c *gin.Context) {
	ctx := c.Request.Context()

	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}
	if err := validateText("prompt_a", req.PromptA); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}
	if err := validateText("prompt_b", req.PromptB); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}

	var evA, evB *models.Evaluation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		evA, err = h.evaluator.Evaluate(gctx, req.PromptA, req.Intent)
		return err
	})
	g.Go(func() error {
		var err error
		evB, err = h.evaluator.Evaluate(gctx, req.PromptB, req.Intent)
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.ErrorContext(ctx, "对比请求处理失败", "error", err)
		respondWithError(c, classifyError(err), "Prompt 对比失败", err)
		return
	}

	respondWithSuccess(c, &CompareResponse{
		VersionA:   evA,
		VersionB:   evB,
		Comparison: h.comparator.Compare(evA.Metrics, evB.Metrics),
	}, "Prompt 对比完成")
}

func validateText(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: field, Message: field + " 不能为空"}
	}
	if len([]rune(text)) > maxPromptLength {
		return &ValidationError{Field: field, Message: field + " 长度不能超过 20000 字符"}
	}
	return nil
}
