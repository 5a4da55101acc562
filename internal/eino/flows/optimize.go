package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/eino/nodes"
	"prompt-compiler/pkg/logger"
)

// OptimizeInput 独立优化请求
type OptimizeInput struct {
	PromptText        string         `json:"prompt_text"`
	OptimizationLevel string         `json:"optimization_level,omitempty"`
	FocusAreas        []string       `json:"focus_areas,omitempty"`
	Intent            *models.Intent `json:"intent,omitempty"`
}

// OptimizeOutput 独立优化结果，指标由启发式计算器给出
type OptimizeOutput struct {
	OriginalPrompt  string                `json:"original_prompt"`
	OptimizedPrompt string                `json:"optimized_prompt"`
	Improvements    []string              `json:"improvements"`
	Explanation     string                `json:"explanation,omitempty"`
	MetricsBefore   models.QualityMetrics `json:"metrics_before"`
	MetricsAfter    models.QualityMetrics `json:"metrics_after"`
	Comparison      *models.Comparison    `json:"comparison"`
	Fallback        bool                  `json:"fallback,omitempty"`
	Unchanged       bool                  `json:"unchanged,omitempty"`
}

type optimizeState struct {
	input  *OptimizeInput
	focus  []string
	before models.QualityMetrics
	result *models.RewriteResult
	text   string
}

// OptimizePipeline 独立优化流程：优化前指标 → 重写 → 优化后指标
type OptimizePipeline struct {
	rewriter   services.RewriteService
	metrics    *nodes.MetricsCalculator
	composer   *nodes.Composer
	comparator *nodes.Comparator
	handlers   []callbacks.Handler
	log        logger.Logger

	runnable compose.Runnable[*optimizeState, *OptimizeOutput]
}

// NewOptimizePipeline 创建并编译优化流程
func NewOptimizePipeline(ctx context.Context, rewriter services.RewriteService, graphName string, log logger.Logger, handlers ...callbacks.Handler) (*OptimizePipeline, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	if graphName == "" {
		graphName = "prompt_optimize"
	}
	p := &OptimizePipeline{
		rewriter:   rewriter,
		metrics:    nodes.NewMetricsCalculator(),
		composer:   nodes.NewComposer(),
		comparator: nodes.NewComparator(),
		handlers:   handlers,
		log:        log,
	}

	graph := compose.NewGraph[*optimizeState, *OptimizeOutput]()
	if err := graph.AddLambdaNode("metrics_before", compose.InvokableLambda(p.measureBefore)); err != nil {
		return nil, fmt.Errorf("add metrics_before node: %w", err)
	}
	if err := graph.AddLambdaNode("rewrite", compose.InvokableLambda(p.rewrite)); err != nil {
		return nil, fmt.Errorf("add rewrite node: %w", err)
	}
	if err := graph.AddLambdaNode("metrics_after", compose.InvokableLambda(p.measureAfter)); err != nil {
		return nil, fmt.Errorf("add metrics_after node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "metrics_before"},
		{"metrics_before", "rewrite"},
		{"rewrite", "metrics_after"},
		{"metrics_after", compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", e[0], e[1], err)
		}
	}

	runnable, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile %s graph: %w", graphName, err)
	}
	p.runnable = runnable
	return p, nil
}

// Optimize 优化已有 Prompt，FocusAreas 为空时按优化级别确定关注点
func (p *OptimizePipeline) Optimize(ctx context.Context, in *OptimizeInput) (*OptimizeOutput, error) {
	if in == nil || strings.TrimSpace(in.PromptText) == "" {
		return nil, fmt.Errorf("%w: prompt_text is empty", ErrInvalidInput)
	}
	level, err := models.ParseOptimizationLevel(in.OptimizationLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	focus := in.FocusAreas
	if len(focus) == 0 {
		focus = level.FocusAreas()
	}

	out, err := p.runnable.Invoke(ctx, &optimizeState{input: in, focus: focus}, compose.WithCallbacks(p.handlers...))
	if err != nil {
		return nil, err
	}

	p.log.InfoContext(ctx, "优化完成",
		"overall_before", out.MetricsBefore.Overall,
		"overall_after", out.MetricsAfter.Overall,
		"fallback", out.Fallback)
	return out, nil
}

func (p *OptimizePipeline) measureBefore(ctx context.Context, s *optimizeState) (*optimizeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.before = p.metrics.Calculate(s.input.PromptText)
	return s, nil
}

func (p *OptimizePipeline) rewrite(ctx context.Context, s *optimizeState) (*optimizeState, error) {
	result, err := p.rewriter.Rewrite(ctx, s.input.PromptText, s.input.Intent, s.focus)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &models.RewriteResult{Text: s.input.PromptText, Fallback: true}
	}
	s.result = result
	switch {
	case result.Sections != nil:
		s.text = p.composer.ComposeSections(result.Sections).Text
	case strings.TrimSpace(result.Text) != "":
		s.text = strings.TrimSpace(result.Text)
	default:
		s.text = s.input.PromptText
	}
	return s, nil
}

func (p *OptimizePipeline) measureAfter(ctx context.Context, s *optimizeState) (*OptimizeOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	after := p.metrics.Calculate(s.text)

	improvements := s.result.Improvements
	if improvements == nil {
		improvements = []string{}
	}
	return &OptimizeOutput{
		OriginalPrompt:  s.input.PromptText,
		OptimizedPrompt: s.text,
		Improvements:    improvements,
		Explanation:     s.result.Explanation,
		MetricsBefore:   s.before,
		MetricsAfter:    after,
		Comparison:      p.comparator.Compare(s.before, after),
		Fallback:        s.result.Fallback,
		Unchanged:       !s.result.Fallback && s.text == s.input.PromptText,
	}, nil
}
