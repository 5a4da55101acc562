package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/eino/config"
	"prompt-compiler/internal/eino/nodes"
	"prompt-compiler/pkg/logger"
)

var (
	// ErrInvalidInput 请求参数不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence 版本持久化失败
	ErrPersistence = errors.New("persistence failed")
)

// 编译流水线节点名
const (
	NodeNormalize      = "normalize"
	NodeIntent         = "intent"
	NodeSelectTemplate = "select_template"
	NodeCompose        = "compose"
	NodeValidate       = "validate"
	NodeRewrite        = "rewrite"
	NodeSelfCheck      = "self_check"
	NodeEvaluate       = "evaluate"
	NodePersist        = "persist"
)

// CompileInput 编译请求
type CompileInput struct {
	UserInput         string         `json:"user_input"`
	TemplateID        string         `json:"template_id,omitempty"`
	OptimizationLevel string         `json:"optimization_level,omitempty"`
	AutoEvaluate      *bool          `json:"auto_evaluate,omitempty"`
	ExtraContext      map[string]any `json:"extra_context,omitempty"`
}

// CompileOutput 编译结果。
// 评估失败或未请求评估时 Metrics 与 Evaluation 为空，编译仍视为成功。
type CompileOutput struct {
	CompiledPrompt  *models.CompiledPrompt    `json:"compiled_prompt"`
	Metrics         *models.QualityMetrics    `json:"metrics"`
	Evaluation      *models.Evaluation        `json:"evaluation"`
	Validation      *models.ValidationOutcome `json:"validation"`
	SelfCheck       *nodes.SelfCheckResult    `json:"self_check"`
	Suggestions     []string                  `json:"suggestions"`
	FormattedOutput *nodes.OutputDocument     `json:"formatted_output"`
}

// VersionIndexer 持久化后写入相似索引
type VersionIndexer interface {
	Index(ctx context.Context, p *models.CompiledPrompt) error
}

// Semantics 编译流水线使用的三个语义能力
type Semantics interface {
	services.IntentService
	services.RewriteService
	services.EvaluationService
}

// CompileOptions 编译流水线选项
type CompileOptions struct {
	GraphName       string
	SelfCheckPolicy string
	ForbiddenWords  []string
	IndexTimeout    time.Duration
}

// compileState 单次编译在节点间传递的状态，只在一次请求内使用
type compileState struct {
	input        *CompileInput
	level        models.OptimizationLevel
	autoEvaluate bool

	normalized string
	intent     *models.Intent

	template         *models.Template
	explicitTemplate bool

	composition *nodes.Composition
	text        string

	validation   *models.ValidationOutcome
	improvements []string
	rewritten    bool
	baseline     *nodes.Composition
	selfCheck    *nodes.SelfCheckResult
	evaluation   *models.Evaluation

	// failure 记录节点返回的业务错误，Invoke 返回后按原样交给调用方
	failure error
}

func (s *compileState) fail(err error) error {
	s.failure = err
	return err
}

// CompilePipeline 编译流水线。
// normalize → intent → select_template → compose → validate →(low 级别跳过重写)→ rewrite → self_check → evaluate → persist
type CompilePipeline struct {
	semantics Semantics
	catalog   *services.TemplateCatalog
	versions  repositories.VersionRepository
	indexer   VersionIndexer

	normalizer  *nodes.Normalizer
	composer    *nodes.Composer
	rules       *nodes.RuleEngine
	selfChecker *nodes.SelfChecker
	formatter   *nodes.Formatter

	opts     CompileOptions
	handlers []callbacks.Handler
	log      logger.Logger
	now      func() time.Time

	runnable compose.Runnable[*compileState, *CompileOutput]
}

// NewCompilePipeline 创建并编译流水线 Graph。
// 参数 semantics: 意图、重写、评估能力，调用失败时应返回降级结果。
// 参数 catalog: 模板目录。
// 参数 versions: 版本仓储。
// 参数 indexer: 相似索引，可以为空。
// 参数 opts: 流水线选项。
// 参数 log: 日志记录器。
// 参数 handlers: 运行时注入的回调处理器。
func NewCompilePipeline(
	ctx context.Context,
	semantics Semantics,
	catalog *services.TemplateCatalog,
	versions repositories.VersionRepository,
	indexer VersionIndexer,
	opts CompileOptions,
	log logger.Logger,
	handlers ...callbacks.Handler,
) (*CompilePipeline, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	if opts.GraphName == "" {
		opts.GraphName = "prompt_compile"
	}
	if opts.SelfCheckPolicy == "" {
		opts.SelfCheckPolicy = config.SelfCheckKeep
	}
	if opts.IndexTimeout <= 0 {
		opts.IndexTimeout = 10 * time.Second
	}

	rules := nodes.NewRuleEngine(opts.ForbiddenWords)
	p := &CompilePipeline{
		semantics:   semantics,
		catalog:     catalog,
		versions:    versions,
		indexer:     indexer,
		normalizer:  nodes.NewNormalizer(),
		composer:    nodes.NewComposer(),
		rules:       rules,
		selfChecker: nodes.NewSelfChecker(rules, semantics, log),
		formatter:   nodes.NewFormatter(),
		opts:        opts,
		handlers:    handlers,
		log:         log,
		now:         time.Now,
	}

	runnable, err := p.compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile %s graph: %w", opts.GraphName, err)
	}
	p.runnable = runnable
	return p, nil
}

func (p *CompilePipeline) compile(ctx context.Context) (compose.Runnable[*compileState, *CompileOutput], error) {
	graph := compose.NewGraph[*compileState, *CompileOutput]()

	steps := []struct {
		name string
		fn   func(context.Context, *compileState) (*compileState, error)
	}{
		{NodeNormalize, p.normalize},
		{NodeIntent, p.extractIntent},
		{NodeSelectTemplate, p.selectTemplate},
		{NodeCompose, p.composePrompt},
		{NodeValidate, p.validate},
		{NodeRewrite, p.rewrite},
		{NodeSelfCheck, p.selfCheck},
		{NodeEvaluate, p.evaluate},
	}
	for _, s := range steps {
		if err := graph.AddLambdaNode(s.name, compose.InvokableLambda(guard(s.fn))); err != nil {
			return nil, fmt.Errorf("add %s node: %w", s.name, err)
		}
	}
	if err := graph.AddLambdaNode(NodePersist, compose.InvokableLambda(p.persist)); err != nil {
		return nil, fmt.Errorf("add %s node: %w", NodePersist, err)
	}

	edges := [][2]string{
		{compose.START, NodeNormalize},
		{NodeNormalize, NodeIntent},
		{NodeIntent, NodeSelectTemplate},
		{NodeSelectTemplate, NodeCompose},
		{NodeCompose, NodeValidate},
		{NodeRewrite, NodeSelfCheck},
		{NodeSelfCheck, NodeEvaluate},
		{NodeEvaluate, NodePersist},
		{NodePersist, compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", e[0], e[1], err)
		}
	}

	// 最低优化级别不重写
	branch := compose.NewGraphBranch(func(ctx context.Context, s *compileState) (string, error) {
		if s.level == models.LevelLow {
			return NodeEvaluate, nil
		}
		return NodeRewrite, nil
	}, map[string]bool{
		NodeRewrite:  true,
		NodeEvaluate: true,
	})
	if err := graph.AddBranch(NodeValidate, branch); err != nil {
		return nil, fmt.Errorf("add branch: %w", err)
	}

	return graph.Compile(ctx, compose.WithGraphName(p.opts.GraphName))
}

// guard 在节点执行前检查取消，并记录节点错误
func guard(fn func(context.Context, *compileState) (*compileState, error)) func(context.Context, *compileState) (*compileState, error) {
	return func(ctx context.Context, s *compileState) (*compileState, error) {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(err)
		}
		out, err := fn(ctx, s)
		if err != nil {
			return nil, s.fail(err)
		}
		return out, nil
	}
}

// Compile 执行一次编译
func (p *CompilePipeline) Compile(ctx context.Context, in *CompileInput) (*CompileOutput, error) {
	state, err := newCompileState(in)
	if err != nil {
		return nil, err
	}

	start := p.now()
	out, err := p.runnable.Invoke(ctx, state, compose.WithCallbacks(p.handlers...))
	if err != nil {
		if state.failure != nil {
			err = state.failure
		}
		p.log.ErrorContext(ctx, "编译失败", "error", err)
		return nil, err
	}

	p.log.InfoContext(ctx, "编译完成",
		"version_id", out.CompiledPrompt.VersionID,
		"template_id", out.CompiledPrompt.TemplateID,
		"optimized", out.CompiledPrompt.Optimized,
		"duration_ms", p.now().Sub(start).Milliseconds())
	return out, nil
}

func newCompileState(in *CompileInput) (*compileState, error) {
	if in == nil || strings.TrimSpace(in.UserInput) == "" {
		return nil, fmt.Errorf("%w: user_input is empty", ErrInvalidInput)
	}
	level, err := models.ParseOptimizationLevel(in.OptimizationLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	auto := true
	if in.AutoEvaluate != nil {
		auto = *in.AutoEvaluate
	}
	return &compileState{
		input:        in,
		level:        level,
		autoEvaluate: auto,
		improvements: []string{},
	}, nil
}

func (p *CompilePipeline) normalize(ctx context.Context, s *compileState) (*compileState, error) {
	text, err := p.normalizer.Normalize(ctx, s.input.UserInput)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("%w: user_input is empty after normalization", ErrInvalidInput)
	}
	s.normalized = text
	return s, nil
}

func (p *CompilePipeline) extractIntent(ctx context.Context, s *compileState) (*compileState, error) {
	intent, err := p.semantics.Extract(ctx, s.normalized)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		intent = models.DefaultIntent(s.normalized)
	}
	s.intent = intent
	p.log.DebugContext(ctx, "意图提取完成",
		"task_type", intent.TaskType,
		"domain", intent.Domain,
		"confidence", intent.Confidence)
	return s, nil
}

func (p *CompilePipeline) selectTemplate(ctx context.Context, s *compileState) (*compileState, error) {
	if id := s.input.TemplateID; id != "" {
		t, err := p.catalog.Get(ctx, id)
		switch {
		case err == nil:
			s.template = t
			s.explicitTemplate = true
			return s, nil
		case errors.Is(err, repositories.ErrNotFound):
			p.log.WarnContext(ctx, "指定模板不存在，使用无模板组合", "template_id", id)
			return s, nil
		default:
			return nil, fmt.Errorf("get template %s: %w", id, err)
		}
	}

	t, err := p.catalog.FindBest(ctx, s.intent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.WarnContext(ctx, "模板匹配失败，使用无模板组合", "error", err)
		return s, nil
	}
	s.template = t
	return s, nil
}

func (p *CompilePipeline) composePrompt(ctx context.Context, s *compileState) (*compileState, error) {
	if s.template != nil {
		comp, err := p.composer.ComposeFromTemplate(s.template, s.intent, s.input.ExtraContext)
		switch {
		case err == nil:
			s.composition = comp
			s.text = comp.Text
			if _, err := p.catalog.IncrementUsage(ctx, s.template.ID); err != nil {
				p.log.WarnContext(ctx, "模板使用次数更新失败", "template_id", s.template.ID, "error", err)
			}
			return s, nil
		case s.explicitTemplate:
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		default:
			p.log.WarnContext(ctx, "模板渲染失败，使用无模板组合", "template_id", s.template.ID, "error", err)
			s.template = nil
		}
	}

	intent := s.intent
	if len(s.input.ExtraContext) > 0 {
		merged := *s.intent
		merged.Context = make(map[string]any, len(s.intent.Context)+len(s.input.ExtraContext))
		for k, v := range s.intent.Context {
			merged.Context[k] = v
		}
		for k, v := range s.input.ExtraContext {
			merged.Context[k] = v
		}
		intent = &merged
	}
	s.composition = p.composer.ComposeFromIntent(intent, s.normalized)
	s.text = s.composition.Text
	return s, nil
}

func (p *CompilePipeline) validate(ctx context.Context, s *compileState) (*compileState, error) {
	s.validation = p.rules.Validate(s.text)
	if !s.validation.Passed {
		// 只修复一次，不再重新校验
		p.log.WarnContext(ctx, "规则校验未通过，执行自动修复", "errors", s.validation.Errors)
		s.text = p.rules.FixCommonIssues(s.text)
		s.composition.Text = s.text
	}
	return s, nil
}

func (p *CompilePipeline) rewrite(ctx context.Context, s *compileState) (*compileState, error) {
	result, err := p.semantics.Rewrite(ctx, s.text, s.intent, s.level.FocusAreas())
	if err != nil {
		return nil, err
	}
	if result == nil || result.Fallback {
		p.log.WarnContext(ctx, "重写未生效，保留当前文本")
		return s, nil
	}
	if result.Unchanged || (result.Sections == nil && strings.TrimSpace(result.Text) == s.text) {
		p.log.InfoContext(ctx, "重写结果与当前文本相同，跳过自检")
		return s, nil
	}

	var next *nodes.Composition
	if result.Sections != nil {
		next = p.composer.ComposeSections(result.Sections)
	} else {
		text := strings.TrimSpace(result.Text)
		if text == "" {
			p.log.WarnContext(ctx, "重写结果为空，保留当前文本")
			return s, nil
		}
		next = p.composer.ParseSections(text, s.composition.Context)
	}

	s.baseline = s.composition
	s.composition = next
	s.text = next.Text
	s.rewritten = true
	s.improvements = append(s.improvements, result.Improvements...)
	return s, nil
}

func (p *CompilePipeline) selfCheck(ctx context.Context, s *compileState) (*compileState, error) {
	if !s.rewritten {
		return s, nil
	}

	result, err := p.selfChecker.Check(ctx, s.text, s.baseline.Text, s.intent)
	if err != nil {
		return nil, err
	}
	s.selfCheck = result
	if result.Passed {
		return s, nil
	}

	p.log.WarnContext(ctx, "自检未通过",
		"policy", p.opts.SelfCheckPolicy,
		"recommendation", result.Recommendation)
	if p.opts.SelfCheckPolicy == config.SelfCheckRevert {
		s.composition = s.baseline
		s.text = s.baseline.Text
		s.rewritten = false
	}
	return s, nil
}

func (p *CompilePipeline) evaluate(ctx context.Context, s *compileState) (*compileState, error) {
	if !s.autoEvaluate {
		return s, nil
	}

	ev, err := p.semantics.Evaluate(ctx, s.text, s.intent)
	if err != nil {
		return nil, err
	}
	if ev == nil || ev.Fallback {
		p.log.WarnContext(ctx, "质量评估不可用，结果中不包含指标")
		return s, nil
	}
	s.evaluation = ev

	if s.template != nil {
		if _, err := p.catalog.UpdateQualityScore(ctx, s.template.ID, ev.Metrics.Overall); err != nil {
			p.log.WarnContext(ctx, "模板质量分更新失败", "template_id", s.template.ID, "error", err)
		}
	}
	return s, nil
}

// persist 保存版本。保存成功后操作不可取消，评估记录与相似索引使用不可取消的上下文。
func (p *CompilePipeline) persist(ctx context.Context, s *compileState) (*CompileOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail(err)
	}

	prompt := p.buildVersion(s)
	if err := p.versions.Save(ctx, prompt); err != nil {
		return nil, s.fail(fmt.Errorf("%w: save version: %w", ErrPersistence, err))
	}

	detached := context.WithoutCancel(ctx)
	if s.evaluation != nil {
		record := &models.EvaluationRecord{
			EvaluationID: uuid.NewString(),
			VersionID:    prompt.VersionID,
			Metrics:      s.evaluation.Metrics,
			Strengths:    s.evaluation.Strengths,
			Weaknesses:   s.evaluation.Weaknesses,
			Suggestions:  s.evaluation.Suggestions,
			Analysis:     s.evaluation.Analysis,
			EvaluatedAt:  prompt.CreatedAt,
		}
		if err := p.versions.SaveEvaluation(detached, record); err != nil {
			p.log.ErrorContext(ctx, "评估记录保存失败", "version_id", prompt.VersionID, "error", err)
		}
	}

	if p.indexer != nil {
		indexCtx, cancel := context.WithTimeout(detached, p.opts.IndexTimeout)
		if err := p.indexer.Index(indexCtx, prompt); err != nil {
			p.log.WarnContext(ctx, "相似索引写入失败", "version_id", prompt.VersionID, "error", err)
		}
		cancel()
	}

	out := &CompileOutput{
		CompiledPrompt: prompt,
		Evaluation:     s.evaluation,
		Validation:     s.validation,
		SelfCheck:      s.selfCheck,
		Suggestions:    append(append([]string{}, s.validation.Suggestions...), s.improvements...),
	}
	if s.evaluation != nil {
		m := s.evaluation.Metrics
		out.Metrics = &m
	}
	out.FormattedOutput = p.formatter.OutputDict(prompt, out.Metrics)
	return out, nil
}

func (p *CompilePipeline) buildVersion(s *compileState) *models.CompiledPrompt {
	comp := s.composition
	prompt := &models.CompiledPrompt{
		VersionID:         uuid.NewString(),
		OriginalInput:     s.input.UserInput,
		Intent:            *s.intent,
		Role:              comp.Role,
		Objective:         comp.Objective,
		Constraints:       nonNilStrings(comp.Constraints),
		OutputFormat:      comp.OutputFormat,
		Context:           comp.Context,
		FullText:          s.text,
		OptimizationLevel: s.level,
		Optimized:         s.rewritten,
		CreatedAt:         p.now().UTC(),
	}
	if prompt.Context == nil {
		prompt.Context = map[string]any{}
	}
	if s.template != nil {
		prompt.TemplateID = s.template.ID
	}
	return prompt
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
