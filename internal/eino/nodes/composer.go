package nodes

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"prompt-compiler/internal/domain/models"
)

var listNumberPattern = regexp.MustCompile(`^(\d+[.)、]|[-*•])\s*`)

// 标准五段结构的标题
const (
	SectionRole         = "# 角色 (Role)"
	SectionObjective    = "# 任务目标 (Objective)"
	SectionConstraints  = "# 约束条件 (Constraints)"
	SectionOutputFormat = "# 输出格式 (Output Format)"
	SectionContext      = "# 上下文信息 (Context)"
)

// StandardSections 五段结构标题，按输出顺序排列
var StandardSections = []string{
	SectionRole, SectionObjective, SectionConstraints, SectionOutputFormat, SectionContext,
}

const (
	defaultRole         = "你是一位专业的AI助手"
	defaultOutputFormat = "请以清晰、准确的方式呈现结果"
)

var roleTable = map[models.TaskType]string{
	models.TaskGeneration:     "你是一位专业的内容创作专家",
	models.TaskAnalysis:       "你是一位专业的%s数据分析专家",
	models.TaskConversation:   "你是一位经验丰富的对话助手",
	models.TaskExtraction:     "你是一位精准的信息提取专家",
	models.TaskTransformation: "你是一位专业的格式转换专家",
	models.TaskReasoning:      "你是一位逻辑严密的推理专家",
}

var outputFormatTable = map[models.TaskType]string{
	models.TaskGeneration:     "请以清晰、结构化的方式呈现生成的内容",
	models.TaskAnalysis:       "请提供详细的分析报告，包括数据洞察和建议",
	models.TaskConversation:   "请以自然、友好的对话方式回复",
	models.TaskExtraction:     "请以结构化的格式（如 JSON 或表格）呈现提取的信息",
	models.TaskTransformation: "请输出转换后的格式，确保格式正确",
	models.TaskReasoning:      "请展示推理过程，并给出最终结论",
}

// Composition 组合结果，保留各片段以便持久化
type Composition struct {
	Role         string
	Objective    string
	Constraints  []string
	OutputFormat string
	Context      map[string]any
	Text         string
}

// Example 参考示例
type Example struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Composer 片段组合器
type Composer struct{}

// NewComposer 创建片段组合器
func NewComposer() *Composer {
	return &Composer{}
}

// ComposeFromTemplate 使用模板组合 Prompt，extra 中的上下文覆盖意图上下文
func (c *Composer) ComposeFromTemplate(t *models.Template, intent *models.Intent, extra map[string]any) (*Composition, error) {
	rendered, err := RenderTemplate(t, intent, extra)
	if err != nil {
		return nil, err
	}

	ctx := make(map[string]any)
	if intent != nil {
		for k, v := range intent.Context {
			ctx[k] = v
		}
	}
	for k, v := range extra {
		ctx[k] = v
	}

	comp := &Composition{
		Role:         rendered.Role,
		Objective:    rendered.Objective,
		Constraints:  rendered.Constraints,
		OutputFormat: rendered.OutputFormat,
		Context:      ctx,
	}
	comp.Text = renderSections(
		comp.Role,
		comp.Objective,
		formatList(comp.Constraints, "无"),
		comp.OutputFormat,
		formatContext(ctx, "无额外上下文"),
	)
	return comp, nil
}

// ComposeFromIntent 不使用模板，按任务类型生成角色和输出格式
func (c *Composer) ComposeFromIntent(intent *models.Intent, userInput string) *Composition {
	if intent == nil {
		intent = models.DefaultIntent(userInput)
	}

	ctx := make(map[string]any, len(intent.Context))
	for k, v := range intent.Context {
		ctx[k] = v
	}

	comp := &Composition{
		Role:         RoleFor(intent),
		Objective:    intent.Objective,
		Constraints:  append([]string(nil), intent.Constraints...),
		OutputFormat: OutputFormatFor(intent.TaskType),
		Context:      ctx,
	}
	comp.Text = renderSections(
		comp.Role,
		comp.Objective,
		formatList(comp.Constraints, "无特殊约束"),
		comp.OutputFormat,
		formatContext(ctx, "用户需求: "+userInput),
	)
	return comp
}

// ComposeSections 将结构化重写结果展开为五段布局
func (c *Composer) ComposeSections(s *models.RewriteSections) *Composition {
	comp := &Composition{
		Role:         s.Role,
		Objective:    s.Objective,
		Constraints:  append([]string(nil), s.Constraints...),
		OutputFormat: s.OutputFormat,
		Context:      s.Context,
	}
	comp.Text = renderSections(
		s.Role,
		s.Objective,
		formatList(s.Constraints, "无"),
		s.OutputFormat,
		formatContext(s.Context, "无额外上下文"),
	)
	return comp
}

// ParseSections 从纯文本 Prompt 中还原各片段。
// 五段标题齐全且按顺序出现时拆分各段正文，否则只保留全文，片段字段留空。
// ctx 为本次请求的上下文，原样保留。
func (c *Composer) ParseSections(text string, ctx map[string]any) *Composition {
	comp := &Composition{Context: ctx, Text: text}

	starts := make([]int, len(StandardSections))
	prev := -1
	for i, h := range StandardSections {
		idx := strings.Index(text, h)
		if idx <= prev {
			return comp
		}
		starts[i] = idx
		prev = idx
	}

	bodies := make([]string, len(StandardSections))
	for i, h := range StandardSections {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		bodies[i] = strings.TrimSpace(text[starts[i]+len(h) : end])
	}

	comp.Role = bodies[0]
	comp.Objective = bodies[1]
	comp.Constraints = parseList(bodies[2])
	comp.OutputFormat = bodies[3]
	return comp
}

// AddSystemPrompt 在 Prompt 前添加系统指令
func (c *Composer) AddSystemPrompt(prompt, instructions string) string {
	return fmt.Sprintf("# 系统指令\n%s\n\n%s", instructions, prompt)
}

// AddExamples 在 Prompt 后追加参考示例
func (c *Composer) AddExamples(prompt string, examples []Example) string {
	if len(examples) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString("# 参考示例\n\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "## 示例 %d\n", i+1)
		fmt.Fprintf(&b, "输入: %s\n", ex.Input)
		fmt.Fprintf(&b, "输出: %s\n\n", ex.Output)
	}
	return prompt + "\n\n" + b.String()
}

// RoleFor 按任务类型选择默认角色
func RoleFor(intent *models.Intent) string {
	role, ok := roleTable[intent.TaskType]
	if !ok {
		return defaultRole
	}
	if intent.TaskType == models.TaskAnalysis {
		return fmt.Sprintf(role, intent.Domain)
	}
	return role
}

// OutputFormatFor 按任务类型选择默认输出格式
func OutputFormatFor(taskType models.TaskType) string {
	if f, ok := outputFormatTable[taskType]; ok {
		return f
	}
	return defaultOutputFormat
}

// HasStandardSections 判断文本是否包含全部五段标题
func HasStandardSections(text string) bool {
	for _, s := range StandardSections {
		if !strings.Contains(text, s) {
			return false
		}
	}
	return true
}

func renderSections(role, objective, constraints, outputFormat, context string) string {
	bodies := []string{role, objective, constraints, outputFormat, context}
	parts := make([]string, len(StandardSections))
	for i, h := range StandardSections {
		parts[i] = h + "\n" + bodies[i]
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func formatList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return strings.Join(lines, "\n")
}

// parseList 还原 formatList 的输出，占位文本视为空列表
func parseList(body string) []string {
	items := []string{}
	if body == "无" || body == "无特殊约束" {
		return items
	}
	for _, line := range strings.Split(body, "\n") {
		item := strings.TrimSpace(listNumberPattern.ReplaceAllString(strings.TrimSpace(line), ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// formatContext 每个键一行，按键名排序
func formatContext(ctx map[string]any, empty string) string {
	if len(ctx) == 0 {
		return empty
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("- %s: %v", k, ctx[k])
	}
	return strings.Join(lines, "\n")
}
