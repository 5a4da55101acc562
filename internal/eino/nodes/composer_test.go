package nodes

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"prompt-compiler/internal/domain/models"
)

func analysisIntent() *models.Intent {
	return &models.Intent{
		TaskType:    models.TaskAnalysis,
		Domain:      "金融",
		Objective:   "分析财报",
		Constraints: []string{},
		Context:     map[string]any{},
		Confidence:  0.9,
	}
}

func TestComposeFromIntent(t *testing.T) {
	c := NewComposer()
	comp := c.ComposeFromIntent(analysisIntent(), "帮我写一个分析财报的AI助手")

	expected := "# 角色 (Role)\n你是一位专业的金融数据分析专家\n\n" +
		"# 任务目标 (Objective)\n分析财报\n\n" +
		"# 约束条件 (Constraints)\n无特殊约束\n\n" +
		"# 输出格式 (Output Format)\n请提供详细的分析报告，包括数据洞察和建议\n\n" +
		"# 上下文信息 (Context)\n用户需求: 帮我写一个分析财报的AI助手"

	if diff := cmp.Diff(expected, comp.Text); diff != "" {
		t.Errorf("composed text mismatch (-want +got):\n%s", diff)
	}
	if !HasStandardSections(comp.Text) {
		t.Error("expected all five sections")
	}
}

func TestComposeFromIntentUnknownTaskType(t *testing.T) {
	c := NewComposer()
	intent := &models.Intent{
		TaskType:    models.TaskOther,
		Domain:      "general",
		Objective:   "随便聊聊",
		Constraints: []string{"简短", "友好"},
		Context:     map[string]any{"b": 2, "a": 1},
	}

	comp := c.ComposeFromIntent(intent, "随便聊聊")

	if comp.Role != defaultRole {
		t.Errorf("expected default role, got %s", comp.Role)
	}
	if comp.OutputFormat != defaultOutputFormat {
		t.Errorf("expected default output format, got %s", comp.OutputFormat)
	}
	if !strings.Contains(comp.Text, "1. 简短\n2. 友好") {
		t.Errorf("expected numbered constraints, got %s", comp.Text)
	}
	if !strings.Contains(comp.Text, "- a: 1\n- b: 2") {
		t.Errorf("expected sorted context bullets, got %s", comp.Text)
	}
}

func TestComposeFromTemplate(t *testing.T) {
	c := NewComposer()
	tmpl := &models.Template{
		ID:           "tpl-1",
		Role:         "你是一位{{domain}}领域的分析师",
		Objective:    "针对{{company}}完成{{objective}}",
		Constraints:  []string{"使用{{currency}}计价"},
		OutputFormat: "Markdown 报告",
		ContextVars:  map[string]string{"company": "", "currency": "人民币"},
	}
	intent := analysisIntent()
	intent.Context = map[string]any{"company": "示例公司"}

	comp, err := c.ComposeFromTemplate(tmpl, intent, map[string]any{"currency": "美元"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if comp.Role != "你是一位金融领域的分析师" {
		t.Errorf("unexpected role: %s", comp.Role)
	}
	if comp.Objective != "针对示例公司完成分析财报" {
		t.Errorf("unexpected objective: %s", comp.Objective)
	}
	if diff := cmp.Diff([]string{"使用美元计价"}, comp.Constraints); diff != "" {
		t.Errorf("constraints mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(comp.Text, "- company: 示例公司\n- currency: 美元") {
		t.Errorf("expected merged context, got %s", comp.Text)
	}
}

func TestComposeFromTemplateUnresolved(t *testing.T) {
	c := NewComposer()
	tmpl := &models.Template{
		ID:          "tpl-2",
		Role:        "{{persona}}",
		Objective:   "处理{{company}}",
		ContextVars: map[string]string{"company": ""},
	}

	_, err := c.ComposeFromTemplate(tmpl, analysisIntent(), nil)

	var unresolved *UnresolvedVariablesError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedVariablesError, got %v", err)
	}
	if diff := cmp.Diff([]string{"company", "persona"}, unresolved.Names); diff != "" {
		t.Errorf("unresolved names mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeFromTemplateEmptyParts(t *testing.T) {
	c := NewComposer()
	tmpl := &models.Template{ID: "tpl-3", Role: "角色", Objective: "目标", OutputFormat: "格式"}

	comp, err := c.ComposeFromTemplate(tmpl, &models.Intent{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(comp.Text, SectionConstraints+"\n无\n") {
		t.Errorf("expected empty constraint marker, got %s", comp.Text)
	}
	if !strings.HasSuffix(comp.Text, SectionContext+"\n无额外上下文") {
		t.Errorf("expected empty context marker, got %s", comp.Text)
	}
}

func TestComposeSections(t *testing.T) {
	c := NewComposer()
	comp := c.ComposeSections(&models.RewriteSections{
		Role:         "分析师",
		Objective:    "分析",
		Constraints:  []string{"准确"},
		OutputFormat: "表格",
	})

	if !HasStandardSections(comp.Text) {
		t.Errorf("expected five sections, got %s", comp.Text)
	}
	if !strings.Contains(comp.Text, "1. 准确") {
		t.Errorf("expected numbered constraint, got %s", comp.Text)
	}
}

func TestParseSections(t *testing.T) {
	c := NewComposer()
	ctx := map[string]any{"来源": "年报"}

	composed := c.ComposeSections(&models.RewriteSections{
		Role:         "资深分析师",
		Objective:    "解读现金流",
		Constraints:  []string{"引用原始数据", "给出风险提示"},
		OutputFormat: "Markdown 报告",
		Context:      ctx,
	})
	parsed := c.ParseSections(composed.Text, ctx)
	if diff := cmp.Diff(composed, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	intentPath := c.ComposeFromIntent(analysisIntent(), "分析财报")
	parsed = c.ParseSections(intentPath.Text, map[string]any{})
	if parsed.Role != intentPath.Role || len(parsed.Constraints) != 0 {
		t.Errorf("intent path parsed = %+v", parsed)
	}

	plain := "请作为分析师解读这份财报，并列出三个风险。"
	parsed = c.ParseSections(plain, ctx)
	if parsed.Role != "" || parsed.Objective != "" || parsed.OutputFormat != "" || parsed.Constraints != nil {
		t.Errorf("unstructured text should clear fragments: %+v", parsed)
	}
	if parsed.Text != plain || parsed.Context["来源"] != "年报" {
		t.Errorf("text or context lost: %+v", parsed)
	}
}

func TestAddSystemPromptAndExamples(t *testing.T) {
	c := NewComposer()

	if got := c.AddSystemPrompt("正文", "保持礼貌"); got != "# 系统指令\n保持礼貌\n\n正文" {
		t.Errorf("unexpected system prompt: %q", got)
	}

	got := c.AddExamples("正文", []Example{{Input: "1+1", Output: "2"}})
	expected := "正文\n\n# 参考示例\n\n## 示例 1\n输入: 1+1\n输出: 2\n\n"
	if got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}

	if got := c.AddExamples("正文", nil); got != "正文" {
		t.Errorf("expected prompt unchanged, got %q", got)
	}
}
