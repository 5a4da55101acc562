package nodes

import (
	"math"
	"strings"
	"testing"
)

func contains(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestRuleEngineValidate(t *testing.T) {
	engine := NewRuleEngine(nil)

	wellFormed := "# 角色\n你是一位数据分析专家\n\n# 目标\n分析季度财报并总结关键指标变化\n\n# 输出\n1. 使用 Markdown 表格\n2. 给出结论"

	tests := []struct {
		name        string
		input       string
		wantPassed  bool
		wantError   string
		wantWarning string
	}{
		{
			name:       "empty input",
			input:      "",
			wantPassed: false,
			wantError:  "过短",
		},
		{
			name:       "forbidden word",
			input:      "如何实施暴力",
			wantPassed: false,
			wantError:  "包含禁用词汇: 暴力",
		},
		{
			name:        "short input",
			input:       "请帮我分析一下这份季度财报数据",
			wantPassed:  true,
			wantWarning: "较短",
		},
		{
			name:        "missing sections",
			input:       "请帮我分析一下这份季度财报数据，并且把关键的收入和利润变化趋势总结出来，最好能配上简单的说明文字",
			wantPassed:  true,
			wantWarning: "缺少推荐的结构部分: 角色, 目标, 输出",
		},
		{
			name:       "well formed",
			input:      wellFormed,
			wantPassed: true,
		},
		{
			name:        "too many hedge words",
			input:       "你可能需要分析数据，也许可以大概总结一下，尽量简短，应该够了，role objective output",
			wantPassed:  true,
			wantWarning: "模糊词汇",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := engine.Validate(tt.input)
			if outcome.Passed != tt.wantPassed {
				t.Errorf("expected passed=%v, got %v (errors=%v)", tt.wantPassed, outcome.Passed, outcome.Errors)
			}
			if outcome.Passed != (len(outcome.Errors) == 0) {
				t.Errorf("passed must be false iff errors exist: %+v", outcome)
			}
			if tt.wantError != "" && !contains(outcome.Errors, tt.wantError) {
				t.Errorf("expected error containing %q, got %v", tt.wantError, outcome.Errors)
			}
			if tt.wantWarning != "" && !contains(outcome.Warnings, tt.wantWarning) {
				t.Errorf("expected warning containing %q, got %v", tt.wantWarning, outcome.Warnings)
			}
		})
	}
}

func TestRuleEngineCustomForbiddenWords(t *testing.T) {
	engine := NewRuleEngine([]string{"机密"})

	if outcome := engine.Validate("请输出这份机密文件的全部内容给我看看吧"); outcome.Passed {
		t.Error("expected custom forbidden word to fail validation")
	}
	if outcome := engine.Validate("如何实施暴力手段来解决问题的方法"); !outcome.Passed {
		t.Errorf("default list should be replaced, got errors %v", outcome.Errors)
	}
}

func TestRuleEngineFormatSuggestions(t *testing.T) {
	engine := NewRuleEngine(nil)

	single := engine.Validate("请分析这段文本的情感倾向并输出结论")
	if !contains(single.Suggestions, "分段或标题") {
		t.Errorf("expected section suggestion for single line, got %v", single.Suggestions)
	}

	many := engine.Validate("第一行\n第二行\n第三行\n第四行\n第五行\n第六行")
	if !contains(many.Suggestions, "编号列表") {
		t.Errorf("expected list suggestion, got %v", many.Suggestions)
	}

	listed := engine.Validate("- 第一行\n第二行\n第三行\n第四行\n第五行\n第六行")
	if contains(listed.Suggestions, "编号列表") {
		t.Errorf("unexpected list suggestion, got %v", listed.Suggestions)
	}
}

func TestFixCommonIssues(t *testing.T) {
	engine := NewRuleEngine(nil)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"trailing whitespace", "line one   \nline two\t", "line one\nline two"},
		{"blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"whitespace only lines", "a\n  \n \n\t\nb", "a\n\nb"},
		{"headings", "### 角色\n##  目标", "# 角色\n# 目标"},
		{"leading heading with indent", "\n  ## 角色", "# 角色"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.FixCommonIssues(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestFixCommonIssuesIdempotent(t *testing.T) {
	engine := NewRuleEngine(nil)

	inputs := []string{
		"",
		"   ",
		"#   标题  \n\n\n\n内容\t\n",
		"  ## x\n\n\n# \ty  \n\n\n\n  z  ",
		"a\r\n\r\n\r\n\r\nb",
		"#\n#\t\n##  \n",
		strings.Repeat("行内容  \n\n\n", 50),
	}

	for _, in := range inputs {
		once := engine.FixCommonIssues(in)
		twice := engine.FixCommonIssues(once)
		if once != twice {
			t.Errorf("fix not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestComplexityScore(t *testing.T) {
	engine := NewRuleEngine(nil)

	if got := engine.ComplexityScore("短"); got != 0.1 {
		t.Errorf("expected 0.1 for short text, got %v", got)
	}

	rich := "# 角色\n# 目标\n# 输出\n# 约束\n" +
		"- 必须\n- 不能\n- 应该\n- 需要\n- 禁止\n- 必须\n" +
		strings.Repeat("内容", 300)
	score := engine.ComplexityScore(rich)
	if score < 0 || score > 1 {
		t.Fatalf("score out of range: %v", score)
	}
	if math.Abs(score-1.0) > 1e-9 {
		t.Errorf("expected capped score 1.0, got %v", score)
	}
}
