package nodes

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"prompt-compiler/internal/domain/models"
)

// DefaultForbiddenWords 默认禁用词
var DefaultForbiddenWords = []string{"违法", "暴力", "色情", "赌博"}

// 推荐的结构部分，每项包含中文标记及其英文同义词
var requiredSections = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"角色", regexp.MustCompile(`(?i)(角色|role)`)},
	{"目标", regexp.MustCompile(`(?i)(目标|objective)`)},
	{"输出", regexp.MustCompile(`(?i)(输出|output)`)},
}

var (
	ruleHedgeWords  = []string{"可能", "大概", "也许", "应该", "尽量", "试试"}
	ruleActionVerbs = []string{"分析", "生成", "提取", "转换", "总结", "评估", "创建"}

	listLinePattern     = regexp.MustCompile(`^\s*[\d\-\*•]+`)
	blankRunPattern     = regexp.MustCompile(`\n{3,}`)
	headingFixPattern   = regexp.MustCompile(`(?m)^#+[ \t]+`)
	headingCountPattern = regexp.MustCompile(`(?m)^#+`)
	listCountPattern    = regexp.MustCompile(`(?m)^[ \t]*[\d\-\*]`)
	constraintPattern   = regexp.MustCompile(`必须|不能|应该|需要|禁止`)
)

const (
	minPromptLength     = 10
	shortPromptLength   = 50
	idealPromptLength   = 2000
	maxPromptLength     = 4000
	maxHedgeOccurrences = 3
)

// RuleEngine 基于规则的 Prompt 校验器
type RuleEngine struct {
	forbiddenWords []string
}

// NewRuleEngine 创建规则引擎，forbidden 为空时使用默认禁用词
func NewRuleEngine(forbidden []string) *RuleEngine {
	if len(forbidden) == 0 {
		forbidden = DefaultForbiddenWords
	}
	return &RuleEngine{forbiddenWords: append([]string(nil), forbidden...)}
}

// ValidateNode 校验 Lambda 函数
func (r *RuleEngine) ValidateNode(ctx context.Context, text string) (*models.ValidationOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Validate(text), nil
}

// Validate 执行全部校验项，各项独立追加结果
func (r *RuleEngine) Validate(text string) *models.ValidationOutcome {
	outcome := models.NewValidationOutcome()

	r.checkLength(text, outcome)
	r.checkStructure(text, outcome)
	r.checkForbidden(text, outcome)
	r.checkClarity(text, outcome)
	r.checkFormat(text, outcome)

	return outcome
}

func (r *RuleEngine) checkLength(text string, outcome *models.ValidationOutcome) {
	length := utf8.RuneCountInString(text)

	if length < minPromptLength {
		outcome.AddError("Prompt 过短（少于 10 字符），无法有效指导 AI")
	} else if length < shortPromptLength {
		outcome.AddWarning("Prompt 较短，建议增加更多细节说明")
	}

	if length > maxPromptLength {
		outcome.AddWarning("Prompt 过长，可能影响 AI 理解，建议精简")
	}

	if length >= shortPromptLength && length <= idealPromptLength {
		outcome.AddSuggestion("Prompt 长度适中")
	}
}

func (r *RuleEngine) checkStructure(text string, outcome *models.ValidationOutcome) {
	var missing []string
	for _, s := range requiredSections {
		if !s.pattern.MatchString(text) {
			missing = append(missing, s.name)
		}
	}

	if len(missing) > 0 {
		outcome.AddWarning(fmt.Sprintf("缺少推荐的结构部分: %s", strings.Join(missing, ", ")))
		outcome.AddSuggestion("建议添加明确的角色定义、任务目标和输出格式说明")
		return
	}
	outcome.AddSuggestion("Prompt 结构完整")
}

// checkForbidden 任一禁用词命中即记为错误
func (r *RuleEngine) checkForbidden(text string, outcome *models.ValidationOutcome) {
	var found []string
	for _, w := range r.forbiddenWords {
		if w != "" && strings.Contains(text, w) {
			found = append(found, w)
		}
	}
	if len(found) > 0 {
		outcome.AddError(fmt.Sprintf("包含禁用词汇: %s", strings.Join(found, ", ")))
	}
}

func (r *RuleEngine) checkClarity(text string, outcome *models.ValidationOutcome) {
	hedges := 0
	for _, w := range ruleHedgeWords {
		hedges += strings.Count(text, w)
	}
	if hedges > maxHedgeOccurrences {
		outcome.AddWarning(fmt.Sprintf("包含过多模糊词汇（%d 个），建议使用更明确的表达", hedges))
		outcome.AddSuggestion("使用 '必须'、'一定'、'明确' 等词替代模糊表达")
	}

	if !containsAny(text, ruleActionVerbs) {
		outcome.AddSuggestion("建议使用明确的动作动词来描述任务")
	}
}

func (r *RuleEngine) checkFormat(text string, outcome *models.ValidationOutcome) {
	lines := nonEmptyLines(text)

	if len(lines) == 1 {
		outcome.AddSuggestion("建议使用分段或标题来组织内容，提高可读性")
	}

	hasList := false
	for _, l := range lines {
		if listLinePattern.MatchString(l) {
			hasList = true
			break
		}
	}
	if !hasList && len(lines) > 5 {
		outcome.AddSuggestion("对于复杂内容，建议使用编号列表组织信息")
	}
}

// FixCommonIssues 修复常见格式问题：去除行尾空白、合并多余空行、规范标题标记。
// 对同一文本重复调用结果不变。
func (r *RuleEngine) FixCommonIssues(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r\f\v")
	}
	fixed := strings.Join(lines, "\n")
	fixed = blankRunPattern.ReplaceAllString(fixed, "\n\n")
	return headingFixPattern.ReplaceAllString(fixed, "# ")
}

// ComplexityScore 估算 Prompt 复杂度 [0,1]
func (r *RuleEngine) ComplexityScore(text string) float64 {
	score := 0.1
	switch length := utf8.RuneCountInString(text); {
	case length > 500:
		score = 0.3
	case length > 200:
		score = 0.2
	}

	score += math.Min(0.1*float64(len(headingCountPattern.FindAllString(text, -1))), 0.3)
	score += math.Min(0.05*float64(len(listCountPattern.FindAllString(text, -1))), 0.2)
	score += math.Min(0.05*float64(len(constraintPattern.FindAllString(text, -1))), 0.2)

	return math.Min(score, 1.0)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
