package nodes

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"prompt-compiler/internal/domain/models"
)

var (
	headingPattern   = regexp.MustCompile(`(?m)^#+[ \t]+`)
	listItemPattern  = regexp.MustCompile(`(?m)^[ \t]*[\d\-\*•]`)
	sentenceSplitter = regexp.MustCompile(`[。.!！?？]`)

	structureGroups = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(角色|role|你是)`),
		regexp.MustCompile(`(?i)(目标|objective|任务|task)`),
		regexp.MustCompile(`(?i)(输出|output|格式|format)`),
	}

	completenessGroups = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(角色|role)`),
		regexp.MustCompile(`(?i)(目标|objective|任务)`),
		regexp.MustCompile(`(?i)(输出|output)`),
		regexp.MustCompile(`(?i)(上下文|context|背景)`),
	}

	contradictoryPairs = [][2]string{
		{"详细", "简洁"},
		{"专业", "通俗"},
		{"严肃", "幽默"},
	}

	metricHedgeWords  = []string{"可能", "大概", "也许", "应该", "尽量"}
	metricActionVerbs = []string{"分析", "生成", "提取", "转换", "总结", "创建"}
)

const longSentenceThreshold = 100

// TextStatistics 文本统计信息
type TextStatistics struct {
	TotalCharacters  int     `json:"total_characters"`
	TotalLines       int     `json:"total_lines"`
	TotalWords       int     `json:"total_words"`
	TotalSentences   int     `json:"total_sentences"`
	Headings         int     `json:"headings"`
	ListItems        int     `json:"list_items"`
	AvgLineLength    float64 `json:"avg_line_length"`
	HasSections      bool    `json:"has_sections"`
	HasLists         bool    `json:"has_lists"`
	ReadabilityScore float64 `json:"readability_score"`
}

// MetricsCalculator 基于启发式规则的质量指标计算器，结果只取决于输入文本
type MetricsCalculator struct{}

// NewMetricsCalculator 创建指标计算器
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// CalculateNode 指标计算 Lambda 函数
func (m *MetricsCalculator) CalculateNode(ctx context.Context, text string) (*models.QualityMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics := m.Calculate(text)
	return &metrics, nil
}

// Calculate 计算四项子分数与综合得分
func (m *MetricsCalculator) Calculate(text string) models.QualityMetrics {
	return models.NewQualityMetrics(
		m.structureScore(text),
		m.consistencyScore(text),
		m.completenessScore(text),
		m.clarityScore(text),
	)
}

func (m *MetricsCalculator) structureScore(text string) float64 {
	score := 0.0
	if headingPattern.MatchString(text) {
		score += 0.3
	}
	for _, g := range structureGroups {
		if g.MatchString(text) {
			score += 0.2
		}
	}
	if listItemPattern.MatchString(text) {
		score += 0.1
	}
	return math.Min(score, 1.0)
}

func (m *MetricsCalculator) consistencyScore(text string) float64 {
	score := 0.7
	for _, pair := range contradictoryPairs {
		if strings.Contains(text, pair[0]) && strings.Contains(text, pair[1]) {
			score -= 0.15
		}
	}
	return math.Max(score, 0)
}

func (m *MetricsCalculator) completenessScore(text string) float64 {
	score := 0.1
	switch length := utf8.RuneCountInString(text); {
	case length >= 100:
		score = 0.3
	case length >= 50:
		score = 0.2
	}
	for _, g := range completenessGroups {
		if g.MatchString(text) {
			score += 0.15
		}
	}
	return math.Min(score, 1.0)
}

func (m *MetricsCalculator) clarityScore(text string) float64 {
	score := 1.0

	hedges := 0
	for _, w := range metricHedgeWords {
		hedges += strings.Count(text, w)
	}
	score -= math.Min(0.1*float64(hedges), 0.3)

	if containsAny(text, metricActionVerbs) {
		score += 0.1
	} else {
		score -= 0.2
	}

	if meanSentenceLength(text) > longSentenceThreshold {
		score -= 0.2
	}

	return models.Clamp01(score)
}

// Statistics 统计文本的基本信息
func (m *MetricsCalculator) Statistics(text string) TextStatistics {
	lines := strings.Split(text, "\n")
	stats := TextStatistics{
		TotalCharacters:  utf8.RuneCountInString(text),
		TotalWords:       len(strings.Fields(text)),
		TotalSentences:   len(sentences(text)),
		Headings:         len(headingPattern.FindAllString(text, -1)),
		ListItems:        len(listItemPattern.FindAllString(text, -1)),
		ReadabilityScore: m.Readability(text),
	}
	if text != "" {
		stats.TotalLines = len(lines)
		total := 0
		for _, l := range lines {
			total += utf8.RuneCountInString(l)
		}
		stats.AvgLineLength = float64(total) / float64(len(lines))
	}
	stats.HasSections = stats.Headings > 0
	stats.HasLists = stats.ListItems > 0
	return stats
}

// Readability 可读性评分 [0,1]
func (m *MetricsCalculator) Readability(text string) float64 {
	score := 0.5

	lines := strings.Split(text, "\n")
	nonEmpty := len(nonEmptyLines(text))
	if nonEmpty >= 3 && nonEmpty <= 20 {
		score += 0.2
	}

	for _, l := range lines {
		if strings.TrimSpace(l) == "" && text != "" {
			score += 0.1
			break
		}
	}

	if headingPattern.MatchString(text) || listItemPattern.MatchString(text) {
		score += 0.2
	}

	return math.Min(score, 1.0)
}

// sentences 按句末标点切分，忽略空片段
func sentences(text string) []string {
	var out []string
	for _, s := range sentenceSplitter.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func meanSentenceLength(text string) float64 {
	parts := sentences(text)
	if len(parts) == 0 {
		return 0
	}
	total := 0
	for _, s := range parts {
		total += utf8.RuneCountInString(s)
	}
	return float64(total) / float64(len(parts))
}
