package nodes

import (
	"math"
	"strings"
	"testing"

	"prompt-compiler/internal/domain/models"
)

func weightedOverall(m models.QualityMetrics) float64 {
	return models.WeightStructure*m.Structure +
		models.WeightConsistency*m.Consistency +
		models.WeightCompleteness*m.Completeness +
		models.WeightClarity*m.Clarity
}

func inRange(v float64) bool {
	return v >= 0 && v <= 1
}

func TestMetricsBoundsAndWeights(t *testing.T) {
	calc := NewMetricsCalculator()

	inputs := []string{
		"",
		"短",
		"详细 简洁 专业 通俗 严肃 幽默",
		"可能 大概 也许 应该 尽量 可能 大概 也许",
		strings.Repeat("这是一段很长的没有标点的文字", 800),
		strings.Repeat("# 角色\n- 分析数据。\n", 1000),
	}

	for _, in := range inputs {
		m := calc.Calculate(in)
		for name, v := range map[string]float64{
			"structure":    m.Structure,
			"consistency":  m.Consistency,
			"completeness": m.Completeness,
			"clarity":      m.Clarity,
			"overall":      m.Overall,
		} {
			if !inRange(v) {
				t.Errorf("%s out of range for %.20q: %v", name, in, v)
			}
		}
		if math.Abs(m.Overall-weightedOverall(m)) > 1e-9 {
			t.Errorf("overall %v is not the weighted sum %v", m.Overall, weightedOverall(m))
		}
	}
}

func TestMetricsDeterministic(t *testing.T) {
	calc := NewMetricsCalculator()
	text := "# 角色\n你是一位金融分析师\n\n# 目标\n分析财报\n\n# 输出\n- 表格"

	first := calc.Calculate(text)
	for i := 0; i < 10; i++ {
		if got := calc.Calculate(text); got != first {
			t.Fatalf("metrics changed between runs: %+v vs %+v", first, got)
		}
	}
}

func TestMetricsSubScores(t *testing.T) {
	calc := NewMetricsCalculator()

	tests := []struct {
		name  string
		input string
		check func(m models.QualityMetrics) bool
		desc  string
	}{
		{
			name:  "empty text",
			input: "",
			check: func(m models.QualityMetrics) bool {
				return m.Structure == 0 && m.Consistency == 0.7 && m.Completeness == 0.1 &&
					math.Abs(m.Clarity-0.8) < 1e-9
			},
			desc: "structure 0, consistency 0.7, completeness 0.1, clarity 0.8",
		},
		{
			name:  "all contradictions",
			input: "详细 简洁 专业 通俗 严肃 幽默",
			check: func(m models.QualityMetrics) bool {
				return math.Abs(m.Consistency-0.25) < 1e-9
			},
			desc: "consistency 0.25",
		},
		{
			name:  "full structure",
			input: "# 角色\n你是专家\n# 任务\n分析\n# 输出格式\n- 列表",
			check: func(m models.QualityMetrics) bool {
				return math.Abs(m.Structure-1.0) < 1e-9
			},
			desc: "structure 1.0",
		},
		{
			name:  "bullet list marker",
			input: "• 第一项\n• 第二项",
			check: func(m models.QualityMetrics) bool {
				return math.Abs(m.Structure-0.1) < 1e-9
			},
			desc: "structure 0.1",
		},
		{
			name:  "hedge words capped",
			input: "可能 可能 可能 可能 可能 分析",
			check: func(m models.QualityMetrics) bool {
				return math.Abs(m.Clarity-0.8) < 1e-9
			},
			desc: "clarity 0.8",
		},
		{
			name:  "long sentences",
			input: strings.Repeat("字", 150) + "。",
			check: func(m models.QualityMetrics) bool {
				return math.Abs(m.Clarity-0.6) < 1e-9
			},
			desc: "clarity 0.6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := calc.Calculate(tt.input)
			if !tt.check(m) {
				t.Errorf("expected %s, got %+v", tt.desc, m)
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	calc := NewMetricsCalculator()
	stats := calc.Statistics("# 标题\n\n- 一。二！\n- 三")

	if stats.TotalLines != 4 {
		t.Errorf("expected 4 lines, got %d", stats.TotalLines)
	}
	if stats.Headings != 1 || !stats.HasSections {
		t.Errorf("expected one heading, got %+v", stats)
	}
	if stats.ListItems != 2 || !stats.HasLists {
		t.Errorf("expected two list items, got %+v", stats)
	}
	if stats.TotalSentences != 3 {
		t.Errorf("expected 3 sentences, got %d", stats.TotalSentences)
	}

	empty := calc.Statistics("")
	if empty.TotalLines != 0 || empty.AvgLineLength != 0 {
		t.Errorf("unexpected stats for empty text: %+v", empty)
	}
}

func TestReadability(t *testing.T) {
	calc := NewMetricsCalculator()

	if got := calc.Readability(""); got != 0.5 {
		t.Errorf("expected 0.5 for empty text, got %v", got)
	}
	if got := calc.Readability("# 标题\n\n第一行\n第二行"); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("expected 1.0, got %v", got)
	}
}
