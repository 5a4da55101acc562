package nodes

import (
	"fmt"
	"math"

	"prompt-compiler/internal/domain/models"
)

const (
	WinnerVersionA = "version_a"
	WinnerVersionB = "version_b"
)

// Comparator 版本质量对比器
type Comparator struct{}

// NewComparator 创建对比器
func NewComparator() *Comparator {
	return &Comparator{}
}

// Compare 逐维度对比两个版本，diff = b - a
func (c *Comparator) Compare(a, b models.QualityMetrics) *models.Comparison {
	dim := func(x, y float64) models.DimensionComparison {
		return models.DimensionComparison{VersionA: x, VersionB: y, Diff: y - x}
	}

	winner := WinnerVersionA
	if b.Overall > a.Overall {
		winner = WinnerVersionB
	}

	return &models.Comparison{
		Dimensions: map[string]models.DimensionComparison{
			"structure":    dim(a.Structure, b.Structure),
			"consistency":  dim(a.Consistency, b.Consistency),
			"completeness": dim(a.Completeness, b.Completeness),
			"clarity":      dim(a.Clarity, b.Clarity),
			"overall":      dim(a.Overall, b.Overall),
		},
		Winner:   winner,
		Analysis: compareAnalysis(winner, b.Overall-a.Overall),
	}
}

func compareAnalysis(winner string, diff float64) string {
	switch d := math.Abs(diff); {
	case d < 0.05:
		return "两个版本质量相近，差异不明显"
	case d < 0.15:
		return fmt.Sprintf("%s 略优于另一版本，改进幅度较小", winner)
	default:
		return fmt.Sprintf("%s 明显优于另一版本，改进效果显著", winner)
	}
}
