package nodes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"prompt-compiler/internal/domain/models"
)

// OutputFormat 导出格式
type OutputFormat string

const (
	FormatJSON     OutputFormat = "json"
	FormatYAML     OutputFormat = "yaml"
	FormatMarkdown OutputFormat = "markdown"
	FormatText     OutputFormat = "text"
)

// ParseOutputFormat 解析导出格式，空值默认为 json
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatYAML, FormatMarkdown, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", s)
	}
}

// OutputDocument 编译结果的导出结构
type OutputDocument struct {
	VersionID         string         `json:"version_id" yaml:"version_id"`
	CreatedAt         string         `json:"created_at" yaml:"created_at"`
	OptimizationLevel string         `json:"optimization_level" yaml:"optimization_level"`
	Optimized         bool           `json:"optimized" yaml:"optimized"`
	OriginalInput     string         `json:"original_input" yaml:"original_input"`
	Intent            OutputIntent   `json:"intent" yaml:"intent"`
	Prompt            OutputPrompt   `json:"prompt" yaml:"prompt"`
	TemplateID        string         `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	QualityMetrics    *OutputMetrics `json:"quality_metrics,omitempty" yaml:"quality_metrics,omitempty"`
}

type OutputIntent struct {
	TaskType    string   `json:"task_type" yaml:"task_type"`
	Domain      string   `json:"domain" yaml:"domain"`
	Objective   string   `json:"objective" yaml:"objective"`
	Constraints []string `json:"constraints" yaml:"constraints"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
}

type OutputPrompt struct {
	Role         string         `json:"role" yaml:"role"`
	Objective    string         `json:"objective" yaml:"objective"`
	Constraints  []string       `json:"constraints" yaml:"constraints"`
	OutputFormat string         `json:"output_format" yaml:"output_format"`
	Context      map[string]any `json:"context" yaml:"context"`
	FullText     string         `json:"full_text" yaml:"full_text"`
}

type OutputMetrics struct {
	Structure    float64 `json:"structure_score" yaml:"structure_score"`
	Consistency  float64 `json:"consistency_score" yaml:"consistency_score"`
	Completeness float64 `json:"completeness_score" yaml:"completeness_score"`
	Clarity      float64 `json:"clarity_score" yaml:"clarity_score"`
	Overall      float64 `json:"overall_score" yaml:"overall_score"`
}

// Formatter 编译结果格式化器
type Formatter struct{}

// NewFormatter 创建格式化器
func NewFormatter() *Formatter {
	return &Formatter{}
}

// OutputDict 构建导出结构，metrics 可以为空
func (f *Formatter) OutputDict(p *models.CompiledPrompt, metrics *models.QualityMetrics) *OutputDocument {
	doc := &OutputDocument{
		VersionID:         p.VersionID,
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
		OptimizationLevel: string(p.OptimizationLevel),
		Optimized:         p.Optimized,
		OriginalInput:     p.OriginalInput,
		Intent: OutputIntent{
			TaskType:    string(p.Intent.TaskType),
			Domain:      p.Intent.Domain,
			Objective:   p.Intent.Objective,
			Constraints: nonNil(p.Intent.Constraints),
			Keywords:    nonNil(p.Intent.Keywords),
			Confidence:  p.Intent.Confidence,
		},
		Prompt: OutputPrompt{
			Role:         p.Role,
			Objective:    p.Objective,
			Constraints:  nonNil(p.Constraints),
			OutputFormat: p.OutputFormat,
			Context:      p.Context,
			FullText:     p.FullText,
		},
		TemplateID: p.TemplateID,
	}
	if doc.Prompt.Context == nil {
		doc.Prompt.Context = map[string]any{}
	}
	if metrics != nil {
		doc.QualityMetrics = &OutputMetrics{
			Structure:    metrics.Structure,
			Consistency:  metrics.Consistency,
			Completeness: metrics.Completeness,
			Clarity:      metrics.Clarity,
			Overall:      metrics.Overall,
		}
	}
	return doc
}

// Format 按指定格式导出
func (f *Formatter) Format(p *models.CompiledPrompt, metrics *models.QualityMetrics, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(f.OutputDict(p, metrics), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal json: %w", err)
		}
		return string(data), nil
	case FormatYAML:
		data, err := yaml.Marshal(f.OutputDict(p, metrics))
		if err != nil {
			return "", fmt.Errorf("marshal yaml: %w", err)
		}
		return string(data), nil
	case FormatMarkdown:
		return f.markdown(p, metrics), nil
	case FormatText:
		return p.FullText, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", format)
	}
}

func (f *Formatter) markdown(p *models.CompiledPrompt, metrics *models.QualityMetrics) string {
	var b strings.Builder

	b.WriteString("# Compiled Prompt\n")
	fmt.Fprintf(&b, "**Version ID**: `%s`\n", p.VersionID)
	fmt.Fprintf(&b, "**Created**: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Optimization Level**: %s\n", p.OptimizationLevel)

	b.WriteString("\n## Original Input\n")
	fmt.Fprintf(&b, "```\n%s\n```\n", p.OriginalInput)

	b.WriteString("\n## Intent Analysis\n")
	fmt.Fprintf(&b, "- **Task Type**: %s\n", p.Intent.TaskType)
	fmt.Fprintf(&b, "- **Domain**: %s\n", p.Intent.Domain)
	fmt.Fprintf(&b, "- **Objective**: %s\n", p.Intent.Objective)
	fmt.Fprintf(&b, "- **Confidence**: %s\n", percent(p.Intent.Confidence))

	b.WriteString("\n## Compiled Prompt\n")
	fmt.Fprintf(&b, "```\n%s\n```\n", p.FullText)

	if metrics != nil {
		b.WriteString("\n## Quality Metrics\n")
		fmt.Fprintf(&b, "- **Structure**: %s\n", percent(metrics.Structure))
		fmt.Fprintf(&b, "- **Consistency**: %s\n", percent(metrics.Consistency))
		fmt.Fprintf(&b, "- **Completeness**: %s\n", percent(metrics.Completeness))
		fmt.Fprintf(&b, "- **Clarity**: %s\n", percent(metrics.Clarity))
		fmt.Fprintf(&b, "- **Overall**: %s\n", percent(metrics.Overall))
	}

	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
