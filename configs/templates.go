package configs

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"prompt-compiler/internal/domain/models"
)

//go:embed templates.yaml
var builtinTemplates []byte

// templateSeed 预置模板文件中的单个模板
type templateSeed struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Role         string            `yaml:"role"`
	Objective    string            `yaml:"objective"`
	Constraints  []string          `yaml:"constraints"`
	OutputFormat string            `yaml:"output_format"`
	ContextVars  map[string]string `yaml:"context_vars"`
	TaskTypes    []string          `yaml:"applicable_task_types"`
	Domains      []string          `yaml:"applicable_domains"`
	Tags         []string          `yaml:"tags"`
}

// LoadTemplates 读取预置模板，path 为空时使用内置模板
func LoadTemplates(path string) ([]*models.Template, error) {
	data := builtinTemplates
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read templates file %s: %w", path, err)
		}
	}
	return ParseTemplates(data)
}

// ParseTemplates 解析 YAML 格式的模板列表
func ParseTemplates(data []byte) ([]*models.Template, error) {
	var doc struct {
		Templates []templateSeed `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	templates := make([]*models.Template, 0, len(doc.Templates))
	for _, s := range doc.Templates {
		taskTypes := make([]models.TaskType, 0, len(s.TaskTypes))
		for _, tt := range s.TaskTypes {
			taskTypes = append(taskTypes, models.TaskType(tt))
		}
		templates = append(templates, &models.Template{
			Name:                s.Name,
			Description:         s.Description,
			Role:                s.Role,
			Objective:           s.Objective,
			Constraints:         s.Constraints,
			OutputFormat:        s.OutputFormat,
			ContextVars:         s.ContextVars,
			ApplicableTaskTypes: taskTypes,
			ApplicableDomains:   s.Domains,
			Tags:                s.Tags,
		})
	}
	return templates, nil
}
