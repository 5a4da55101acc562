package nodes

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"prompt-compiler/internal/domain/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// 所有模板都隐式声明的内置变量
var builtinVars = []string{"domain", "task_type", "objective"}

// UnresolvedVariablesError 模板中存在未声明或取值为空的占位符
type UnresolvedVariablesError struct {
	TemplateID string
	Names      []string
}

func (e *UnresolvedVariablesError) Error() string {
	return fmt.Sprintf("template %s has unresolved variables: %s", e.TemplateID, strings.Join(e.Names, ", "))
}

// RenderedTemplate 变量替换后的模板片段
type RenderedTemplate struct {
	Role         string
	Objective    string
	Constraints  []string
	OutputFormat string
}

// RenderTemplate 替换模板中的 {{name}} 占位符。
// 取值顺序为 extra、intent.Context、内置意图字段或模板声明的默认值。
// 只要有一个占位符无法解析就返回错误，不做部分替换。
func RenderTemplate(t *models.Template, intent *models.Intent, extra map[string]any) (*RenderedTemplate, error) {
	declared := make(map[string]string, len(t.ContextVars)+len(builtinVars))
	for k, v := range t.ContextVars {
		declared[k] = v
	}
	if intent != nil {
		declared["domain"] = intent.Domain
		declared["task_type"] = string(intent.TaskType)
		declared["objective"] = intent.Objective
	} else {
		for _, b := range builtinVars {
			if _, ok := declared[b]; !ok {
				declared[b] = ""
			}
		}
	}

	unresolved := make(map[string]struct{})
	resolve := func(name string) (string, bool) {
		def, ok := declared[name]
		if !ok {
			return "", false
		}
		if v, ok := lookupValue(extra, name); ok {
			return v, true
		}
		if intent != nil {
			if v, ok := lookupValue(intent.Context, name); ok {
				return v, true
			}
		}
		return def, def != ""
	}

	render := func(s string) string {
		return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := placeholderPattern.FindStringSubmatch(m)[1]
			v, ok := resolve(name)
			if !ok {
				unresolved[name] = struct{}{}
				return m
			}
			return v
		})
	}

	out := &RenderedTemplate{
		Role:         render(t.Role),
		Objective:    render(t.Objective),
		OutputFormat: render(t.OutputFormat),
	}
	if len(t.Constraints) > 0 {
		out.Constraints = make([]string, len(t.Constraints))
		for i, c := range t.Constraints {
			out.Constraints[i] = render(c)
		}
	}

	if len(unresolved) > 0 {
		names := make([]string, 0, len(unresolved))
		for n := range unresolved {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &UnresolvedVariablesError{TemplateID: t.ID, Names: names}
	}
	return out, nil
}

// TemplatePlaceholders 返回模板中出现的全部占位符名称（去重、排序）
func TemplatePlaceholders(t *models.Template) []string {
	seen := make(map[string]struct{})
	collect := func(s string) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	collect(t.Role)
	collect(t.Objective)
	collect(t.OutputFormat)
	for _, c := range t.Constraints {
		collect(c)
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UndeclaredPlaceholders 返回模板中引用但未声明的变量
func UndeclaredPlaceholders(t *models.Template) []string {
	var out []string
	for _, n := range TemplatePlaceholders(t) {
		if _, ok := t.ContextVars[n]; ok {
			continue
		}
		builtin := false
		for _, b := range builtinVars {
			if b == n {
				builtin = true
				break
			}
		}
		if !builtin {
			out = append(out, n)
		}
	}
	return out
}

func lookupValue(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	return s, s != ""
}
