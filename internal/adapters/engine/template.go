package engine

import (
	"regexp"
	"strings"

	"github.com/weft-io/weft/internal/adapters/expr"
	"github.com/weft-io/weft/internal/domain"
)

var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// renderTemplate substitutes {{variableName}} placeholders against the
// current variable scope. Dotted names walk into nested objects. Unknown
// variables render as empty strings.
func renderTemplate(template string, execCtx *domain.ExecutionContext) string {
	return renderTemplateIn(template, execCtx.Snapshot())
}

func renderTemplateIn(template string, vars map[string]interface{}) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	return templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		name := templatePattern.FindStringSubmatch(match)[1]
		value, ok := lookupPath(vars, name)
		if !ok {
			return ""
		}
		return expr.Stringify(value)
	})
}

// renderTemplateMap renders every value of a string map.
func renderTemplateMap(in map[string]string, execCtx *domain.ExecutionContext) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = renderTemplate(v, execCtx)
	}
	return out
}

func lookupPath(vars map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = vars
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// resolveValue materializes a rule operand: strings go through template
// substitution, everything else passes through as a literal.
func resolveValue(value interface{}, execCtx *domain.ExecutionContext) interface{} {
	return resolveValueIn(value, execCtx.Snapshot())
}

func resolveValueIn(value interface{}, vars map[string]interface{}) interface{} {
	if s, ok := value.(string); ok {
		// A bare "{{name}}" resolves to the variable's value, preserving its
		// type; embedded placeholders produce a string.
		if m := templatePattern.FindStringSubmatch(strings.TrimSpace(s)); m != nil && strings.TrimSpace(s) == m[0] {
			if v, ok := lookupPath(vars, m[1]); ok {
				return v
			}
			return nil
		}
		return renderTemplateIn(s, vars)
	}
	return value
}
