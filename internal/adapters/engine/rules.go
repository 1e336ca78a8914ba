package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/weft-io/weft/internal/adapters/expr"
	"github.com/weft-io/weft/internal/domain"
)

// evalRules applies AND semantics over an ordered rule list, matching the
// behavior of condition nodes.
func evalRules(rules []domain.Rule, execCtx *domain.ExecutionContext) (bool, error) {
	return evalRulesWith(rules, execCtx, nil)
}

// evalRulesWith evaluates rules against the variable scope overlaid with
// extra bindings. Filter nodes use the overlay to expose the element under
// inspection without touching shared state.
func evalRulesWith(rules []domain.Rule, execCtx *domain.ExecutionContext, extra map[string]interface{}) (bool, error) {
	for _, rule := range rules {
		ok, err := evalRule(rule, execCtx, extra)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalRule(rule domain.Rule, execCtx *domain.ExecutionContext, extra map[string]interface{}) (bool, error) {
	switch rule.Operator {
	case domain.OpAnd:
		for _, child := range rule.Children {
			ok, err := evalRule(child, execCtx, extra)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case domain.OpOr:
		for _, child := range rule.Children {
			ok, err := evalRule(child, execCtx, extra)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case domain.OpNot:
		if len(rule.Children) != 1 {
			return false, fmt.Errorf("not rule requires exactly one child")
		}
		ok, err := evalRule(rule.Children[0], execCtx, extra)
		return !ok, err
	}

	vars := scopeSnapshot(execCtx, extra)
	left, _ := lookupPath(vars, rule.Variable)
	right := resolveValueIn(rule.Value, vars)

	return compareOperands(rule.Operator, left, right)
}

func scopeSnapshot(execCtx *domain.ExecutionContext, extra map[string]interface{}) map[string]interface{} {
	vars := execCtx.Snapshot()
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func compareOperands(op domain.RuleOperator, left, right interface{}) (bool, error) {
	switch op {
	case domain.OpEquals:
		return looseEquals(left, right), nil
	case domain.OpNotEquals:
		return !looseEquals(left, right), nil

	case domain.OpGreaterThan, domain.OpGreaterOrEqual, domain.OpLessThan, domain.OpLessOrEqual:
		a, aok := toFloat(left)
		b, bok := toFloat(right)
		if !aok || !bok {
			return false, fmt.Errorf("numeric comparison requires numbers, got %T and %T", left, right)
		}
		switch op {
		case domain.OpGreaterThan:
			return a > b, nil
		case domain.OpGreaterOrEqual:
			return a >= b, nil
		case domain.OpLessThan:
			return a < b, nil
		default:
			return a <= b, nil
		}

	case domain.OpContains, domain.OpNotContains:
		contains := operandContains(left, right)
		if op == domain.OpNotContains {
			return !contains, nil
		}
		return contains, nil

	case domain.OpRegexMatch:
		pattern, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("regex rule requires a string pattern, got %T", right)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex pattern: %w", err)
		}
		return re.MatchString(expr.Stringify(left)), nil

	case domain.OpInList, domain.OpNotInList:
		found := false
		if list, ok := right.([]interface{}); ok {
			for _, item := range list {
				if looseEquals(left, item) {
					found = true
					break
				}
			}
		}
		if op == domain.OpNotInList {
			return !found, nil
		}
		return found, nil
	}

	return false, fmt.Errorf("unknown rule operator %q", op)
}

func operandContains(left, right interface{}) bool {
	switch t := left.(type) {
	case string:
		return strings.Contains(t, expr.Stringify(right))
	case []interface{}:
		for _, item := range t {
			if looseEquals(item, right) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		_, ok := t[expr.Stringify(right)]
		return ok
	}
	return false
}

func looseEquals(left, right interface{}) bool {
	if left == nil && right == nil {
		return true
	}
	if a, aok := toFloat(left); aok {
		if b, bok := toFloat(right); bok {
			return a == b
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls == rs
		}
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb
		}
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
