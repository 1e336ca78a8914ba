package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/weft-io/weft/internal/domain"
)

// Evaluator interprets parsed expressions against a variable snapshot. Each
// Evaluate call is bounded by its own wall-clock deadline, independent of the
// surrounding execution deadline.
type Evaluator struct {
	timeout time.Duration
}

func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Evaluator{timeout: timeout}
}

type evalState struct {
	vars     map[string]interface{}
	deadline time.Time
	steps    int
}

const maxEvalSteps = 100000

// Evaluate parses and interprets src with the given variables visible.
func (e *Evaluator) Evaluate(src string, vars map[string]interface{}) (interface{}, error) {
	ast, err := Parse(src)
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "expression parse error",
			Details: map[string]interface{}{
				"expression": src,
				"error":      err.Error(),
			},
		}
	}

	state := &evalState{
		vars:     vars,
		deadline: time.Now().Add(e.timeout),
	}

	value, err := eval(ast, state)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func eval(n node, s *evalState) (interface{}, error) {
	s.steps++
	if s.steps%256 == 0 && time.Now().After(s.deadline) {
		return nil, domain.NewTimeoutError("expression evaluation")
	}
	if s.steps > maxEvalSteps {
		return nil, domain.Error{
			Type:    domain.ErrorTypeLimitExceeded,
			Message: "expression evaluation step limit reached",
		}
	}

	switch t := n.(type) {
	case *literalNode:
		return t.value, nil

	case *identNode:
		v, ok := s.vars[t.name]
		if !ok {
			return nil, nil
		}
		return v, nil

	case *memberNode:
		target, err := eval(t.target, s)
		if err != nil {
			return nil, err
		}
		if m, ok := target.(map[string]interface{}); ok {
			return m[t.field], nil
		}
		return nil, nil

	case *indexNode:
		return evalIndex(t, s)

	case *unaryNode:
		return evalUnary(t, s)

	case *binaryNode:
		return evalBinary(t, s)

	case *callNode:
		return evalCall(t, s)
	}

	return nil, fmt.Errorf("unknown expression node %T", n)
}

func evalIndex(n *indexNode, s *evalState) (interface{}, error) {
	target, err := eval(n.target, s)
	if err != nil {
		return nil, err
	}
	idx, err := eval(n.index, s)
	if err != nil {
		return nil, err
	}

	switch t := target.(type) {
	case []interface{}:
		i, ok := toNumber(idx)
		if !ok {
			return nil, fmt.Errorf("array index must be a number, got %T", idx)
		}
		ii := int(i)
		if ii < 0 || ii >= len(t) {
			return nil, nil
		}
		return t[ii], nil
	case map[string]interface{}:
		key, ok := idx.(string)
		if !ok {
			return nil, fmt.Errorf("object key must be a string, got %T", idx)
		}
		return t[key], nil
	case string:
		i, ok := toNumber(idx)
		if !ok {
			return nil, fmt.Errorf("string index must be a number, got %T", idx)
		}
		runes := []rune(t)
		ii := int(i)
		if ii < 0 || ii >= len(runes) {
			return nil, nil
		}
		return string(runes[ii]), nil
	}
	return nil, nil
}

func evalUnary(n *unaryNode, s *evalState) (interface{}, error) {
	operand, err := eval(n.operand, s)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokMinus:
		f, ok := toNumber(operand)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", operand)
		}
		return -f, nil
	case tokNot:
		return !truthy(operand), nil
	}
	return nil, fmt.Errorf("unknown unary operator")
}

func evalBinary(n *binaryNode, s *evalState) (interface{}, error) {
	// Short-circuit logical operators before evaluating the right side.
	if n.op == tokAnd || n.op == tokOr {
		left, err := eval(n.left, s)
		if err != nil {
			return nil, err
		}
		if n.op == tokAnd && !truthy(left) {
			return false, nil
		}
		if n.op == tokOr && truthy(left) {
			return true, nil
		}
		right, err := eval(n.right, s)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := eval(n.left, s)
	if err != nil {
		return nil, err
	}
	right, err := eval(n.right, s)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokPlus:
		if ls, ok := left.(string); ok {
			return ls + Stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return Stringify(left) + rs, nil
		}
		return arith(left, right, func(a, b float64) (float64, error) { return a + b, nil })
	case tokMinus:
		return arith(left, right, func(a, b float64) (float64, error) { return a - b, nil })
	case tokStar:
		return arith(left, right, func(a, b float64) (float64, error) { return a * b, nil })
	case tokSlash:
		return arith(left, right, func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return a / b, nil
		})
	case tokPercent:
		return arith(left, right, func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return math.Mod(a, b), nil
		})
	case tokEq:
		return looseEquals(left, right), nil
	case tokNeq:
		return !looseEquals(left, right), nil
	case tokLt, tokLte, tokGt, tokGte:
		return compare(n.op, left, right)
	}
	return nil, fmt.Errorf("unknown binary operator")
}

func arith(left, right interface{}, f func(a, b float64) (float64, error)) (interface{}, error) {
	a, ok := toNumber(left)
	if !ok {
		return nil, fmt.Errorf("arithmetic on non-number %T", left)
	}
	b, ok := toNumber(right)
	if !ok {
		return nil, fmt.Errorf("arithmetic on non-number %T", right)
	}
	return f(a, b)
}

func compare(op tokenKind, left, right interface{}) (interface{}, error) {
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			switch op {
			case tokLt:
				return ls < rs, nil
			case tokLte:
				return ls <= rs, nil
			case tokGt:
				return ls > rs, nil
			case tokGte:
				return ls >= rs, nil
			}
		}
	}

	a, aok := toNumber(left)
	b, bok := toNumber(right)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot compare %T with %T", left, right)
	}
	switch op {
	case tokLt:
		return a < b, nil
	case tokLte:
		return a <= b, nil
	case tokGt:
		return a > b, nil
	case tokGte:
		return a >= b, nil
	}
	return nil, fmt.Errorf("unknown comparison operator")
}

func looseEquals(left, right interface{}) bool {
	if left == nil && right == nil {
		return true
	}
	if a, aok := toNumber(left); aok {
		if b, bok := toNumber(right); bok {
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

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

func toNumber(v interface{}) (float64, bool) {
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
	case uint:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// Stringify renders a value the way templates and string concatenation see
// it: numbers without a trailing ".0" when integral, nil as empty string.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("%v", v)
}

func evalCall(n *callNode, s *evalState) (interface{}, error) {
	fn, ok := builtins[n.name]
	if !ok {
		return nil, domain.Error{
			Type:    domain.ErrorTypeSecurityViolation,
			Message: "unknown function: " + n.name,
			Details: map[string]interface{}{"function": n.name},
		}
	}

	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		v, err := eval(a, s)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	return fn(args)
}

type builtinFunc func(args []interface{}) (interface{}, error)

// builtins is the closed set of callable functions. Nothing here touches the
// filesystem, the network or the process environment.
var builtins = map[string]builtinFunc{
	"abs":   numeric1("abs", math.Abs),
	"floor": numeric1("floor", math.Floor),
	"ceil":  numeric1("ceil", math.Ceil),
	"round": numeric1("round", math.Round),
	"sqrt":  numeric1("sqrt", math.Sqrt),
	"min": func(args []interface{}) (interface{}, error) {
		return numericFold("min", args, math.Min)
	},
	"max": func(args []interface{}) (interface{}, error) {
		return numericFold("max", args, math.Max)
	},
	"len": func(args []interface{}) (interface{}, error) {
		if err := arity("len", args, 1); err != nil {
			return nil, err
		}
		switch t := args[0].(type) {
		case string:
			return float64(len([]rune(t))), nil
		case []interface{}:
			return float64(len(t)), nil
		case map[string]interface{}:
			return float64(len(t)), nil
		case nil:
			return float64(0), nil
		}
		return nil, fmt.Errorf("len: unsupported type %T", args[0])
	},
	"upper": string1("upper", strings.ToUpper),
	"lower": string1("lower", strings.ToLower),
	"trim":  string1("trim", strings.TrimSpace),
	"contains": func(args []interface{}) (interface{}, error) {
		if err := arity("contains", args, 2); err != nil {
			return nil, err
		}
		if arr, ok := args[0].([]interface{}); ok {
			for _, item := range arr {
				if looseEquals(item, args[1]) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(Stringify(args[0]), Stringify(args[1])), nil
	},
	"startsWith": func(args []interface{}) (interface{}, error) {
		if err := arity("startsWith", args, 2); err != nil {
			return nil, err
		}
		return strings.HasPrefix(Stringify(args[0]), Stringify(args[1])), nil
	},
	"endsWith": func(args []interface{}) (interface{}, error) {
		if err := arity("endsWith", args, 2); err != nil {
			return nil, err
		}
		return strings.HasSuffix(Stringify(args[0]), Stringify(args[1])), nil
	},
	"replace": func(args []interface{}) (interface{}, error) {
		if err := arity("replace", args, 3); err != nil {
			return nil, err
		}
		return strings.ReplaceAll(Stringify(args[0]), Stringify(args[1]), Stringify(args[2])), nil
	},
	"split": func(args []interface{}) (interface{}, error) {
		if err := arity("split", args, 2); err != nil {
			return nil, err
		}
		parts := strings.Split(Stringify(args[0]), Stringify(args[1]))
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	},
	"join": func(args []interface{}) (interface{}, error) {
		if err := arity("join", args, 2); err != nil {
			return nil, err
		}
		arr, ok := args[0].([]interface{})
		if !ok {
			return nil, fmt.Errorf("join: first argument must be an array, got %T", args[0])
		}
		parts := make([]string, len(arr))
		for i, item := range arr {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, Stringify(args[1])), nil
	},
	"substr": func(args []interface{}) (interface{}, error) {
		if err := arity("substr", args, 3); err != nil {
			return nil, err
		}
		runes := []rune(Stringify(args[0]))
		start, ok1 := toNumber(args[1])
		length, ok2 := toNumber(args[2])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("substr: start and length must be numbers")
		}
		s, l := int(start), int(length)
		if s < 0 || s > len(runes) || l < 0 {
			return "", nil
		}
		end := s + l
		if end > len(runes) {
			end = len(runes)
		}
		return string(runes[s:end]), nil
	},
	"indexOf": func(args []interface{}) (interface{}, error) {
		if err := arity("indexOf", args, 2); err != nil {
			return nil, err
		}
		return float64(strings.Index(Stringify(args[0]), Stringify(args[1]))), nil
	},
	"toString": func(args []interface{}) (interface{}, error) {
		if err := arity("toString", args, 1); err != nil {
			return nil, err
		}
		return Stringify(args[0]), nil
	},
	"toNumber": func(args []interface{}) (interface{}, error) {
		if err := arity("toNumber", args, 1); err != nil {
			return nil, err
		}
		if f, ok := toNumber(args[0]); ok {
			return f, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(Stringify(args[0])), 64)
		if err != nil {
			return nil, fmt.Errorf("toNumber: cannot convert %q", Stringify(args[0]))
		}
		return f, nil
	},
	"first": func(args []interface{}) (interface{}, error) {
		if err := arity("first", args, 1); err != nil {
			return nil, err
		}
		if arr, ok := args[0].([]interface{}); ok && len(arr) > 0 {
			return arr[0], nil
		}
		return nil, nil
	},
	"last": func(args []interface{}) (interface{}, error) {
		if err := arity("last", args, 1); err != nil {
			return nil, err
		}
		if arr, ok := args[0].([]interface{}); ok && len(arr) > 0 {
			return arr[len(arr)-1], nil
		}
		return nil, nil
	},
}

func arity(name string, args []interface{}, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s: expected %d arguments, got %d", name, want, len(args))
	}
	return nil
}

func numeric1(name string, f func(float64) float64) builtinFunc {
	return func(args []interface{}) (interface{}, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		v, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("%s: expected a number, got %T", name, args[0])
		}
		return f(v), nil
	}
}

func numericFold(name string, args []interface{}, f func(a, b float64) float64) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: expected at least one argument", name)
	}
	acc, ok := toNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: expected numbers", name)
	}
	for _, a := range args[1:] {
		v, ok := toNumber(a)
		if !ok {
			return nil, fmt.Errorf("%s: expected numbers", name)
		}
		acc = f(acc, v)
	}
	return acc, nil
}

func string1(name string, f func(string) string) builtinFunc {
	return func(args []interface{}) (interface{}, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		return f(Stringify(args[0])), nil
	}
}
