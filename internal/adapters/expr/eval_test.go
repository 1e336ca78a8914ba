package expr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-io/weft/internal/domain"
)

func TestEvaluate_Arithmetic(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		vars     map[string]interface{}
		expected interface{}
	}{
		{name: "addition", src: "1 + 2", expected: float64(3)},
		{name: "precedence", src: "2 + 3 * 4", expected: float64(14)},
		{name: "grouping", src: "(2 + 3) * 4", expected: float64(20)},
		{name: "modulo", src: "10 % 3", expected: float64(1)},
		{name: "unary_minus", src: "-5 + 10", expected: float64(5)},
		{name: "variable", src: "count * 2", vars: map[string]interface{}{"count": float64(21)}, expected: float64(42)},
		{
			name:     "nested_member_access",
			src:      "user.profile.age + 1",
			vars:     map[string]interface{}{"user": map[string]interface{}{"profile": map[string]interface{}{"age": float64(25)}}},
			expected: float64(26),
		},
		{
			name:     "array_index",
			src:      "items[1]",
			vars:     map[string]interface{}{"items": []interface{}{"a", "b", "c"}},
			expected: "b",
		},
	}

	ev := NewEvaluator(time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.src, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluate_StringsAndLogic(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		vars     map[string]interface{}
		expected interface{}
	}{
		{name: "concat", src: `"hello " + name`, vars: map[string]interface{}{"name": "world"}, expected: "hello world"},
		{name: "concat_number", src: `"n=" + 42`, expected: "n=42"},
		{name: "and_short_circuit", src: "false && missing()", expected: false},
		{name: "or_short_circuit", src: "true || missing()", expected: true},
		{name: "not", src: "!false", expected: true},
		{name: "equality_loose", src: "1 == 1.0", expected: true},
		{name: "string_compare", src: `"abc" < "abd"`, expected: true},
		{name: "upper", src: `upper("go")`, expected: "GO"},
		{name: "len_string", src: `len("four")`, expected: float64(4)},
		{name: "len_array", src: "len(items)", vars: map[string]interface{}{"items": []interface{}{1, 2, 3}}, expected: float64(3)},
		{name: "join_split", src: `join(split("a,b,c", ","), "-")`, expected: "a-b-c"},
		{name: "min_max", src: "min(3, 1, 2) + max(3, 1, 2)", expected: float64(4)},
		{name: "contains_array", src: "contains(items, 2)", vars: map[string]interface{}{"items": []interface{}{float64(1), float64(2)}}, expected: true},
		{name: "substr", src: `substr("workflow", 0, 4)`, expected: "work"},
		{name: "to_number", src: `toNumber("12.5") * 2`, expected: float64(25)},
	}

	ev := NewEvaluator(time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.src, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "division_by_zero", src: "1 / 0"},
		{name: "unterminated_string", src: `"abc`},
		{name: "dangling_operator", src: "1 +"},
		{name: "unbalanced_paren", src: "(1 + 2"},
		{name: "arith_on_string", src: `"a" - 1`},
	}

	ev := NewEvaluator(time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ev.Evaluate(tt.src, nil)
			assert.Error(t, err)
		})
	}
}

func TestEvaluate_UnknownFunctionIsSecurityViolation(t *testing.T) {
	ev := NewEvaluator(time.Second)

	_, err := ev.Evaluate("exec('rm -rf /')", nil)
	require.Error(t, err)
	assert.True(t, domain.IsSecurityViolation(err))
}

func TestEvaluate_UndefinedVariableIsNil(t *testing.T) {
	ev := NewEvaluator(time.Second)

	got, err := ev.Evaluate("missing", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluate_NestingLimit(t *testing.T) {
	ev := NewEvaluator(time.Second)

	src := strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100)
	_, err := ev.Evaluate(src, nil)
	assert.Error(t, err)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
}
