package domain

// RuleOperator enumerates the comparison and composition operators available
// to condition nodes and connection activation conditions.
type RuleOperator string

const (
	OpEquals         RuleOperator = "eq"
	OpNotEquals      RuleOperator = "neq"
	OpGreaterThan    RuleOperator = "gt"
	OpGreaterOrEqual RuleOperator = "gte"
	OpLessThan       RuleOperator = "lt"
	OpLessOrEqual    RuleOperator = "lte"
	OpContains       RuleOperator = "contains"
	OpNotContains    RuleOperator = "not_contains"
	OpRegexMatch     RuleOperator = "regex"
	OpInList         RuleOperator = "in"
	OpNotInList      RuleOperator = "not_in"

	OpAnd RuleOperator = "and"
	OpOr  RuleOperator = "or"
	OpNot RuleOperator = "not"
)

func (op RuleOperator) IsComposite() bool {
	return op == OpAnd || op == OpOr || op == OpNot
}

func (op RuleOperator) Known() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterOrEqual,
		OpLessThan, OpLessOrEqual, OpContains, OpNotContains,
		OpRegexMatch, OpInList, OpNotInList, OpAnd, OpOr, OpNot:
		return true
	}
	return false
}

// Rule is one comparison, or a composition of child rules when Operator is
// and/or/not. Variable names the left operand in the current variable scope;
// Value is the right operand and may be a literal or a "{{var}}" template.
type Rule struct {
	Operator RuleOperator `json:"operator"`
	Variable string       `json:"variable,omitempty"`
	Value    interface{}  `json:"value,omitempty"`
	Children []Rule       `json:"children,omitempty"`
}
