package models

// RuleOperator is a comparison or boolean combinator in a rule tree.
type RuleOperator string

const (
	RuleOperatorAnd RuleOperator = "and"
	RuleOperatorOr  RuleOperator = "or"
	RuleOperatorNot RuleOperator = "not"

	RuleOperatorEquals    RuleOperator = "eq"
	RuleOperatorNotEquals RuleOperator = "ne"
	RuleOperatorGreater   RuleOperator = "gt"
	RuleOperatorLess      RuleOperator = "lt"
	RuleOperatorContains  RuleOperator = "contains"
	RuleOperatorExists    RuleOperator = "exists"
	RuleOperatorAbsent    RuleOperator = "absent"
)

// RuleTree is an audience predicate: a boolean combinator over attribute
// comparisons, evaluated against a visitor record. Leaf nodes carry an
// attribute and a comparison operator; inner nodes carry and/or/not over
// children.
type RuleTree struct {
	Operator  RuleOperator `json:"operator"`
	Children  []*RuleTree  `json:"children,omitempty"`
	Attribute string       `json:"attribute,omitempty"`
	Value     any          `json:"value,omitempty"`
}

// IsComposite reports whether the node combines children rather than
// comparing an attribute.
func (r *RuleTree) IsComposite() bool {
	switch r.Operator {
	case RuleOperatorAnd, RuleOperatorOr, RuleOperatorNot:
		return true
	default:
		return false
	}
}
