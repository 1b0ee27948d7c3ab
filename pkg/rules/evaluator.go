package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/engageline/series/pkg/models"
)

var ErrUnknownOperator = errors.New("unknown rule operator")

// Evaluator is the reference audience predicate evaluator: a boolean
// combinator over visitor attribute comparisons. It satisfies
// protocol.RuleEvaluator; deployments may substitute the platform's own
// segment engine.
type Evaluator struct{}

// NewEvaluator creates the reference evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate walks the tree against the visitor's attribute map. A nil tree
// matches everyone.
func (e *Evaluator) Evaluate(ctx context.Context, tree *models.RuleTree, visitor *models.Visitor) (bool, error) {
	if tree == nil {
		return true, nil
	}

	switch tree.Operator {
	case models.RuleOperatorAnd:
		for _, child := range tree.Children {
			match, err := e.Evaluate(ctx, child, visitor)
			if err != nil || !match {
				return false, err
			}
		}

		return true, nil
	case models.RuleOperatorOr:
		for _, child := range tree.Children {
			match, err := e.Evaluate(ctx, child, visitor)
			if err != nil {
				return false, err
			}

			if match {
				return true, nil
			}
		}

		return false, nil
	case models.RuleOperatorNot:
		if len(tree.Children) != 1 {
			return false, fmt.Errorf("not operator requires exactly one child, got %d", len(tree.Children))
		}

		match, err := e.Evaluate(ctx, tree.Children[0], visitor)
		if err != nil {
			return false, err
		}

		return !match, nil
	default:
		return e.compare(tree, visitor)
	}
}

func (e *Evaluator) compare(tree *models.RuleTree, visitor *models.Visitor) (bool, error) {
	var (
		value  any
		exists bool
	)

	if visitor != nil && visitor.Attributes != nil {
		value, exists = visitor.Attributes[tree.Attribute]
	}

	switch tree.Operator {
	case models.RuleOperatorExists:
		return exists, nil
	case models.RuleOperatorAbsent:
		return !exists, nil
	case models.RuleOperatorEquals:
		return exists && equalValues(value, tree.Value), nil
	case models.RuleOperatorNotEquals:
		return !exists || !equalValues(value, tree.Value), nil
	case models.RuleOperatorGreater:
		left, right, ok := numericPair(value, tree.Value)

		return exists && ok && left > right, nil
	case models.RuleOperatorLess:
		left, right, ok := numericPair(value, tree.Value)

		return exists && ok && left < right, nil
	case models.RuleOperatorContains:
		return exists && strings.Contains(
			fmt.Sprintf("%v", value),
			fmt.Sprintf("%v", tree.Value),
		), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, tree.Operator)
	}
}

// equalValues compares attribute values loosely: numbers compare as
// float64 regardless of their JSON decoding, everything else compares by
// string rendering.
func equalValues(a, b any) bool {
	if left, right, ok := numericPair(a, b); ok {
		return left == right
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func numericPair(a, b any) (left, right float64, ok bool) {
	left, leftOK := toFloat(a)
	right, rightOK := toFloat(b)

	return left, right, leftOK && rightOK
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}
