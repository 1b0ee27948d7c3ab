package rules

import (
	"context"
	"testing"

	"github.com/engageline/series/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVisitor() *models.Visitor {
	return &models.Visitor{
		ID:          "v1",
		WorkspaceID: "w1",
		Attributes: map[string]any{
			"plan":       "pro",
			"seats":      float64(12),
			"company":    "Acme Rockets",
			"trial_ends": "2025-06-01",
		},
	}
}

func TestEvaluatorComparisons(t *testing.T) {
	evaluator := NewEvaluator()
	ctx := context.Background()
	visitor := testVisitor()

	tests := []struct {
		name string
		tree *models.RuleTree
		want bool
	}{
		{"nil tree matches everyone", nil, true},
		{"eq match", &models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "plan", Value: "pro"}, true},
		{"eq mismatch", &models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "plan", Value: "free"}, false},
		{"numeric eq across types", &models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "seats", Value: 12}, true},
		{"gt", &models.RuleTree{Operator: models.RuleOperatorGreater, Attribute: "seats", Value: 10}, true},
		{"lt", &models.RuleTree{Operator: models.RuleOperatorLess, Attribute: "seats", Value: 10}, false},
		{"contains", &models.RuleTree{Operator: models.RuleOperatorContains, Attribute: "company", Value: "Rockets"}, true},
		{"exists", &models.RuleTree{Operator: models.RuleOperatorExists, Attribute: "plan"}, true},
		{"absent", &models.RuleTree{Operator: models.RuleOperatorAbsent, Attribute: "churned_at"}, true},
		{"missing attribute eq", &models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "missing", Value: "x"}, false},
		{"missing attribute ne", &models.RuleTree{Operator: models.RuleOperatorNotEquals, Attribute: "missing", Value: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(ctx, tt.tree, visitor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluatorCombinators(t *testing.T) {
	evaluator := NewEvaluator()
	ctx := context.Background()
	visitor := testVisitor()

	proPlan := &models.RuleTree{Operator: models.RuleOperatorEquals, Attribute: "plan", Value: "pro"}
	bigTeam := &models.RuleTree{Operator: models.RuleOperatorGreater, Attribute: "seats", Value: 100}

	and := &models.RuleTree{Operator: models.RuleOperatorAnd, Children: []*models.RuleTree{proPlan, bigTeam}}
	got, err := evaluator.Evaluate(ctx, and, visitor)
	require.NoError(t, err)
	assert.False(t, got)

	or := &models.RuleTree{Operator: models.RuleOperatorOr, Children: []*models.RuleTree{proPlan, bigTeam}}
	got, err = evaluator.Evaluate(ctx, or, visitor)
	require.NoError(t, err)
	assert.True(t, got)

	not := &models.RuleTree{Operator: models.RuleOperatorNot, Children: []*models.RuleTree{bigTeam}}
	got, err = evaluator.Evaluate(ctx, not, visitor)
	require.NoError(t, err)
	assert.True(t, got)

	_, err = evaluator.Evaluate(ctx, &models.RuleTree{Operator: "xor"}, visitor)
	require.ErrorIs(t, err, ErrUnknownOperator)
}

func TestValidatePredicate(t *testing.T) {
	require.NoError(t, ValidatePredicate(nil))

	require.NoError(t, ValidatePredicate(&models.RuleTree{
		Operator: models.RuleOperatorAnd,
		Children: []*models.RuleTree{
			{Operator: models.RuleOperatorEquals, Attribute: "plan", Value: "pro"},
		},
	}))

	// Composite without children.
	require.Error(t, ValidatePredicate(&models.RuleTree{Operator: models.RuleOperatorAnd}))

	// Leaf without attribute.
	require.Error(t, ValidatePredicate(&models.RuleTree{Operator: models.RuleOperatorEquals}))

	// Unknown operator.
	require.Error(t, ValidatePredicate(&models.RuleTree{Operator: "between", Attribute: "seats"}))
}
