// Package rules implements audience predicate validation and the reference
// rule evaluator used for series entry/exit/goal conditions and rule blocks.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engageline/series/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ruleTreeSchema constrains the shape of a predicate tree: composite nodes
// carry children, leaf nodes carry an attribute and comparison operator.
const ruleTreeSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"definitions": {
		"node": {
			"type": "object",
			"properties": {
				"operator": {"type": "string"},
				"children": {
					"type": "array",
					"items": {"$ref": "#/definitions/node"}
				},
				"attribute": {"type": "string"},
				"value": {}
			},
			"required": ["operator"],
			"allOf": [
				{
					"if": {"properties": {"operator": {"enum": ["and", "or"]}}},
					"then": {"required": ["children"], "properties": {"children": {"minItems": 1}}}
				},
				{
					"if": {"properties": {"operator": {"enum": ["not"]}}},
					"then": {"required": ["children"], "properties": {"children": {"minItems": 1, "maxItems": 1}}}
				},
				{
					"if": {"properties": {"operator": {"enum": ["eq", "ne", "gt", "lt", "contains", "exists", "absent"]}}},
					"then": {"required": ["attribute"], "properties": {"attribute": {"minLength": 1}}}
				},
				{
					"properties": {
						"operator": {"enum": ["and", "or", "not", "eq", "ne", "gt", "lt", "contains", "exists", "absent"]}
					}
				}
			]
		}
	},
	"$ref": "#/definitions/node"
}`

// ValidatePredicate checks a predicate tree against the rule schema.
// Returns nil for a nil tree; an absent rule is simply not evaluated.
func ValidatePredicate(tree *models.RuleTree) error {
	if tree == nil {
		return nil
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to encode predicate: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(ruleTreeSchema)
	dataLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate predicate: %w", err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("invalid predicate: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
