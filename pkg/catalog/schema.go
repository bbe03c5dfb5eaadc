package catalog

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// graphDocumentSchema rejects malformed graph documents before they are bound
// to Go structs. Structural invariants (start node, reachability, deadline
// formats) are enforced afterwards by the model validator.
const graphDocumentSchema = `{
	"type": "object",
	"required": ["nodes"],
	"properties": {
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["key", "eventType"],
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"eventType": {"type": "string", "minLength": 1},
					"start": {"type": "boolean"},
					"terminal": {"type": "boolean"},
					"failure": {"type": "boolean"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from", "to"],
				"properties": {
					"from": {"type": "string", "minLength": 1},
					"to": {"type": "string", "minLength": 1},
					"maxLatencySec": {"type": "integer", "minimum": 0},
					"absoluteDeadline": {"type": "string"},
					"severity": {"type": "string", "enum": ["green", "amber", "red"]},
					"optional": {"type": "boolean"},
					"expectedCount": {"type": "integer", "minimum": 1}
				}
			}
		},
		"groupDimensions": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"metadata": {"type": "object"}
	}
}`

// validateGraphDocument validates the raw graph document against the JSON
// schema and reports every violation at once.
func validateGraphDocument(document map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(graphDocumentSchema)
	documentLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	if !result.Valid() {
		var violations []string
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidGraph, strings.Join(violations, "; "))
	}

	return nil
}
