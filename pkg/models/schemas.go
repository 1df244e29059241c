package models

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// JSON Schemas for the type-specific step metadata payloads. Checked once
// when a journey is activated, never per event.
var stepMetadataSchemas = map[StepType]string{
	StepTypeMessage: `{
		"type": "object",
		"properties": {
			"channel": {"type": "string", "enum": ["email", "sms", "push", "chat"]},
			"template_id": {"type": "string", "minLength": 1},
			"destination": {"type": "string"}
		},
		"required": ["channel", "template_id"]
	}`,
	StepTypeWaitUntil: `{
		"type": "object",
		"properties": {
			"branches": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string", "minLength": 1},
						"relation": {"type": "string", "enum": ["and", "or"]},
						"destination": {"type": "string", "minLength": 1},
						"events": {"type": "array", "minItems": 1}
					},
					"required": ["id", "relation", "destination", "events"]
				}
			}
		},
		"required": ["branches"]
	}`,
	StepTypeTimeDelay: `{
		"type": "object",
		"properties": {
			"delay_seconds": {"type": "integer", "minimum": 1},
			"destination": {"type": "string", "minLength": 1}
		},
		"required": ["delay_seconds", "destination"]
	}`,
	StepTypeTimeWindow: `{
		"type": "object",
		"properties": {
			"window": {"type": "object"},
			"destination": {"type": "string", "minLength": 1}
		},
		"required": ["window", "destination"]
	}`,
	StepTypeMultisplit: `{
		"type": "object",
		"properties": {
			"branches": {"type": "array", "minItems": 1},
			"all_others_destination": {"type": "string", "minLength": 1}
		},
		"required": ["branches", "all_others_destination"]
	}`,
	StepTypeExperiment: `{
		"type": "object",
		"properties": {
			"splits": {
				"type": "array",
				"minItems": 2,
				"items": {
					"type": "object",
					"properties": {
						"ratio": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
						"destination": {"type": "string", "minLength": 1}
					},
					"required": ["ratio", "destination"]
				}
			}
		},
		"required": ["splits"]
	}`,
	StepTypeExit: `{"type": "object"}`,
}

// ValidateStepMetadata checks a step's metadata payload against the schema
// for its type.
func ValidateStepMetadata(step *Step) error {
	schema, ok := stepMetadataSchemas[step.Type]
	if !ok {
		return fmt.Errorf("step %s: unknown step type %q", step.ID, step.Type)
	}

	document, err := json.Marshal(step.Metadata)
	if err != nil {
		return fmt.Errorf("step %s: failed to marshal metadata: %w", step.ID, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("step %s: schema validation failed: %w", step.ID, err)
	}

	if !result.Valid() {
		return fmt.Errorf("step %s: invalid %s metadata: %s", step.ID, step.Type, result.Errors()[0].String())
	}

	return nil
}
