package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// definitionSchemaJSON is the JSON Schema for workflow definition documents.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://deepnoodle.ai/schemas/flow/workflow.json",
  "type": "object",
  "required": ["name", "root"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "path": { "type": "string" },
    "variables": { "type": "object" },
    "root": { "$ref": "#/$defs/activity" }
  },
  "additionalProperties": false,
  "$defs": {
    "activity": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "description": { "type": "string" },
        "inputs": { "type": "object" },
        "variables": { "type": "object" },
        "children": {
          "type": "array",
          "items": { "$ref": "#/$defs/activity" }
        }
      },
      "additionalProperties": false
    }
  }
}`

const definitionSchemaURL = "https://deepnoodle.ai/schemas/flow/workflow.json"

var (
	definitionSchemaOnce sync.Once
	definitionSchema     *jsonschema.Schema
	definitionSchemaErr  error
)

func compiledDefinitionSchema() (*jsonschema.Schema, error) {
	definitionSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
		if err != nil {
			definitionSchemaErr = fmt.Errorf("unmarshal definition schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(definitionSchemaURL, doc); err != nil {
			definitionSchemaErr = fmt.Errorf("add definition schema resource: %w", err)
			return
		}
		definitionSchema, definitionSchemaErr = c.Compile(definitionSchemaURL)
	})
	return definitionSchema, definitionSchemaErr
}

// ValidateDefinition checks a decoded workflow document (as produced by a YAML
// or JSON decoder) against the definition schema.
func ValidateDefinition(doc any) error {
	schema, err := compiledDefinitionSchema()
	if err != nil {
		return err
	}
	value, err := toJSONValue(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize workflow definition: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid workflow definition: %w", err)
	}
	return nil
}

// toJSONValue round-trips a value through JSON so numbers become json.Number,
// which the schema validator requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}
