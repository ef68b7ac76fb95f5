package server

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/landmarkops/delivery-notes/internal/common"
)

// Webhook payloads are validated against JSON Schemas before they reach the
// orchestrator, so shape errors surface as 400s with a usable message instead
// of zero-valued fields deeper in.

const inboundSchemaJSON = `{
	"type": "object",
	"required": ["from_number", "media_url"],
	"properties": {
		"from_number": {"type": "string", "minLength": 5},
		"media_url":   {"type": "string", "minLength": 1},
		"message_id":  {"type": "string"},
		"timestamp":   {"type": "string"}
	}
}`

const confirmItemsSchemaJSON = `{
	"type": "object",
	"required": ["delivery_note_name", "items"],
	"properties": {
		"delivery_note_name": {"type": "string", "minLength": 1},
		"message_id":         {"type": "string"},
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "qty"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"qty":  {"type": "number", "minimum": 0}
				}
			}
		}
	}
}`

const deliveryStatusSchemaJSON = `{
	"type": "object",
	"required": ["delivery_note_name", "action"],
	"properties": {
		"delivery_note_name": {"type": "string", "minLength": 1},
		"action":             {"type": "string", "minLength": 1},
		"message_id":         {"type": "string"}
	}
}`

type schemaSet struct {
	inbound        *jsonschema.Schema
	confirmItems   *jsonschema.Schema
	deliveryStatus *jsonschema.Schema
}

func compileSchemas() *schemaSet {
	return &schemaSet{
		inbound:        jsonschema.MustCompileString("inbound.json", inboundSchemaJSON),
		confirmItems:   jsonschema.MustCompileString("confirm_items.json", confirmItemsSchemaJSON),
		deliveryStatus: jsonschema.MustCompileString("delivery_status.json", deliveryStatusSchemaJSON),
	}
}

// validate checks raw against the schema and classifies any mismatch as a
// validation error.
func validate(schema *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("malformed JSON body: %w", common.ErrValidation)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %v: %w", err, common.ErrValidation)
	}
	return nil
}
