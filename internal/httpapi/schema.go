package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const handoffSchema = `{
	"type": "object",
	"required": ["documentId", "timestamp"],
	"properties": {
		"documentId": {"type": "string", "minLength": 1},
		"timestamp": {"type": "integer", "minimum": 1},
		"text": {"type": "string"}
	}
}`

var compiledHandoffSchema = jsonschema.MustCompileString("handoff.json", handoffSchema)

// decodeHandoffBody checks a stage request body against the handoff schema
// before decoding it.
func decodeHandoffBody(body []byte) (models.Handoff, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.Handoff{}, fmt.Errorf("%w: handoff is not json: %v", models.ErrInvalidInput, err)
	}
	if err := compiledHandoffSchema.Validate(doc); err != nil {
		return models.Handoff{}, fmt.Errorf("%w: handoff does not match schema: %s", models.ErrInvalidInput, strings.TrimSpace(err.Error()))
	}
	return models.DecodeHandoff(body)
}
