package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/receipt-amounts/internal/amounts"
)

const recordSchemaURL = "financial_record.json"

// recordSchema describes a FinancialRecord as returned to callers
const recordSchema = `{
  "type": "object",
  "required": ["currency", "amounts"],
  "properties": {
    "currency": {"type": "string", "minLength": 1},
    "amounts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "value", "source"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "value": {"type": "number"},
          "source": {"type": "string", "minLength": 1},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

// Validator checks extracted records against the output schema
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the output schema
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(recordSchemaURL, strings.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustNewValidator is NewValidator for the built-in schema, which always compiles
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns a *ValidationError listing every violation, or nil
func (v *Validator) Validate(record amounts.FinancialRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}

	err = v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate record: %w", err)
	}
	return &ValidationError{Details: leafDetails(ve, nil)}
}

// leafDetails collects the innermost causes, which name the failing fields
func leafDetails(ve *jsonschema.ValidationError, out []ValidationDetail) []ValidationDetail {
	if len(ve.Causes) == 0 {
		return append(out, ValidationDetail{Path: ve.InstanceLocation, Message: ve.Message})
	}
	for _, c := range ve.Causes {
		out = leafDetails(c, out)
	}
	return out
}
