package sources

import (
	"bytes"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
)

// PayloadValidator checks that a payload is well-formed JSON with the expected shape
type PayloadValidator struct {
	paths  []string
	schema *jsonschema.Schema
}

// NewPayloadValidator creates a validator requiring every gjson path in paths
// to exist. When schemaPath is not empty the payload must also satisfy the
// JSON Schema stored there.
func NewPayloadValidator(paths []string, schemaPath string) (*PayloadValidator, error) {
	v := &PayloadValidator{paths: append([]string(nil), paths...)}
	if schemaPath == "" {
		return v, nil
	}

	schema, err := compileSchema(schemaPath)
	if err != nil {
		return nil, err
	}
	v.schema = schema
	return v, nil
}

func compileSchema(path string) (*jsonschema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(path, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", path, err)
	}

	schema, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", path, err)
	}
	return schema, nil
}

// Validate returns an error wrapping ErrInvalidPayload when data is rejected
func (v *PayloadValidator) Validate(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: malformed JSON", ErrInvalidPayload)
	}

	for _, path := range v.paths {
		if !gjson.GetBytes(data, path).Exists() {
			return fmt.Errorf("%w: missing field %q", ErrInvalidPayload, path)
		}
	}

	if v.schema == nil {
		return nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
