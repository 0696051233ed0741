package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var schemaSource []byte

const schemaURL = "config.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// CheckStructure validates a raw config document against the embedded JSON
// schema. Unknown fields and values of the wrong type are reported as
// *ValidationErrors; documents that cannot be decoded at all return a plain
// parse error.
func CheckStructure(data []byte, isJSON bool) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	doc, err := decodeDocument(data, isJSON)
	if err != nil {
		return err
	}
	if doc == nil {
		// Empty document: every field falls back to its default.
		return nil
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			errs := &ValidationErrors{}
			extractValidationErrors(verr, errs)
			if errs.HasErrors() {
				return errs
			}
		}
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

// decodeDocument turns YAML or JSON into the generic JSON value model the
// schema validator expects.
func decodeDocument(data []byte, isJSON bool) (interface{}, error) {
	var doc interface{}

	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		return doc, nil
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	// Round-trip through JSON so YAML scalars get JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return normalized, nil
}

// extractValidationErrors collects the leaf errors of a schema violation.
func extractValidationErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := err.InstanceLocation
		if field == "" {
			field = "/"
		}
		errs.Add(field, err.Message)
		return
	}

	for _, cause := range err.Causes {
		extractValidationErrors(cause, errs)
	}
}
