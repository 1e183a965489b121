package bootstrap

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	schemagen "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "manifest.schema.json"

// Validator checks manifest documents against the schema generated from
// the Manifest struct. Unknown keys and wrong types are rejected before
// parsing.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the manifest schema.
func NewValidator() (*Validator, error) {
	reflector := new(schemagen.Reflector)
	reflector.ExpandedStruct = true

	raw, err := json.Marshal(reflector.Reflect(&Manifest{}))
	if err != nil {
		return nil, fmt.Errorf("marshal generated manifest schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add manifest schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateJSON validates a JSON manifest document.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("manifest rejected by schema: %w", err)
	}
	return nil
}

// ValidateYAML validates a YAML manifest document. The document is
// round-tripped through JSON so the instance shape matches what the
// schema validator expects.
func (v *Validator) ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("manifest is not valid YAML: %w", err)
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalize YAML manifest: %w", err)
	}
	return v.ValidateJSON(normalized)
}
