package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/TemporalDynamics/verifysign-sub002/schemas"
)

// Validator holds a compiled schema. It is immutable after construction and
// safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator(schemaData []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(schemaData)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// NewManifestValidator compiles the embedded ECO manifest schema.
func NewManifestValidator() (*Validator, error) {
	return NewValidator(schemas.ECOManifestV1)
}

// Validate reports every violation in a single error, sorted by location.
func (v *Validator) Validate(data []byte) error {
	result := v.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	keys := make([]string, 0, len(result.Errors))
	for key := range result.Errors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	details := make([]string, 0, len(keys))
	for _, key := range keys {
		details = append(details, fmt.Sprintf("%s: %v", key, result.Errors[key]))
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(details, "; "))
}
