// Package schema implements the purpose-keyed schema validation hook.
package schema

import (
	"sort"
	"sync"

	invopop "github.com/invopop/jsonschema"

	"github.com/aschepis/backscratcher/aicall/llm"
)

// Validator is the hook consumed by the orchestrator.
type Validator interface {
	// Validate checks a parsed JSON value for purpose. Purposes without a
	// registered validator, and nil values, yield a disabled, passing result.
	Validate(purpose string, value any) llm.SchemaValidation

	// ResponseSchema returns the provider-side structured-output schema for
	// purpose, or nil when none is registered.
	ResponseSchema(purpose string) map[string]any
}

// PurposeValidator validates the parsed output of a single purpose and
// returns field-level error strings.
type PurposeValidator interface {
	Validate(value any) []string
}

// ResponseSchemaProvider is implemented by purpose validators that can also
// constrain provider output.
type ResponseSchemaProvider interface {
	ResponseSchema() map[string]any
}

// JSONSchemaProvider is implemented by purpose validators backed by a JSON
// Schema document.
type JSONSchemaProvider interface {
	JSONSchema() *invopop.Schema
}

// ValidatorFunc adapts a plain function to PurposeValidator.
type ValidatorFunc func(value any) []string

// Validate calls f.
func (f ValidatorFunc) Validate(value any) []string {
	return f(value)
}

// Registry maps exact purpose keys to validators.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]PurposeValidator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]PurposeValidator)}
}

// DefaultRegistry returns a registry with the built-in tender extraction validator.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	tender, err := NewTenderValidator()
	if err != nil {
		return nil, err
	}
	r.Register(llm.PurposeOfflineTenderExtraction, tender)
	return r, nil
}

// Register sets the validator for purpose, replacing any previous one.
func (r *Registry) Register(purpose string, v PurposeValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[purpose] = v
}

// RegisterFunc registers a plain validation function for purpose.
func (r *Registry) RegisterFunc(purpose string, fn func(value any) []string) {
	r.Register(purpose, ValidatorFunc(fn))
}

// Purposes returns the registered purpose keys in sorted order.
func (r *Registry) Purposes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.validators))
	for p := range r.validators {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Validate implements Validator.
func (r *Registry) Validate(purpose string, value any) llm.SchemaValidation {
	if value == nil {
		return llm.SchemaDisabled()
	}
	r.mu.RLock()
	v, ok := r.validators[purpose]
	r.mu.RUnlock()
	if !ok {
		return llm.SchemaDisabled()
	}

	errs := v.Validate(value)
	if errs == nil {
		errs = []string{}
	}
	return llm.SchemaValidation{
		Enabled: true,
		Passed:  len(errs) == 0,
		Errors:  errs,
	}
}

// ResponseSchema implements Validator.
func (r *Registry) ResponseSchema(purpose string) map[string]any {
	r.mu.RLock()
	v, ok := r.validators[purpose]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if p, ok := v.(ResponseSchemaProvider); ok {
		return p.ResponseSchema()
	}
	return nil
}

// JSONSchema returns the JSON Schema document for purpose, or nil when the
// purpose has no schema-backed validator.
func (r *Registry) JSONSchema(purpose string) *invopop.Schema {
	r.mu.RLock()
	v, ok := r.validators[purpose]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if p, ok := v.(JSONSchemaProvider); ok {
		return p.JSONSchema()
	}
	return nil
}

// Ensure Registry implements Validator
var _ Validator = (*Registry)(nil)
