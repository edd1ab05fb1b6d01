package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// StructValidator enforces a JSON Schema reflected from a Go struct, then runs
// optional semantic checks over the decoded object.
type StructValidator struct {
	reflected *invopop.Schema
	compiled  *jsonschema.Schema
	printer   *message.Printer
	semantic  []func(obj map[string]any) []string
}

// NewStructValidator reflects v's type into a JSON Schema and compiles it.
func NewStructValidator(name string, v any, semantic ...func(obj map[string]any) []string) (*StructValidator, error) {
	r := &invopop.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	reflected := r.Reflect(v)

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s schema: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	loc := name + ".json"
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}

	return &StructValidator{
		reflected: reflected,
		compiled:  compiled,
		printer:   message.NewPrinter(language.English),
		semantic:  semantic,
	}, nil
}

// Validate implements PurposeValidator. Schema errors are flattened to
// "<json-pointer>: <message>" strings.
func (s *StructValidator) Validate(value any) []string {
	errs := []string{}

	if err := s.compiled.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return append(errs, err.Error())
		}
		errs = append(errs, s.flatten(ve)...)
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return errs
	}
	for _, check := range s.semantic {
		errs = append(errs, check(obj)...)
	}
	return errs
}

// JSONSchema returns the reflected schema document.
func (s *StructValidator) JSONSchema() *invopop.Schema {
	return s.reflected
}

// ResponseSchema implements ResponseSchemaProvider using the Gemini subset.
func (s *StructValidator) ResponseSchema() map[string]any {
	return GeminiSchema(s.reflected)
}

func (s *StructValidator) flatten(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Pointer(e.InstanceLocation)+": "+e.ErrorKind.LocalizedString(s.printer))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}

// Pointer renders an instance location as a JSON pointer; the root is "/".
func Pointer(tokens []string) string {
	if len(tokens) == 0 {
		return "/"
	}
	escaped := make([]string, len(tokens))
	for i, t := range tokens {
		t = strings.ReplaceAll(t, "~", "~0")
		escaped[i] = strings.ReplaceAll(t, "/", "~1")
	}
	return "/" + strings.Join(escaped, "/")
}
