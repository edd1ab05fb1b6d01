package schema

import (
	"strings"

	invopop "github.com/invopop/jsonschema"
)

// GeminiSchema reduces a JSON Schema to the OpenAPI subset accepted by
// Gemini's response_schema: upper-case types, no $schema/$id/additionalProperties,
// and an explicit propertyOrdering taken from struct field order.
func GeminiSchema(s *invopop.Schema) map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{}

	if s.Type != "" {
		out["type"] = strings.ToUpper(s.Type)
	}
	if s.Format == "date-time" || s.Format == "enum" {
		out["format"] = s.Format
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = GeminiSchema(s.Items)
	}
	if s.MinItems != nil {
		out["minItems"] = *s.MinItems
	}
	if s.MaxItems != nil {
		out["maxItems"] = *s.MaxItems
	}
	if s.Minimum != "" {
		if f, err := s.Minimum.Float64(); err == nil {
			out["minimum"] = f
		}
	}
	if s.Maximum != "" {
		if f, err := s.Maximum.Float64(); err == nil {
			out["maximum"] = f
		}
	}

	if s.Properties != nil && s.Properties.Len() > 0 {
		props := make(map[string]any, s.Properties.Len())
		order := make([]string, 0, s.Properties.Len())
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			props[pair.Key] = GeminiSchema(pair.Value)
			order = append(order, pair.Key)
		}
		out["properties"] = props
		out["propertyOrdering"] = order
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	return out
}
