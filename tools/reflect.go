package tools

import (
	"github.com/invopop/jsonschema"

	"github.com/berrykit/berry-mcp-go/mcp"
)

// reflectInputSchema reflects a Go args struct A into a jsonschema.Schema and
// down-converts it to the simplified mcp.ToolInputSchema.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: false,
	}
	// Reflect from a zero value pointer to capture struct tags consistently.
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to a tool input schema. If not an
	// object, expose an empty object instead of failing registration.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]mcp.SchemaProperty{},
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// toProperty recursively maps a jsonschema.Schema node to the simplified
// schema vocabulary.
func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if s.Default != nil {
		p.Default = s.Default
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
	}
	if s.Type == "object" && s.AdditionalProperties != nil && s.AdditionalProperties != jsonschema.FalseSchema {
		ap := toProperty(s.AdditionalProperties)
		p.AdditionalProperties = &ap
	}
	if len(s.AnyOf) > 0 {
		alts := make([]mcp.SchemaProperty, 0, len(s.AnyOf))
		for _, alt := range s.AnyOf {
			alts = append(alts, toProperty(alt))
		}
		p.AnyOf = alts
	}
	return p
}
