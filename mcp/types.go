package mcp

// ImplementationInfo describes a client or server implementation.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertises client features.
type ClientCapabilities struct {
	Elicitation *struct{} `json:"elicitation,omitempty"`
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability describes the server's tool support.
type ToolsCapability struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-schema-like description of tool input. The root
// is always an object schema; Required lists the parameters that carry no
// default, in declaration order.
type ToolInputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty is a node in the simplified JSON Schema vocabulary used for
// tool parameters. It mirrors the core keywords only: scalar type, enum,
// array items, object properties, map value schemas, and anyOf unions.
type SchemaProperty struct {
	Type                 string                    `json:"type,omitempty"`
	Description          string                    `json:"description,omitempty"`
	Default              any                       `json:"default,omitempty"`
	Enum                 []any                     `json:"enum,omitempty"`
	Items                *SchemaProperty           `json:"items,omitempty"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	AdditionalProperties *SchemaProperty           `json:"additionalProperties,omitempty"`
	AnyOf                []SchemaProperty          `json:"anyOf,omitempty"`
}

// ContentBlock is a typed content part of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds a single-block text content list.
func TextContent(s string) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: s}}
}
