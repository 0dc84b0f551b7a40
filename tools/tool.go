package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/berrykit/berry-mcp-go/mcp"
)

// Handler is the function signature used to handle a tool invocation.
// Returning an error marks a tool-domain failure; the server converts it to
// an isError result, never to a JSON-RPC protocol error.
type Handler func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Tool pairs an MCP tool descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// ToolOption configures New behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithAllowAdditionalProperties controls whether unknown argument fields are
// allowed at decode time. Strict by default.
func WithAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// New constructs a Tool from a typed args struct A. The input schema is
// reflected from A; at call time the raw arguments are decoded into A
// (rejecting unknown fields unless configured otherwise) and fn's return
// value is formatted as text content.
func New[A any](name string, fn func(ctx context.Context, args A) (any, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](),
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		v, err := fn(ctx, a)
		if err != nil {
			return nil, err
		}
		return ResultOf(v), nil
	}

	return Tool{Descriptor: desc, Handler: handler}
}

// NewWithSchema constructs a Tool from an explicit schema (typically built
// with SchemaFor) and a raw handler. This is the registration path for tools
// whose arguments do not map onto a single struct.
func NewWithSchema(name, description string, schema mcp.ToolInputSchema, h Handler) Tool {
	return Tool{
		Descriptor: mcp.Tool{Name: name, Description: description, InputSchema: schema},
		Handler:    h,
	}
}

// ResultOf converts a tool return value into a CallToolResult. Strings pass
// through; an existing result is used as-is; anything else is rendered with
// its default formatting.
func ResultOf(v any) *mcp.CallToolResult {
	switch r := v.(type) {
	case nil:
		return &mcp.CallToolResult{Content: mcp.TextContent("")}
	case *mcp.CallToolResult:
		return r
	case string:
		return &mcp.CallToolResult{Content: mcp.TextContent(r)}
	default:
		return &mcp.CallToolResult{Content: mcp.TextContent(fmt.Sprintf("%v", r))}
	}
}

// TextResult builds a successful text result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: mcp.TextContent(s)}
}

// Errorf returns a tool-domain error result with a single text block and
// IsError set.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: mcp.TextContent(fmt.Sprintf(format, a...)), IsError: true}
}
