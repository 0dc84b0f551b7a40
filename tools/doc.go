// Package tools provides the tool registry and schema generation for the MCP
// server runtime.
//
// Tools can be declared two ways. The typed path reflects a Go argument
// struct into a JSON Schema (New, NewWithSchema); the explicit path builds a
// schema from a declared parameter list (SchemaFor), which is the Go stand-in
// for deriving schemas from a function signature. Either way the result is a
// Tool pairing an mcp.Tool descriptor with a Handler, stored in a Registry
// that preserves registration order for tools/list.
package tools
