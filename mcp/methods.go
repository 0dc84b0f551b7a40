package mcp

import "encoding/json"

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// MCP method names and notifications.
const (
	// Initialization
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Tools
	ToolsListMethod                    Method = "tools/list"
	ToolsCallMethod                    Method = "tools/call"
	ToolsListChangedNotificationMethod Method = "notifications/tools/list_changed"

	// Elicitation (human-in-the-loop collaborator)
	ElicitationRequestMethod  Method = "elicitation/request"
	ElicitationResponseMethod Method = "elicitation/response"

	// General
	PingMethod                       Method = "ping"
	ProgressNotificationMethod       Method = "notifications/progress"
	LoggingMessageNotificationMethod Method = "notifications/message"
)

// NotificationPrefix is the method prefix shared by all server-initiated
// notification methods.
const NotificationPrefix = "notifications/"

// ProtocolVersion is the MCP protocol revision advertised during initialize.
const ProtocolVersion = "2024-11-05"

// InitializeRequest starts the MCP initialization handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult returns negotiated capabilities and server info.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// ListToolsResult returns the registered tools in registration order.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolRequest is the server-received representation of a tool call.
// Arguments are kept raw so each tool can apply its own decoding policy.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of a tool invocation. IsError distinguishes a
// tool-domain failure from a successful run; either way the surrounding
// JSON-RPC exchange is a success response. The field is always serialized so
// clients can branch on it without a presence check.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// ProgressNotificationParams conveys progress of a long-running operation.
// Seq starts at 1 and increases monotonically per operation.
type ProgressNotificationParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Seq           int     `json:"seq,omitempty"`
}
