// Package mcp defines the wire-level types of the Model Context Protocol
// subset implemented by this module: the initialize handshake, the tools
// surface (tools/list, tools/call) and server-initiated notifications.
//
// The types here are plain JSON-annotated structs with no behavior. Protocol
// routing lives in the protocol package; transports live in stdio and
// ssehttp.
package mcp
