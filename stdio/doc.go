// Package stdio implements the newline-delimited JSON-RPC transport over a
// process's standard streams. Each line carries one message; malformed lines
// are answered with a parse error response without disturbing the stream.
package stdio
