// Package ssehttp implements the HTTP transport: JSON-RPC over POST for
// inbound messages and a Server-Sent-Events stream for everything outbound.
//
// The transport is push-only on the way out. Except for initialize, POST
// never returns a protocol result in the HTTP body; results are broadcast to
// every connected SSE client and the POST is acknowledged with a 202
// envelope. tools/call additionally runs in the background so unbounded tool
// execution cannot hold an HTTP connection open.
package ssehttp
