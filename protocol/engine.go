// Package protocol implements the JSON-RPC 2.0 message state machine at the
// core of the MCP server runtime: envelope validation, method routing,
// response and error formatting, and outbound notification delivery.
//
// The engine is stateless across messages. The only state it holds is the
// registered handler table and the configured send function, so a single
// engine can serve any number of concurrent messages.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/berrykit/berry-mcp-go/internal/logctx"
	"github.com/berrykit/berry-mcp-go/jsonrpc"
)

// Extra carries per-request metadata into handlers.
type Extra struct {
	// ID is the request id, nil for notifications.
	ID *jsonrpc.RequestID
}

// Handler processes a single request or notification. The returned value is
// serialized as the JSON-RPC result; a non-nil error becomes a -32000 error
// response (or is swallowed for notifications).
type Handler func(ctx context.Context, params json.RawMessage, extra Extra) (any, error)

// SendFunc delivers a server-initiated message through the active transport.
type SendFunc func(ctx context.Context, msg *jsonrpc.AnyMessage) error

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = slog.New(logctx.Handler{Handler: l.Handler()})
		}
	}
}

// WithVerbose enables stack traces in the data field of -32000 error
// responses. Off by default so internals are not leaked to clients.
func WithVerbose(v bool) Option {
	return func(e *Engine) { e.verbose = v }
}

// Engine validates, routes, and formats JSON-RPC messages.
type Engine struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	send     SendFunc

	log     *slog.Logger
	verbose bool
}

// NewEngine constructs an Engine with an empty handler table.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		handlers: make(map[string]Handler),
		log:      slog.New(logctx.Handler{Handler: slog.Default().Handler()}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRequestHandler registers a handler for a request method. Registering the
// same method twice replaces the previous handler.
func (e *Engine) SetRequestHandler(method string, h Handler) {
	e.mu.Lock()
	e.handlers[method] = h
	e.mu.Unlock()
	e.log.Debug("protocol.handler.register", slog.String("method", method))
}

// SetSendFunc configures the function used to deliver outbound messages.
func (e *Engine) SetSendFunc(send SendFunc) {
	e.mu.Lock()
	e.send = send
	e.mu.Unlock()
}

// HandleMessage processes one inbound message and returns the response to
// deliver, or nil when the message requires none (notifications). Malformed
// input never produces an error return; every failure path is expressed as a
// well-formed JSON-RPC error response.
func (e *Engine) HandleMessage(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	if msg.JSONRPCVersion != jsonrpc.ProtocolVersion {
		// The envelope is not trusted enough to echo an id.
		e.log.WarnContext(ctx, "rpc.envelope.version.invalid", slog.String("version", msg.JSONRPCVersion))
		return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request", "Invalid JSON-RPC version")
	}

	if msg.Method == "" {
		e.log.WarnContext(ctx, "rpc.envelope.method.missing")
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request", "'method' parameter is missing")
	}

	e.mu.RLock()
	h, ok := e.handlers[msg.Method]
	e.mu.RUnlock()
	if !ok {
		e.log.WarnContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method), nil)
	}

	result, err := e.invoke(ctx, h, msg.Params, Extra{ID: msg.ID})
	if err != nil {
		detail := fmt.Sprintf("Server error executing method '%s': %T: %v", msg.Method, err, err)
		e.log.ErrorContext(ctx, "rpc.handler.fail", slog.String("err", detail))

		if msg.ID.IsNil() {
			// Notifications never surface errors to the caller.
			return nil
		}

		var data any
		if e.verbose {
			if pe, ok := err.(*panicError); ok {
				data = string(pe.stack)
			} else {
				data = err.Error()
			}
		}
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeServerError, detail, data)
	}

	if msg.ID.IsNil() {
		e.log.DebugContext(ctx, "rpc.notification.ok")
		return nil
	}

	return e.formatResult(ctx, msg.ID, result)
}

// invoke runs the handler, converting panics into errors so a buggy handler
// cannot take down the server.
func (e *Engine) invoke(ctx context.Context, h Handler, params json.RawMessage, extra Extra) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return h(ctx, params, extra)
}

// formatResult wraps a handler result in a success response. A result that
// cannot be serialized is replaced by a truncated diagnostic string rather
// than failing the send path.
func (e *Engine) formatResult(ctx context.Context, id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	b, err := json.Marshal(result)
	if err != nil {
		e.log.ErrorContext(ctx, "rpc.result.marshal.fail", slog.String("err", err.Error()))
		diagnostic := fmt.Sprintf("[Non-Serializable Result: %T] %s", result, truncate(fmt.Sprintf("%v", result), 500))
		b, _ = json.Marshal(diagnostic)
	}
	return &jsonrpc.Response{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Result:         b,
		ID:             id,
	}
}

// SendNotification builds a server-initiated notification and hands it to the
// configured send function. With no send function configured this logs and
// no-ops; it never fails the caller for a missing transport.
func (e *Engine) SendNotification(ctx context.Context, method string, params any) error {
	e.mu.RLock()
	send := e.send
	e.mu.RUnlock()

	if send == nil {
		e.log.ErrorContext(ctx, "rpc.notify.no_sender", slog.String("method", method))
		return nil
	}

	req, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		e.log.ErrorContext(ctx, "rpc.notify.marshal.fail", slog.String("method", method), slog.String("err", err.Error()))
		return fmt.Errorf("failed to build notification %q: %w", method, err)
	}

	if err := send(ctx, jsonrpc.RequestMessage(req)); err != nil {
		e.log.ErrorContext(ctx, "rpc.notify.send.fail", slog.String("method", method), slog.String("err", err.Error()))
		return fmt.Errorf("failed to send notification %q: %w", method, err)
	}
	e.log.DebugContext(ctx, "rpc.notify.ok", slog.String("method", method))
	return nil
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
