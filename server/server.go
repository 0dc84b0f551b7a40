// Package server composes the protocol engine, tool registry, and a transport
// into a runnable MCP server with the built-in initialize, tools/list, and
// tools/call methods.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/berrykit/berry-mcp-go/internal/logctx"
	"github.com/berrykit/berry-mcp-go/jsonrpc"
	"github.com/berrykit/berry-mcp-go/mcp"
	"github.com/berrykit/berry-mcp-go/protocol"
	"github.com/berrykit/berry-mcp-go/tools"
)

// Transport is the message channel a Server runs on. Receive returns
// (nil, nil) once the peer is gone, which ends the serve loop.
type Transport interface {
	Send(ctx context.Context, msg *jsonrpc.AnyMessage) error
	Receive(ctx context.Context) (*jsonrpc.AnyMessage, error)
	Close() error
}

// Server is an MCP server instance. It owns the registered tools and the
// protocol engine routing inbound messages to the built-in handlers.
type Server struct {
	name    string
	version string

	engine   *protocol.Engine
	registry *tools.Registry
	log      *slog.Logger

	initialized atomic.Bool
}

// Option customizes a Server.
type Option func(*config)

type config struct {
	log      *slog.Logger
	verbose  bool
	registry *tools.Registry
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithVerbose enables stack traces in -32000 error data.
func WithVerbose(v bool) Option {
	return func(c *config) { c.verbose = v }
}

// WithRegistry supplies a pre-populated tool registry.
func WithRegistry(r *tools.Registry) Option {
	return func(c *config) {
		if r != nil {
			c.registry = r
		}
	}
}

// New constructs a Server and registers the built-in method handlers.
func New(name, version string, opts ...Option) *Server {
	cfg := config{log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = tools.NewRegistry(tools.WithRegistryLogger(cfg.log))
	}

	s := &Server{
		name:     name,
		version:  version,
		registry: cfg.registry,
		log:      slog.New(logctx.Handler{Handler: cfg.log.Handler()}),
	}
	s.engine = protocol.NewEngine(
		protocol.WithLogger(cfg.log),
		protocol.WithVerbose(cfg.verbose),
	)

	s.engine.SetRequestHandler(string(mcp.InitializeMethod), s.handleInitialize)
	s.engine.SetRequestHandler(string(mcp.ToolsListMethod), s.handleListTools)
	s.engine.SetRequestHandler(string(mcp.ToolsCallMethod), s.handleCallTool)

	s.log.Info("server.init", slog.String("name", name), slog.String("version", version))
	return s
}

// Tools exposes the server's registry for registration at startup.
func (s *Server) Tools() *tools.Registry { return s.registry }

// Engine exposes the protocol engine, used by transports and collaborators
// that need to route messages or send notifications.
func (s *Server) Engine() *protocol.Engine { return s.engine }

// Initialized reports whether an initialize request has been handled.
func (s *Server) Initialized() bool { return s.initialized.Load() }

// HandleMessage routes one inbound message, returning the response to deliver
// or nil for notifications.
func (s *Server) HandleMessage(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	return s.engine.HandleMessage(ctx, msg)
}

// Run serves the transport until its receive stream ends or ctx is canceled.
// The transport is closed on the way out.
func (s *Server) Run(ctx context.Context, t Transport) error {
	s.engine.SetSendFunc(t.Send)
	defer func() {
		if err := t.Close(); err != nil {
			s.log.Warn("server.transport.close.fail", slog.String("err", err.Error()))
		}
	}()

	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("transport receive failed: %w", err)
		}
		if msg == nil {
			s.log.Info("server.transport.closed")
			return nil
		}

		resp := s.engine.HandleMessage(ctx, msg)
		if resp == nil {
			continue
		}
		if err := t.Send(ctx, jsonrpc.ResponseMessage(resp)); err != nil {
			s.log.Error("server.send.fail", slog.String("err", err.Error()))
		}
	}
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage, extra protocol.Extra) (any, error) {
	var req mcp.InitializeRequest
	if len(params) > 0 {
		// Client info is advisory; a malformed initialize still succeeds.
		if err := json.Unmarshal(params, &req); err != nil {
			s.log.WarnContext(ctx, "server.initialize.params.invalid", slog.String("err", err.Error()))
		}
	}
	s.log.InfoContext(ctx, "server.initialize",
		slog.String("client", req.ClientInfo.Name),
		slog.String("clientVersion", req.ClientInfo.Version))

	s.initialized.Store(true)

	return &mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		ServerInfo:      mcp.ImplementationInfo{Name: s.name, Version: s.version},
		Capabilities: mcp.ServerCapabilities{
			Tools: &mcp.ToolsCapability{DynamicRegistration: false},
		},
	}, nil
}

func (s *Server) handleListTools(ctx context.Context, params json.RawMessage, extra protocol.Extra) (any, error) {
	descriptors := s.registry.Descriptors()
	s.log.DebugContext(ctx, "server.tools.list", slog.Int("count", len(descriptors)))
	return &mcp.ListToolsResult{Tools: descriptors}, nil
}

// handleCallTool resolves and invokes a tool. Failures here are tool-domain
// failures expressed as isError results; the JSON-RPC exchange itself
// succeeds. Only a panic or error escaping this function becomes a -32000.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage, extra protocol.Extra) (any, error) {
	var req mcp.CallToolRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return tools.Errorf("Tool execution error: %v", err), nil
		}
	}

	if req.Name == "" {
		return tools.Errorf("Missing required parameter: 'name'"), nil
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})
	s.log.InfoContext(ctx, "server.tools.call", slog.String("id", extra.ID.String()))

	h, ok := s.registry.Lookup(req.Name)
	if !ok {
		return tools.Errorf("Tool not found: %s", req.Name), nil
	}

	result, err := s.invokeTool(ctx, h, &req)
	if err != nil {
		s.log.ErrorContext(ctx, "server.tools.call.fail", slog.String("err", err.Error()))
		return tools.Errorf("Tool execution error: %v", err), nil
	}
	if result == nil {
		result = tools.TextResult("")
	}
	return result, nil
}

// invokeTool traps panics from the tool body so a buggy tool degrades to an
// isError result instead of a protocol error.
func (s *Server) invokeTool(ctx context.Context, h tools.Handler, req *mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()
	return h(ctx, req)
}
