package ssehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/berrykit/berry-mcp-go/auth"
	"github.com/berrykit/berry-mcp-go/broker"
	"github.com/berrykit/berry-mcp-go/internal/logctx"
	"github.com/berrykit/berry-mcp-go/jsonrpc"
	"github.com/berrykit/berry-mcp-go/mcp"
)

// maxBodyBytes bounds an inbound POST body.
const maxBodyBytes = 1 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

// MessageHandler processes one inbound JSON-RPC message, returning the
// response to deliver or nil for notifications. The server's HandleMessage
// satisfies this.
type MessageHandler func(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response

// Handler is the HTTP/SSE transport. It serves:
//
//	POST /         inbound JSON-RPC (primary endpoint)
//	POST /message  inbound JSON-RPC (alternative endpoint)
//	POST /sse      inbound JSON-RPC (client compatibility alias)
//	GET  /sse      the outbound event stream
//	GET  /ping     liveness probe
type Handler struct {
	handle MessageHandler
	log    *slog.Logger
	mux    *http.ServeMux

	auth       auth.Authenticator
	brk        broker.Broker
	namespace  string
	instanceID string

	keepAlive       time.Duration
	enqueueTimeout  time.Duration
	shutdownTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*sseClient
	closed  atomic.Bool
}

// New constructs the transport around a message handler.
func New(handle MessageHandler, opts ...Option) *Handler {
	cfg := config{
		log:             slog.Default(),
		keepAlive:       15 * time.Second,
		enqueueTimeout:  500 * time.Millisecond,
		shutdownTimeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Handler{
		handle:          handle,
		log:             slog.New(logctx.Handler{Handler: cfg.log.Handler()}),
		auth:            cfg.auth,
		brk:             cfg.broker,
		namespace:       cfg.namespace,
		instanceID:      uuid.NewString(),
		keepAlive:       cfg.keepAlive,
		enqueueTimeout:  cfg.enqueueTimeout,
		shutdownTimeout: cfg.shutdownTimeout,
		clients:         make(map[string]*sseClient),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", h.handleMessage)
	mux.HandleFunc("POST /message", h.handleMessage)
	mux.HandleFunc("POST /sse", h.handleMessage)
	mux.HandleFunc("GET /sse", h.handleStream)
	mux.HandleFunc("GET /ping", h.handlePing)
	h.mux = mux
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// authorize enforces bearer token auth when configured. It writes the 401
// itself and reports whether the request may proceed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.auth == nil {
		return true
	}

	tok := bearerToken(r.Header.Get("Authorization"))
	_, err := h.auth.CheckAuthentication(r.Context(), tok)
	if err != nil {
		h.log.WarnContext(r.Context(), "http.auth.fail", slog.String("err", err.Error()))
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

// bearerToken extracts the token from an Authorization header. The scheme
// must be Bearer (case-insensitive, space-separated); any other scheme or a
// missing separator yields an empty token, which the authenticator rejects.
func bearerToken(header string) string {
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}

// handleMessage accepts one JSON-RPC message over POST and dispatches it
// according to its method. Apart from initialize, protocol results are never
// returned in the HTTP body; they go out over the SSE stream.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})

	if !h.authorize(w, r) {
		return
	}

	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			h.log.WarnContext(ctx, "http.post.content_type.unsupported")
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "content-type must be application/json"})
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var msg jsonrpc.AnyMessage
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		h.log.WarnContext(ctx, "http.post.invalid_json", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid JSON: %v", err)})
		return
	}

	if msg.JSONRPCVersion != jsonrpc.ProtocolVersion {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON-RPC structure"})
		return
	}
	if msg.Method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing method parameter"})
		return
	}

	h.log.InfoContext(ctx, "http.post.recv",
		slog.String("method", msg.Method),
		slog.String("id", msg.ID.String()))

	switch msg.Method {
	case string(mcp.InitializeMethod):
		// The client needs this result before anything else; answer inline.
		resp := h.handle(ctx, &msg)
		if resp == nil {
			writeJSON(w, http.StatusInternalServerError,
				jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeServerError, "Initialize failed", nil))
			return
		}
		writeJSON(w, http.StatusOK, jsonrpc.ResponseMessage(resp))

	case string(mcp.ToolsCallMethod):
		// Tool execution time is unbounded; run it off the request cycle and
		// deliver the result over the stream.
		bgCtx := context.WithoutCancel(ctx)
		go h.runBackground(bgCtx, &msg)

		ack, err := jsonrpc.NewResultResponse(msg.ID, ackBody{
			Status:  "accepted",
			Message: "Request accepted for background execution",
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
		writeJSON(w, http.StatusAccepted, jsonrpc.ResponseMessage(ack))

	default:
		resp := h.handle(ctx, &msg)
		if resp == nil && msg.ID.IsNil() {
			// Notification processed, nothing to deliver.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if resp != nil {
			if err := h.Send(ctx, jsonrpc.ResponseMessage(resp)); err != nil {
				h.log.ErrorContext(ctx, "http.post.broadcast.fail", slog.String("err", err.Error()))
			}
		}

		ack, err := jsonrpc.NewResultResponse(msg.ID, ackBody{
			Status:  "processed",
			Message: "Request processed",
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
		writeJSON(w, http.StatusAccepted, jsonrpc.ResponseMessage(ack))
	}
}

// runBackground executes a message handler off the HTTP cycle and pushes the
// outcome to the stream. A handler that yields nothing still produces an
// acknowledgement so the caller can observe completion.
func (h *Handler) runBackground(ctx context.Context, msg *jsonrpc.AnyMessage) {
	h.log.InfoContext(ctx, "http.background.start",
		slog.String("method", msg.Method),
		slog.String("id", msg.ID.String()))

	defer func() {
		if r := recover(); r != nil {
			h.log.ErrorContext(ctx, "http.background.panic", slog.String("panic", fmt.Sprintf("%v", r)))
			failed := jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeServerError,
				fmt.Sprintf("Background execution failed: %v", r), nil)
			_ = h.Send(ctx, jsonrpc.ResponseMessage(failed))
		}
	}()

	resp := h.handle(ctx, msg)
	if resp == nil {
		done, err := jsonrpc.NewResultResponse(msg.ID, ackBody{
			Status:  "processed",
			Message: "Background task completed",
		})
		if err != nil {
			return
		}
		resp = done
	}

	if err := h.Send(ctx, jsonrpc.ResponseMessage(resp)); err != nil {
		h.log.ErrorContext(ctx, "http.background.broadcast.fail", slog.String("err", err.Error()))
	}
}

// handlePing reports liveness and the size of the broadcast roster.
func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"timestamp":         time.Now().Unix(),
		"connected_clients": n,
	})
}

// ackBody is the result payload of a 202 acknowledgement envelope.
type ackBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
