package ssehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/berrykit/berry-mcp-go/broker"
	"github.com/berrykit/berry-mcp-go/jsonrpc"
)

// clientQueueSize bounds each connected client's event queue. A client that
// falls this far behind starts losing events rather than slowing the sender.
const clientQueueSize = 100

// event is one frame on a client's stream. A comment frame carries no data
// and is used for keep-alive heartbeats.
type event struct {
	name    string
	id      string
	data    []byte
	comment string
	// last marks the stream's final frame; the serving loop exits after it.
	last bool
}

type sseClient struct {
	id string
	ch chan event
}

var eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

// handleStream serves one long-lived SSE connection.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err != nil {
			http.Error(w, "stream requires Accept: text/event-stream", http.StatusNotAcceptable)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := &sseClient{
		id: uuid.NewString(),
		ch: make(chan event, clientQueueSize),
	}
	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Info("sse.client.connect",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("total", total))

	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		remaining := len(h.clients)
		h.mu.Unlock()
		h.log.Info("sse.client.disconnect", slog.Int("remaining", remaining))
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	connected, _ := json.Marshal(map[string]string{
		"type":    "connected",
		"message": "SSE connection established",
	})
	writeEvent(w, flusher, event{
		name: "system",
		id:   "conn_" + shortID(),
		data: connected,
	})

	keepAlive := time.NewTimer(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-client.ch:
			writeEvent(w, flusher, ev)
			if ev.last {
				return
			}
		case <-keepAlive.C:
			writeEvent(w, flusher, event{
				comment: fmt.Sprintf("keep-alive ts=%d", time.Now().Unix()),
			})
		}
		if !keepAlive.Stop() {
			select {
			case <-keepAlive.C:
			default:
			}
		}
		keepAlive.Reset(h.keepAlive)
	}
}

// writeEvent emits one SSE frame and flushes it.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev event) {
	if ev.comment != "" {
		fmt.Fprintf(w, ": %s\n\n", ev.comment)
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", ev.name, ev.id, ev.data)
	flusher.Flush()
}

// Send broadcasts a message to every connected client and, when a broker is
// configured, relays it to the other instances' rosters. It satisfies the
// protocol engine's SendFunc so server-initiated notifications flow out here.
func (h *Handler) Send(ctx context.Context, msg *jsonrpc.AnyMessage) error {
	if h.closed.Load() {
		return nil
	}

	data, err := msg.Encode()
	if err != nil {
		h.log.ErrorContext(ctx, "sse.send.marshal.fail", slog.String("err", err.Error()))
		return fmt.Errorf("failed to serialize SSE payload: %w", err)
	}

	h.deliver(ctx, msg, []byte(data))

	if h.brk != nil {
		if _, err := h.brk.Publish(ctx, h.namespace, h.instanceID, data); err != nil {
			h.log.ErrorContext(ctx, "sse.relay.publish.fail", slog.String("err", err.Error()))
		}
	}
	return nil
}

// deliver fans one serialized message out to the local roster.
func (h *Handler) deliver(ctx context.Context, msg *jsonrpc.AnyMessage, data []byte) {
	ev := event{
		name: classify(msg),
		id:   trackID(msg),
		data: data,
	}

	h.mu.Lock()
	targets := make([]*sseClient, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.ch <- ev:
		case <-time.After(h.enqueueTimeout):
			// A slow client loses this event; everyone else is unaffected.
			h.log.WarnContext(ctx, "sse.send.client.drop", slog.String("event_id", ev.id))
		}
	}
}

// classify maps a message to its SSE event name: progress notifications get
// their own stream, other notifications are system events, everything else
// (responses, requests) is a plain message.
func classify(msg *jsonrpc.AnyMessage) string {
	switch {
	case msg.Method == "notifications/progress":
		return "progress"
	case strings.HasPrefix(msg.Method, "notifications/"):
		return "system"
	default:
		return "message"
	}
}

// trackID derives the SSE event id from the message id when present.
func trackID(msg *jsonrpc.AnyMessage) string {
	if !msg.ID.IsNil() {
		return "sse_" + msg.ID.String()
	}
	return "sse_" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// RunRelay subscribes to the configured broker namespace and delivers
// envelopes published by other instances to the local roster. It blocks until
// ctx is done. With no broker configured it returns immediately.
func (h *Handler) RunRelay(ctx context.Context) error {
	if h.brk == nil {
		return nil
	}

	err := h.brk.Subscribe(ctx, h.namespace, "", func(ctx context.Context, env broker.Envelope) error {
		if env.Origin == h.instanceID {
			// Already delivered locally at publish time.
			return nil
		}
		var msg jsonrpc.AnyMessage
		if uerr := json.Unmarshal(env.Data, &msg); uerr != nil {
			h.log.WarnContext(ctx, "sse.relay.decode.fail", slog.String("err", uerr.Error()))
			return nil
		}
		h.deliver(ctx, &msg, env.Data)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("broker relay terminated: %w", err)
	}
	return nil
}

// Close broadcasts a shutdown event to every client, bounded per client, then
// clears the roster. Safe to call more than once.
func (h *Handler) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.log.Info("sse.close")

	payload, _ := json.Marshal(map[string]string{
		"type":   "shutdown",
		"reason": "server_stopping",
	})
	ev := event{
		name: "system",
		id:   "shut_" + shortID(),
		data: payload,
		last: true,
	}

	h.mu.Lock()
	targets := make([]*sseClient, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[string]*sseClient)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *sseClient) {
			defer wg.Done()
			select {
			case c.ch <- ev:
			case <-time.After(h.shutdownTimeout):
			}
		}(c)
	}
	wg.Wait()
	return nil
}
