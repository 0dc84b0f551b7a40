package ssehttp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berrykit/berry-mcp-go/auth/authtest"
	"github.com/berrykit/berry-mcp-go/jsonrpc"
	"github.com/berrykit/berry-mcp-go/mcp"
	"github.com/berrykit/berry-mcp-go/server"
	"github.com/berrykit/berry-mcp-go/tools"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	s := server.New("sse-test", "0.0.1")
	s.Tools().Register(tools.New("add", func(ctx context.Context, args addArgs) (any, error) {
		return args.A + args.B, nil
	}))
	h := New(s.HandleMessage, opts...)
	s.Engine().SetSendFunc(h.Send)
	return h
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

// sseEvent is one parsed frame from the stream; comment frames have Comment
// set and everything else empty.
type sseEvent struct {
	Name    string
	ID      string
	Data    string
	Comment string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			return ev
		case strings.HasPrefix(line, ": "):
			ev.Comment = strings.TrimPrefix(line, ": ")
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			ev.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, baseURL string) (*bufio.Reader, func()) {
	t.Helper()
	resp, err := http.Get(baseURL + "/sse")
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	ev := readEvent(t, r)
	if ev.Name != "system" || !strings.Contains(ev.Data, `"connected"`) {
		t.Fatalf("first event = %+v, want connected system event", ev)
	}
	if !strings.HasPrefix(ev.ID, "conn_") {
		t.Fatalf("connected event id = %q", ev.ID)
	}
	return r, func() { resp.Body.Close() }
}

func TestInitializeAnsweredInline(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"c","version":"1"}}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var envelope struct {
		Result mcp.InitializeResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocolVersion = %q", envelope.Result.ProtocolVersion)
	}
}

func TestMalformedPostsRejected(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	cases := []string{
		`{not json`,
		`{"jsonrpc":"1.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":1}`,
	}
	for _, body := range cases {
		resp := postJSON(t, srv.URL+"/message", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestNotificationReturnsNoContent(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestToolCallRunsInBackground(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	stream, closeStream := openStream(t, srv.URL)
	defer closeStream()

	resp := postJSON(t, srv.URL+"/", `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"add","arguments":{"a":5,"b":3}}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	ackBytes, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(ackBytes), `"status":"accepted"`) ||
		!strings.Contains(string(ackBytes), "Request accepted for background execution") {
		t.Fatalf("ack = %s", ackBytes)
	}

	// The real result arrives on the stream.
	ev := readEvent(t, stream)
	for ev.Comment != "" {
		ev = readEvent(t, stream)
	}
	if ev.Name != "message" {
		t.Fatalf("event = %+v, want message", ev)
	}
	if ev.ID != "sse_9" {
		t.Errorf("event id = %q, want sse_9", ev.ID)
	}
	var result struct {
		Result mcp.CallToolResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(ev.Data), &result); err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if result.Result.IsError || len(result.Result.Content) != 1 || result.Result.Content[0].Text != "8" {
		t.Fatalf("result = %+v", result.Result)
	}
}

func TestOtherMethodsAcknowledgedAndBroadcast(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	stream, closeStream := openStream(t, srv.URL)
	defer closeStream()

	resp := postJSON(t, srv.URL+"/", `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"processed"`) {
		t.Fatalf("ack = %s", body)
	}

	ev := readEvent(t, stream)
	for ev.Comment != "" {
		ev = readEvent(t, stream)
	}
	if ev.Name != "message" || !strings.Contains(ev.Data, `"tools"`) {
		t.Fatalf("event = %+v, want tools/list result", ev)
	}
}

func TestNotificationBroadcastClassification(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	stream, closeStream := openStream(t, srv.URL)
	defer closeStream()

	progress, err := jsonrpc.NewNotification("notifications/progress", map[string]any{"progress": 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Send(context.Background(), jsonrpc.RequestMessage(progress)); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := readEvent(t, stream)
	if ev.Name != "progress" {
		t.Fatalf("event = %+v, want progress", ev)
	}

	system, err := jsonrpc.NewNotification("notifications/message", map[string]any{"level": "info"})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Send(context.Background(), jsonrpc.RequestMessage(system)); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev = readEvent(t, stream)
	if ev.Name != "system" {
		t.Fatalf("event = %+v, want system", ev)
	}
}

func TestKeepAliveComment(t *testing.T) {
	h := newTestHandler(t, WithKeepAlive(30*time.Millisecond))
	srv := httptest.NewServer(h)
	defer srv.Close()

	stream, closeStream := openStream(t, srv.URL)
	defer closeStream()

	ev := readEvent(t, stream)
	if !strings.HasPrefix(ev.Comment, "keep-alive") {
		t.Fatalf("event = %+v, want keep-alive comment", ev)
	}
}

func TestPing(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status           string `json:"status"`
		Timestamp        int64  `json:"timestamp"`
		ConnectedClients int    `json:"connected_clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Timestamp == 0 {
		t.Fatalf("body = %+v", body)
	}
	if body.ConnectedClients != 0 {
		t.Errorf("connected_clients = %d, want 0", body.ConnectedClients)
	}
}

func TestBearerAuthEnforced(t *testing.T) {
	h := newTestHandler(t, WithAuthenticator(authtest.NewStatic(map[string]string{"good-token": "u1"})))
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer good-token")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusAccepted {
		t.Fatalf("authorized status = %d, want 202", authed.StatusCode)
	}

	// Liveness stays open without credentials.
	ping, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	ping.Body.Close()
	if ping.StatusCode != http.StatusOK {
		t.Fatalf("ping status = %d", ping.StatusCode)
	}
}

func TestAuthorizationHeaderParsing(t *testing.T) {
	h := newTestHandler(t, WithAuthenticator(authtest.NewStatic(map[string]string{"good-token": "u1"})))
	srv := httptest.NewServer(h)
	defer srv.Close()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no separator", "Bearergood-token", http.StatusUnauthorized},
		{"wrong scheme", "Basic good-token", http.StatusUnauthorized},
		{"scheme only", "Bearer", http.StatusUnauthorized},
		{"case-insensitive scheme", "bearer good-token", http.StatusAccepted},
		{"well formed", "Bearer good-token", http.StatusAccepted},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", tc.header)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestCloseBroadcastsShutdown(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	stream, closeStream := openStream(t, srv.URL)
	defer closeStream()

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ev := readEvent(t, stream)
	for ev.Comment != "" {
		ev = readEvent(t, stream)
	}
	if ev.Name != "system" || !strings.Contains(ev.Data, `"shutdown"`) {
		t.Fatalf("event = %+v, want shutdown system event", ev)
	}
	if !strings.HasPrefix(ev.ID, "shut_") {
		t.Errorf("event id = %q", ev.ID)
	}

	// Sends after close are dropped without error.
	note, err := jsonrpc.NewNotification("notifications/message", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Send(context.Background(), jsonrpc.RequestMessage(note)); err != nil {
		t.Fatalf("send after close: %v", err)
	}
}
