package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/berrykit/berry-mcp-go/jsonrpc"
)

func TestReceiveDeliversLinesInOrder(t *testing.T) {
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"first"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"second"}` + "\n")
	tr := New(WithIO(in, io.Discard))
	defer tr.Close()

	ctx := context.Background()
	msg, err := tr.Receive(ctx)
	if err != nil || msg == nil {
		t.Fatalf("receive: msg=%v err=%v", msg, err)
	}
	if msg.Method != "first" {
		t.Fatalf("method = %q, want first", msg.Method)
	}
	msg, err = tr.Receive(ctx)
	if err != nil || msg == nil {
		t.Fatalf("receive: msg=%v err=%v", msg, err)
	}
	if msg.Method != "second" {
		t.Fatalf("method = %q, want second", msg.Method)
	}

	// Stream exhausted: nil sentinel, no error.
	msg, err = tr.Receive(ctx)
	if msg != nil || err != nil {
		t.Fatalf("expected shutdown sentinel, got msg=%v err=%v", msg, err)
	}
}

func TestMalformedLineAnswersParseError(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("{this is not json\n" +
		`{"jsonrpc":"2.0","id":7,"method":"ok"}` + "\n")
	tr := New(WithIO(in, &out))
	defer tr.Close()

	ctx := context.Background()
	msg, err := tr.Receive(ctx)
	if err != nil || msg == nil {
		t.Fatalf("receive: msg=%v err=%v", msg, err)
	}
	if msg.Method != "ok" {
		t.Fatalf("valid message after bad line not delivered: %+v", msg)
	}

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   *jsonrpc.Error  `json:"error"`
	}
	line, readErr := bufio.NewReader(&out).ReadBytes('\n')
	if readErr != nil {
		t.Fatalf("reading parse error response: %v", readErr)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("error = %+v, want code %d", resp.Error, jsonrpc.ErrorCodeParseError)
	}
	if !strings.HasPrefix(resp.Error.Message, "Parse error") {
		t.Fatalf("message = %q, want Parse error prefix", resp.Error.Message)
	}
	if resp.ID == nil || string(resp.ID) != "null" {
		t.Fatalf("id = %v, want explicit null", resp.ID)
	}
}

func TestEOFWithoutTrailingNewline(t *testing.T) {
	// The writer side goes away mid-stream; the final partial line is still a
	// complete JSON document and must be delivered, then shutdown signaled.
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"last"}`)
	tr := New(WithIO(in, io.Discard))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := tr.Receive(ctx)
	if err != nil || msg == nil || msg.Method != "last" {
		t.Fatalf("receive: msg=%v err=%v", msg, err)
	}
	msg, err = tr.Receive(ctx)
	if msg != nil || err != nil {
		t.Fatalf("expected shutdown sentinel after EOF, got msg=%v err=%v", msg, err)
	}
}

func TestEmptyLinesSkipped(t *testing.T) {
	in := strings.NewReader("\n   \n" + `{"jsonrpc":"2.0","id":1,"method":"only"}` + "\n\n")
	tr := New(WithIO(in, io.Discard))
	defer tr.Close()

	ctx := context.Background()
	msg, err := tr.Receive(ctx)
	if err != nil || msg == nil || msg.Method != "only" {
		t.Fatalf("receive: msg=%v err=%v", msg, err)
	}
	msg, err = tr.Receive(ctx)
	if msg != nil || err != nil {
		t.Fatalf("expected shutdown sentinel, got msg=%v err=%v", msg, err)
	}
}

func TestSendWritesOneLine(t *testing.T) {
	var out bytes.Buffer
	tr := New(WithIO(strings.NewReader(""), &out))
	defer tr.Close()

	resp, err := jsonrpc.NewResultResponse(jsonrpc.NewRequestID(int64(3)), map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	if err := tr.Send(context.Background(), jsonrpc.ResponseMessage(resp)); err != nil {
		t.Fatalf("send: %v", err)
	}

	s := out.String()
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("output missing trailing newline: %q", s)
	}
	if strings.Count(s, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", s)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Fatalf("jsonrpc = %v, want 2.0", decoded["jsonrpc"])
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	// The peer never writes anything, so the reader stays blocked on input.
	// Close alone must still resolve a pending Receive with the shutdown
	// sentinel.
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := New(WithIO(pr, io.Discard))

	type result struct {
		msg *jsonrpc.AnyMessage
		err error
	}
	got := make(chan result, 1)
	go func() {
		msg, err := tr.Receive(context.Background())
		got <- result{msg, err}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case r := <-got:
		if r.msg != nil || r.err != nil {
			t.Fatalf("expected shutdown sentinel, got msg=%v err=%v", r.msg, r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive still blocked after Close")
	}
}

func TestOversizedLineAnswersParseError(t *testing.T) {
	// One line over the limit must be answered with -32700 and skipped; the
	// stream resyncs and the next message still arrives.
	var out bytes.Buffer
	huge := strings.Repeat("x", maxLineBytes+1)
	in := strings.NewReader(huge + "\n" +
		`{"jsonrpc":"2.0","id":4,"method":"after"}` + "\n")
	tr := New(WithIO(in, &out))
	defer tr.Close()

	ctx := context.Background()
	msg, err := tr.Receive(ctx)
	if err != nil || msg == nil {
		t.Fatalf("receive: msg=%v err=%v", msg, err)
	}
	if msg.Method != "after" {
		t.Fatalf("message after oversized line not delivered: %+v", msg)
	}

	var resp struct {
		ID    json.RawMessage `json:"id"`
		Error *jsonrpc.Error  `json:"error"`
	}
	line, readErr := bufio.NewReader(&out).ReadBytes('\n')
	if readErr != nil {
		t.Fatalf("reading parse error response: %v", readErr)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("error = %+v, want code %d", resp.Error, jsonrpc.ErrorCodeParseError)
	}
	if !strings.HasPrefix(resp.Error.Message, "Parse error") {
		t.Fatalf("message = %q, want Parse error prefix", resp.Error.Message)
	}
	if resp.ID == nil || string(resp.ID) != "null" {
		t.Fatalf("id = %v, want explicit null", resp.ID)
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := New(WithIO(pr, io.Discard))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Receive(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
