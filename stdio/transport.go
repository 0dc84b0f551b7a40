package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/berrykit/berry-mcp-go/jsonrpc"
)

// maxLineBytes bounds a single inbound message. One megabyte is far beyond
// any reasonable tool call and keeps a runaway peer from exhausting memory.
const maxLineBytes = 1 << 20

// errLineTooLong reports an inbound line over maxLineBytes. The line is
// discarded through its terminating newline so the stream stays in sync.
var errLineTooLong = errors.New("line exceeds maximum length")

// Transport is a single-connection stdio transport. It reads newline-delimited
// JSON-RPC messages from an io.Reader and writes responses, one per line, to
// an io.Writer. By default it uses os.Stdin and os.Stdout.
//
// The transport is wire-only; all protocol semantics live in the caller's
// message handler. A line that fails to parse, or that exceeds maxLineBytes,
// is answered directly with a -32700 response carrying a null id and never
// reaches the caller.
type Transport struct {
	r   *bufio.Reader
	w   writerState
	log *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once

	// queue decouples the reader goroutine from Receive so reads never
	// block on a slow consumer. closed is signaled by closing inbound.
	inbound chan *jsonrpc.AnyMessage
	done    chan struct{}
}

type writerState struct {
	mu sync.Mutex
	w  io.Writer
}

// New constructs a Transport with defaults and applies options.
func New(opts ...Option) *Transport {
	t := &Transport{
		log:  slog.Default(),
		done: make(chan struct{}),
	}
	cfg := config{r: os.Stdin, w: os.Stdout, log: t.log}
	for _, opt := range opts {
		opt(&cfg)
	}
	t.log = cfg.log
	t.r = bufio.NewReader(cfg.r)
	t.w.w = cfg.w
	return t
}

// Start launches the background reader. It is safe to call more than once;
// only the first call has effect.
func (t *Transport) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.inbound = make(chan *jsonrpc.AnyMessage)
		go t.readLoop(ctx)
	})
}

// readLoop reads lines until EOF or a read error, parsing each into a message.
// A partial final line without a trailing newline is still delivered, so a
// peer that exits mid-write cannot wedge Receive. Oversized lines are skipped
// in place; they never terminate the loop.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.inbound)

	for {
		line, err := t.readLine()
		if errors.Is(err, errLineTooLong) {
			t.log.Warn("stdio.read.line_too_long", slog.Int("limit", maxLineBytes))
			t.answerParseError(ctx, fmt.Sprintf("Parse error: message exceeds %d bytes", maxLineBytes))
			continue
		}

		if len(trimSpace(line)) > 0 {
			var msg jsonrpc.AnyMessage
			if uerr := json.Unmarshal(line, &msg); uerr != nil {
				t.log.Warn("stdio.read.invalid_json", slog.String("err", uerr.Error()))
				t.answerParseError(ctx, fmt.Sprintf("Parse error: %v", uerr))
			} else {
				select {
				case t.inbound <- &msg:
				case <-ctx.Done():
					return
				case <-t.done:
					return
				}
			}
		}

		if err != nil {
			if err != io.EOF {
				t.log.Warn("stdio.read.err", slog.String("err", err.Error()))
			}
			return
		}
	}
}

// readLine reads one newline-terminated line, bounding it at maxLineBytes. A
// final unterminated line is returned alongside io.EOF. An oversized line is
// consumed through its newline and reported as errLineTooLong.
func (t *Transport) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := t.r.ReadSlice('\n')
		buf = append(buf, chunk...)

		if err == bufio.ErrBufferFull {
			if len(buf) > maxLineBytes {
				return nil, t.discardLine()
			}
			continue
		}
		return buf, err
	}
}

// discardLine drains the remainder of an oversized line.
func (t *Transport) discardLine() error {
	for {
		_, err := t.r.ReadSlice('\n')
		switch err {
		case bufio.ErrBufferFull:
			continue
		case nil, io.EOF:
			return errLineTooLong
		default:
			return err
		}
	}
}

// answerParseError emits a -32700 response with a null id directly on the
// outbound channel.
func (t *Transport) answerParseError(ctx context.Context, message string) {
	resp := jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, message, nil)
	if err := t.Send(ctx, jsonrpc.ResponseMessage(resp)); err != nil {
		t.log.Error("stdio.read.parse_error_send_failed", slog.String("err", err.Error()))
	}
}

// Receive blocks until the next inbound message. It returns (nil, nil) once
// the input stream has been exhausted or the transport closed; callers treat
// that as the connection shutdown signal.
func (t *Transport) Receive(ctx context.Context) (*jsonrpc.AnyMessage, error) {
	t.Start(ctx)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, nil
	case msg, ok := <-t.inbound:
		if !ok {
			return nil, nil
		}
		return msg, nil
	}
}

// Send serializes msg followed by a newline. Concurrent senders are
// serialized so lines never interleave.
func (t *Transport) Send(ctx context.Context, msg *jsonrpc.AnyMessage) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	data = append(data, '\n')

	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if _, err := t.w.w.Write(data); err != nil {
		return fmt.Errorf("failed to write outbound message: %w", err)
	}
	return nil
}

// Close releases the transport. Pending Receive calls observe the shutdown
// sentinel even while the reader is still blocked on input.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
