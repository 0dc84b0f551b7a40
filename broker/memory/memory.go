// Package memory provides an in-process implementation of broker.Broker
// backed by Go channels. Suitable for single-node deployments and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/berrykit/berry-mcp-go/broker"
	"github.com/berrykit/berry-mcp-go/jsonrpc"
)

// subscriberBuffer bounds each subscription's channel. A subscriber that
// falls this far behind starts losing messages rather than blocking
// publishers, mirroring the SSE per-client queue policy.
const subscriberBuffer = 100

// Broker implements broker.Broker with in-memory per-namespace queues.
type Broker struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	counter    atomic.Int64
}

type namespace struct {
	mu       sync.Mutex
	closed   bool
	history  []broker.Envelope
	subs     map[*subscriber]struct{}
}

type subscriber struct {
	ch chan broker.Envelope
}

// New creates a memory broker.
func New() *Broker {
	return &Broker{namespaces: make(map[string]*namespace)}
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) ns(name string) *namespace {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.namespaces[name]
	if !ok {
		n = &namespace{subs: make(map[*subscriber]struct{})}
		b.namespaces[name] = n
	}
	return n
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, namespaceName, origin string, msg jsonrpc.Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	env := broker.Envelope{
		ID:     strconv.FormatInt(b.counter.Add(1), 10),
		Origin: origin,
		Data:   append([]byte(nil), msg...),
	}

	n := b.ns(namespaceName)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return "", fmt.Errorf("namespace %q has been cleaned up", namespaceName)
	}

	n.history = append(n.history, env)
	for sub := range n.subs {
		select {
		case sub.ch <- env:
		default:
			// Full channel: the slow subscriber loses this message.
		}
	}
	return env.ID, nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, namespaceName, lastEventID string, handler broker.MessageHandler) error {
	n := b.ns(namespaceName)

	sub := &subscriber{ch: make(chan broker.Envelope, subscriberBuffer)}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("namespace %q has been cleaned up", namespaceName)
	}
	// Replay history past lastEventID before going live.
	var backlog []broker.Envelope
	if lastEventID != "" {
		start := -1
		for i, env := range n.history {
			if env.ID == lastEventID {
				start = i + 1
				break
			}
		}
		if start >= 0 {
			backlog = append(backlog, n.history[start:]...)
		}
	}
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.subs, sub)
		n.mu.Unlock()
	}()

	for _, env := range backlog {
		if err := handler(ctx, env); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-sub.ch:
			if err := handler(ctx, env); err != nil {
				return err
			}
		}
	}
}

// Cleanup implements broker.Broker.
func (b *Broker) Cleanup(ctx context.Context, namespaceName string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.mu.Lock()
	n, ok := b.namespaces[namespaceName]
	if ok {
		delete(b.namespaces, namespaceName)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	n.mu.Lock()
	n.closed = true
	n.history = nil
	n.subs = make(map[*subscriber]struct{})
	n.mu.Unlock()
	return nil
}
