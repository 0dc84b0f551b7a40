// Package broker defines the cross-instance broadcast relay used by the SSE
// transport. A broker carries serialized JSON-RPC messages between server
// instances so that a broadcast reaches SSE clients connected anywhere, not
// just to the publishing process.
package broker

import (
	"context"

	"github.com/berrykit/berry-mcp-go/jsonrpc"
)

// Envelope wraps a published message with its delivery metadata.
type Envelope struct {
	// ID is unique and monotonically increasing within a namespace.
	ID string `json:"id"`
	// Origin identifies the publishing instance, letting subscribers skip
	// their own messages.
	Origin string `json:"origin,omitempty"`
	// Data is the serialized JSON-RPC message.
	Data []byte `json:"data"`
}

// MessageHandler consumes one envelope. Returning an error terminates the
// subscription.
type MessageHandler func(ctx context.Context, env Envelope) error

// Broker provides namespace-isolated, ordered publish/subscribe delivery.
type Broker interface {
	// Publish stores and fans out a message within a namespace, returning
	// the generated event id.
	Publish(ctx context.Context, namespace, origin string, msg jsonrpc.Message) (eventID string, err error)

	// Subscribe blocks, invoking handler for every message published to the
	// namespace after lastEventID (or after the subscription when empty),
	// until ctx is done or handler returns an error.
	Subscribe(ctx context.Context, namespace, lastEventID string, handler MessageHandler) error

	// Cleanup removes all resources associated with a namespace.
	Cleanup(ctx context.Context, namespace string) error
}
