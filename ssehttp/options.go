package ssehttp

import (
	"log/slog"
	"time"

	"github.com/berrykit/berry-mcp-go/auth"
	"github.com/berrykit/berry-mcp-go/broker"
)

type config struct {
	log             *slog.Logger
	auth            auth.Authenticator
	broker          broker.Broker
	namespace       string
	keepAlive       time.Duration
	enqueueTimeout  time.Duration
	shutdownTimeout time.Duration
}

// Option customizes a Handler.
type Option func(*config)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithAuthenticator requires a valid bearer token on the message and stream
// endpoints. The ping endpoint stays open for liveness probes.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *config) { c.auth = a }
}

// WithBroker relays broadcasts through a broker namespace so SSE clients
// connected to other instances receive them too.
func WithBroker(b broker.Broker, namespace string) Option {
	return func(c *config) {
		c.broker = b
		c.namespace = namespace
	}
}

// WithKeepAlive overrides the stream heartbeat interval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.keepAlive = d
		}
	}
}

// WithEnqueueTimeout overrides how long a broadcast waits on a slow client
// before dropping the event for that client.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.enqueueTimeout = d
		}
	}
}
