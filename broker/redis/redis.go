// Package redis provides a Redis Streams implementation of broker.Broker.
// It gives multi-instance deployments namespace-isolated, ordered delivery
// with resume-from-last-event-id semantics.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/berrykit/berry-mcp-go/broker"
	"github.com/berrykit/berry-mcp-go/jsonrpc"
)

// Broker implements broker.Broker on top of Redis Streams.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Config contains configuration options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. If nil, a default localhost client
	// is created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to all Redis keys used by the broker.
	// Defaults to "mcp:broker:" if empty.
	KeyPrefix string
}

// New creates a Redis-backed broker.
func New(config Config) *Broker {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "mcp:broker:"
	}

	return &Broker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var _ broker.Broker = (*Broker)(nil)

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Publish implements broker.Broker. Redis generates the event id.
func (b *Broker) Publish(ctx context.Context, namespace, origin string, msg jsonrpc.Message) (string, error) {
	streamKey := b.streamKey(namespace)

	eventID, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{
			"origin": origin,
			"data":   []byte(msg),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish message to stream %s: %w", streamKey, err)
	}

	return eventID, nil
}

// Subscribe implements broker.Broker. An empty lastEventID starts at the next
// published message; otherwise delivery resumes after that id. Reads go
// through XRead without a consumer group so every subscriber sees every
// message.
func (b *Broker) Subscribe(ctx context.Context, namespace, lastEventID string, handler broker.MessageHandler) error {
	streamKey := b.streamKey(namespace)

	startID := "$"
	if lastEventID != "" {
		startID = lastEventID
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Block for a second at a time so context cancellation is noticed.
		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, startID},
			Count:   1,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				data, ok := message.Values["data"].(string)
				if !ok {
					// Skip malformed entries and keep reading.
					startID = message.ID
					continue
				}
				origin, _ := message.Values["origin"].(string)

				env := broker.Envelope{
					ID:     message.ID,
					Origin: origin,
					Data:   []byte(data),
				}
				if err := handler(ctx, env); err != nil {
					return err
				}

				startID = message.ID
			}
		}
	}
}

// Cleanup implements broker.Broker by deleting the namespace's stream.
func (b *Broker) Cleanup(ctx context.Context, namespace string) error {
	streamKey := b.streamKey(namespace)

	if err := b.client.Del(ctx, streamKey).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to cleanup namespace %s: %w", namespace, err)
	}
	return nil
}

func (b *Broker) streamKey(namespace string) string {
	return b.keyPrefix + "stream:" + namespace
}
