package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/realtime"
)

// RedisFeed publishes change envelopes to Redis pub/sub and relays other nodes' envelopes
// into a local publisher.
type RedisFeed struct {
	client *redis.Client
	prefix string
	relay  relay
	logger zerolog.Logger
}

// NewRedisFeed constructs a Redis feed using channels named "<prefix>:<table>".
func NewRedisFeed(client *redis.Client, prefix, nodeID string, target Publisher, logger zerolog.Logger) *RedisFeed {
	logger = logger.With().Str("component", "feed_redis").Logger()
	return &RedisFeed{
		client: client,
		prefix: prefix,
		relay:  relay{transport: "redis", nodeID: nodeID, target: target, logger: logger},
		logger: logger,
	}
}

func (f *RedisFeed) channel(record realtime.RecordKind) string {
	return f.prefix + ":" + string(record)
}

// Publish implements Publisher.
func (f *RedisFeed) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	payload, err := realtime.Encode(event, f.relay.nodeID)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel(event.Record), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Start subscribes to the message and notification channels and relays until ctx is done.
// It returns once the subscription is confirmed.
func (f *RedisFeed) Start(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel(realtime.RecordMessage), f.channel(realtime.RecordNotification))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				f.logger.Error().Err(err).Msg("change feed redis subscription closed")
				return
			}
			f.relay.deliver(ctx, []byte(msg.Payload))
		}
	}()
	return nil
}
